package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	JWT    JWTConfig
	HTTP   HTTPConfig
	AFIP   AFIPConfig
	Worker WorkerConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
	Store    string // postgres | memory
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	AppName     string // application_name de las conexiones
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// RedisConfig estado compartido entre instancias. URL vacía = almacenes en memoria (una sola instancia).
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AFIPConfig timeouts, umbrales de circuit breaker y modo pánico, backoff.
type AFIPConfig struct {
	CredentialsDir string // base para rutas de certificado relativas
	AuthTimeout    time.Duration
	WSFETimeout    time.Duration
	PadronTimeout  time.Duration
	HealthProbe    bool // FEDummy antes de cada envío
	TokenMargin    time.Duration

	CircuitFailureThreshold int
	CircuitOpenTimeout      time.Duration
	CircuitProbeInterval    time.Duration

	PanicMaxQueueDepth  int
	PanicMaxLatency     time.Duration
	PanicMaxCircuitOpen time.Duration
	PanicWindow         time.Duration

	Backoff          []time.Duration
	TaxpayerCacheTTL time.Duration
}

// WorkerConfig pool de workers y limitador por organización.
type WorkerConfig struct {
	Enabled         bool
	ID              string
	Concurrency     int
	PollInterval    time.Duration
	Lease           time.Duration
	RatePerMinute   int
	Burst           int
	MonitorInterval time.Duration
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, REDIS_URL, AFIP_WSFE_TIMEOUT, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	backoff, err := getDurations(v, "AFIP_BACKOFF", "30s,2m,5m,15m,30m")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "afip-core"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
			Store:    getString(v, "STORE_DRIVER", "postgres"),
		},
		DB: DBConfig{
			AppName:     getString(v, "APP_NAME", "afip-core"),
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "afip_core"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    getInt(v, "DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			URL:       getString(v, "REDIS_URL", ""),
			KeyPrefix: getString(v, "REDIS_KEY_PREFIX", "afip"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "afip-core"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		AFIP: AFIPConfig{
			CredentialsDir: getString(v, "CREDENTIALS_DIR", ""),
			AuthTimeout:    getDuration(v, "AFIP_AUTH_TIMEOUT", 30*time.Second),
			WSFETimeout:    getDuration(v, "AFIP_WSFE_TIMEOUT", 30*time.Second),
			PadronTimeout:  getDuration(v, "AFIP_PADRON_TIMEOUT", 20*time.Second),
			HealthProbe:    getBool(v, "AFIP_HEALTH_PROBE", false),
			TokenMargin:    getDuration(v, "AFIP_TOKEN_MARGIN", 10*time.Minute),

			CircuitFailureThreshold: getInt(v, "AFIP_CIRCUIT_FAILURES", 5),
			CircuitOpenTimeout:      getDuration(v, "AFIP_CIRCUIT_OPEN_TIMEOUT", 5*time.Minute),
			CircuitProbeInterval:    getDuration(v, "AFIP_CIRCUIT_PROBE_INTERVAL", 30*time.Second),

			PanicMaxQueueDepth:  getInt(v, "AFIP_PANIC_MAX_QUEUE", 100),
			PanicMaxLatency:     getDuration(v, "AFIP_PANIC_MAX_LATENCY", 5*time.Minute),
			PanicMaxCircuitOpen: getDuration(v, "AFIP_PANIC_MAX_CIRCUIT_OPEN", 15*time.Minute),
			PanicWindow:         getDuration(v, "AFIP_PANIC_WINDOW", 5*time.Minute),

			Backoff:          backoff,
			TaxpayerCacheTTL: getDuration(v, "AFIP_TAXPAYER_CACHE_TTL", 24*time.Hour),
		},
		Worker: WorkerConfig{
			Enabled:         getBool(v, "WORKER_ENABLED", true),
			ID:              getString(v, "WORKER_ID", ""),
			Concurrency:     getInt(v, "WORKER_CONCURRENCY", 2),
			PollInterval:    getDuration(v, "WORKER_POLL_INTERVAL", 2*time.Second),
			Lease:           getDuration(v, "WORKER_LEASE", 2*time.Minute),
			RatePerMinute:   getInt(v, "WORKER_RATE_PER_MINUTE", 10),
			Burst:           getInt(v, "WORKER_RATE_BURST", 1),
			MonitorInterval: getDuration(v, "WORKER_MONITOR_INTERVAL", 30*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.App.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: STORE_DRIVER %q inválido (postgres | memory)", c.App.Store)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: WORKER_CONCURRENCY debe ser >= 1")
	}
	if c.Worker.Burst < 1 || c.Worker.Burst > 10 {
		return fmt.Errorf("config: WORKER_RATE_BURST debe estar entre 1 y 10")
	}
	if c.Worker.RatePerMinute < 1 {
		return fmt.Errorf("config: WORKER_RATE_PER_MINUTE debe ser >= 1")
	}
	if len(c.AFIP.Backoff) == 0 {
		return fmt.Errorf("config: AFIP_BACKOFF vacío")
	}
	return nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		if d := v.GetDuration(key); d > 0 {
			return d
		}
	}
	return def
}

// getDurations lee una lista separada por comas ("30s,2m,5m").
func getDurations(v *viper.Viper, key, def string) ([]time.Duration, error) {
	raw := getString(v, key, def)
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
		out = append(out, d)
	}
	return out, nil
}
