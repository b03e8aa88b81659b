// migrate aplica las migraciones embebidas del esquema AFIP sobre la base configurada.
//
// Uso: go run ./cmd/migrate
// Lee DATABASE_URL o DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME.
package main

import (
	"context"
	"os"
	"time"

	"github.com/jhoicas/afip-core/internal/infrastructure/postgres"
	"github.com/jhoicas/afip-core/pkg/config"
	"github.com/jhoicas/afip-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("conexión a PostgreSQL")
		os.Exit(1)
	}
	defer pool.Close()

	version, err := postgres.Migrate(pool)
	if err != nil {
		log.Error().Err(err).Msg("migraciones")
		os.Exit(1)
	}
	log.Info().Uint("schema_version", version).Msg("esquema al día")
}
