// certcheck diagnostica las credenciales AFIP configuradas: carga el certificado de cada
// organización, informa vigencia, firma un TRA local y, con -login, obtiene un ticket WSAA real.
//
// Uso:
//
//	go run ./cmd/certcheck                  # credenciales de la base (STORE_DRIVER=postgres)
//	go run ./cmd/certcheck -dir ./creds     # archivos JSON por organización
//	go run ./cmd/certcheck -org org-1 -login
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/afip-core/internal/domain/entity"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	infraafip "github.com/jhoicas/afip-core/internal/infrastructure/afip"
	"github.com/jhoicas/afip-core/internal/infrastructure/afip/signer"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/internal/infrastructure/postgres"
	"github.com/jhoicas/afip-core/pkg/afip"
	"github.com/jhoicas/afip-core/pkg/config"
	"github.com/jhoicas/afip-core/pkg/logger"
)

type source interface {
	repository.CredentialRepository
	ListOrganizations(ctx context.Context) ([]string, error)
}

func main() {
	dir := flag.String("dir", "", "directorio de credenciales JSON (vacío = base de datos)")
	org := flag.String("org", "", "revisar solo esta organización")
	login := flag.Bool("login", false, "solicitar un ticket WSAA para wsfe con cada credencial")
	warnDays := flag.Int("warn-days", 30, "avisar si el certificado vence en menos días")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, closeFn, err := openSource(ctx, cfg, *dir)
	if err != nil {
		log.Error().Err(err).Msg("no se pudieron leer las credenciales")
		os.Exit(1)
	}
	defer closeFn()

	orgs := []string{*org}
	if *org == "" {
		if orgs, err = src.ListOrganizations(ctx); err != nil {
			log.Error().Err(err).Msg("listando organizaciones")
			os.Exit(1)
		}
	}

	var wsaa *infraafip.WSAAClient
	if *login {
		wsaa = infraafip.NewWSAAClient(infraafip.WSAAConfig{Timeout: cfg.AFIP.AuthTimeout}, signer.NewCMSSigner(), log, nil)
	}

	failed := 0
	for _, id := range orgs {
		if !check(ctx, log, src, wsaa, id, time.Duration(*warnDays)*24*time.Hour) {
			failed++
		}
	}
	if failed > 0 {
		log.Error().Int("failed", failed).Int("total", len(orgs)).Msg("credenciales con problemas")
		os.Exit(1)
	}
	log.Info().Int("total", len(orgs)).Msg("todas las credenciales son válidas")
}

func openSource(ctx context.Context, cfg *config.Config, dir string) (source, func(), error) {
	if dir != "" {
		repo, err := memory.LoadCredentialsDir(dir)
		return repo, func() {}, err
	}
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewCredentialRepository(pool, cfg.AFIP.CredentialsDir), pool.Close, nil
}

func check(ctx context.Context, log zerolog.Logger, src source, wsaa *infraafip.WSAAClient, orgID string, warn time.Duration) bool {
	l := log.With().Str("organization_id", orgID).Logger()
	cred, err := src.GetByOrganization(ctx, orgID)
	if err != nil {
		l.Error().Err(err).Msg("credencial no encontrada")
		return false
	}
	if err := afip.ValidateCUIT(cred.CUIT); err != nil {
		l.Error().Err(err).Str("cuit", cred.CUIT).Msg("CUIT inválido")
		return false
	}

	now := time.Now()
	cert, err := signer.LoadCredential(cred, now)
	if err != nil {
		l.Error().Err(err).Str("cert_path", cred.CertPath).Msg("certificado inutilizable")
		return false
	}
	leaf := cert.Leaf
	sum := sha256.Sum256(leaf.Raw)
	remaining := leaf.NotAfter.Sub(now)
	ev := l.Info()
	if remaining < warn {
		ev = l.Warn()
	}
	ev.Str("cuit", afip.FormatCUIT(cred.CUIT)).
		Str("environment", cred.Environment).
		Str("subject", leaf.Subject.String()).
		Str("sha256", hex.EncodeToString(sum[:])).
		Time("not_after", leaf.NotAfter).
		Str("remaining", fmt.Sprintf("%.0f días", remaining.Hours()/24)).
		Msg("certificado vigente")

	tra, err := signer.BuildTRA(afip.ServiceWSFE, now, signer.DefaultTRAWindow(), 0)
	if err != nil {
		l.Error().Err(err).Msg("no se pudo armar el TRA")
		return false
	}
	cms, err := signer.NewCMSSigner().Sign(tra, cert)
	if err != nil {
		l.Error().Err(err).Msg("la llave no pudo firmar el TRA")
		return false
	}
	l.Debug().Int("cms_bytes", len(cms)).Msg("TRA firmado localmente")

	if wsaa == nil {
		return true
	}
	tok, err := wsaa.Login(ctx, cred, afip.ServiceWSFE)
	if err != nil {
		l.Error().Err(err).Msg("loginCms rechazado")
		return false
	}
	logTicket(l, tok)
	return true
}

func logTicket(l zerolog.Logger, tok *entity.AuthToken) {
	l.Info().
		Str("service", tok.Service).
		Str("token_fp", logger.Fingerprint(tok.Token)).
		Time("expires_at", tok.ExpiresAt).
		Msg("ticket WSAA obtenido")
}
