// secondfactor es el servicio de segundo factor: enrolamiento TOTP,
// verificación con backup codes, lockout y trusted devices.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/secondfactor/internal/config"
	"github.com/dropDatabas3/secondfactor/internal/http/server"
	"github.com/dropDatabas3/secondfactor/internal/observability/logger"
	"github.com/dropDatabas3/secondfactor/internal/store/pg"
	migrations "github.com/dropDatabas3/secondfactor/migrations/postgres"
)

// version se inyecta en build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "secondfactor",
		Short:         "Servicio de segundo factor (TOTP, backup codes, trusted devices)",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), migrateCmd(), keygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env para desarrollo; en prod las vars vienen del entorno.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       logLevel,
				ServiceName: "secondfactor",
				Version:     version,
			})
			defer logger.Sync()
			log := logger.L()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler, cleanup, err := server.Build(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := cleanup(); err != nil {
					log.Warn("cleanup failed", logger.Err(err))
				}
			}()

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Info("server listening",
					logger.String("addr", cfg.Server.Addr),
					logger.String("storage", cfg.Storage.Driver),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "ruta al config.yaml (opcional)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "nivel de log: debug|info|warn|error")
	return cmd
}

// migrateCmd aplica las migraciones embebidas contra POSTGRES_DSN.
func migrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de Postgres pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn (o POSTGRES_DSN) es requerido")
			}

			logger.Init(logger.Config{Env: cfg.App.Env, Level: "info", ServiceName: "secondfactor"})
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := pg.New(ctx, pg.Config{DSN: cfg.Storage.Postgres.DSN})
			if err != nil {
				return err
			}
			defer st.Close()

			sub, err := fs.Sub(migrations.FS, migrations.Dir)
			if err != nil {
				return err
			}
			return st.Migrate(ctx, sub)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "ruta al config.yaml (opcional)")
	return cmd
}

// keygenCmd genera el material de claves que el servicio espera por env:
// la clave maestra de cifrado y la seed ed25519 de firma de assertions.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera MFA_ENC_MASTER_KEY y ASSERTION_SIGNING_KEY nuevos",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := make([]byte, 32)
			if _, err := rand.Read(enc); err != nil {
				return err
			}
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			priv := ed25519.NewKeyFromSeed(seed)
			pub := priv.Public().(ed25519.PublicKey)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "MFA_ENC_MASTER_KEY=%s\n", base64.RawURLEncoding.EncodeToString(enc))
			fmt.Fprintf(out, "ASSERTION_SIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(seed))
			fmt.Fprintf(out, "# public key (para el verificador de assertions):\n")
			fmt.Fprintf(out, "# %s\n", base64.StdEncoding.EncodeToString(pub))
			return nil
		},
	}
}
