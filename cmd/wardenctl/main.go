package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/secrets"
)

func main() {
	cmd := &cli.Command{
		Name:  "wardenctl",
		Usage: "Operate a warden deployment",
		Commands: []*cli.Command{
			keygenCommand(),
			migrateCommand(),
			ledgerCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Print a random base64 key for JWT_SECRET or SEAL_KEY",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "bytes",
				Usage: "key length in bytes",
				Value: secrets.SealKeyLength,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			n := int(cmd.Int("bytes"))
			if n < secrets.SealKeyLength {
				return fmt.Errorf("keys shorter than %d bytes are not accepted", secrets.SealKeyLength)
			}
			key, err := secrets.GenerateKey(n)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, key)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply schema migrations for the configured backends",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			if cfg.UsesPostgres() {
				db, err := database.NewConnection(ctx, &cfg.Database, logger)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Migrate(ctx); err != nil {
					return err
				}
			}

			if cfg.Ledger.Backend == config.LedgerSQLite {
				// OpenSQLite migrates on open
				sqlDB, err := ledger.OpenSQLite(ctx, cfg.Ledger.SQLitePath, logger)
				if err != nil {
					return err
				}
				sqlDB.Close()
			}

			logger.Info("migrations complete")
			return nil
		},
	}
}

func ledgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect and maintain the revocation ledger",
		Commands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete entries whose retention has passed",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := load()
					if err != nil {
						return err
					}

					var db *database.DB
					if cfg.Ledger.Backend == config.LedgerPostgres {
						db, err = database.NewConnection(ctx, &cfg.Database, logger)
						if err != nil {
							return err
						}
						defer db.Close()
					}

					opened, err := ledger.Open(ctx, cfg, db, clock.System{}, logger)
					if err != nil {
						return err
					}
					defer opened.Close()

					removed, err := opened.Ledger.Purge(ctx)
					if err != nil {
						return fmt.Errorf("purge failed: %w", err)
					}
					fmt.Fprintf(os.Stdout, "purged %d entries\n", removed)
					return nil
				},
			},
		},
	}
}

func load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return cfg, logger, nil
}
