package db

import (
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

//go:embed pg_migrations/*.sql
var postgresMigrations embed.FS

//go:embed ch_migrations/*.sql
var clickhouseMigrations embed.FS

// RunMigrations migrates every configured database once, even when several
// storage roles point at the same one.
func RunMigrations() error {
	storage := config.Cfg.Storage
	var postgresConfigs []*config.PostgresConfig
	if storage.Ledger.Driver == "postgres" {
		postgresConfigs = append(postgresConfigs, storage.Ledger.Postgres)
	}
	if storage.Checkpoint.Driver == "postgres" {
		postgresConfigs = append(postgresConfigs, storage.Checkpoint.Postgres)
	}
	if storage.Aggregates.Driver == "postgres" {
		postgresConfigs = append(postgresConfigs, storage.Aggregates.Postgres)
	}

	done := make(map[string]struct{})
	for _, cfg := range postgresConfigs {
		if cfg == nil || cfg.Host == "" {
			continue
		}
		key := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
		if _, ok := done[key]; ok {
			continue
		}
		done[key] = struct{}{}
		log.Info().Msgf("Running Postgres migrations on %s", key)
		if err := runMigrations(postgresMigrations, "pg_migrations", PostgresURL(cfg)); err != nil {
			return fmt.Errorf("postgres migrations on %s failed: %w", key, err)
		}
	}

	if ch := storage.Aggregates.Clickhouse; storage.Aggregates.Driver == "clickhouse" && ch != nil && ch.Host != "" {
		log.Info().Msgf("Running Clickhouse migrations on %s:%d/%s", ch.Host, ch.Port, ch.Database)
		if err := runMigrations(clickhouseMigrations, "ch_migrations", ClickhouseURL(ch)); err != nil {
			return fmt.Errorf("clickhouse migrations failed: %w", err)
		}
	}

	log.Info().Msg("All migrations completed")
	return nil
}

func runMigrations(fsys embed.FS, dir string, databaseURL string) error {
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func PostgresURL(cfg *config.PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

func ClickhouseURL(cfg *config.ClickhouseConfig) string {
	secureParam := "true"
	if cfg.DisableTLS {
		secureParam = "false"
	}
	q := url.Values{}
	q.Set("username", cfg.Username)
	q.Set("password", cfg.Password)
	q.Set("secure", secureParam)
	q.Set("x-multi-statement", "true")
	q.Set("x-migrations-table-engine", "MergeTree")
	return fmt.Sprintf("clickhouse://%s:%d/%s?%s", cfg.Host, cfg.Port, cfg.Database, q.Encode())
}
