// Package bootstrap builds the reconciliation engine and its collaborators
// from configuration, shared by the server and the command-line tool.
package bootstrap

import (
	"database/sql"

	"speedrun-backend/config"
	"speedrun-backend/logging"
	"speedrun-backend/mail"
	"speedrun-backend/reconcile"
	"speedrun-backend/srcom"
)

func InitLogging(cfg *config.Config) {
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
}

func EngineOptions(cfg config.ImportConfig) reconcile.Options {
	return reconcile.Options{
		FetchLimit:        cfg.FetchLimit,
		BatchSize:         cfg.BatchSize,
		Workers:           cfg.Workers,
		LookupConcurrency: cfg.LookupConcurrency,
		DeleteChunkSize:   cfg.DeleteChunkSize,
	}
}

func ExternalClient(cfg config.ExternalConfig) *srcom.Client {
	return srcom.NewClient(srcom.Config{
		BaseURL:           cfg.BaseURL,
		GameID:            cfg.GameID,
		GameAbbreviation:  cfg.GameAbbreviation,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
}

// Engine wires the Postgres store, used both as Store and PlayerDirectory,
// and the speedrun.com client into a reconcile.Engine.
func Engine(cfg *config.Config, db *sql.DB) *reconcile.Engine {
	repo := reconcile.NewPostgresRepository(db)
	return reconcile.NewEngine(repo, repo, ExternalClient(cfg.External), EngineOptions(cfg.Import))
}

// Notifier returns nil when mail is not configured.
func Notifier(cfg config.MailConfig) *mail.Notifier {
	if !cfg.Enabled() {
		return nil
	}
	return mail.NewNotifier(cfg.SendGridAPIKey, cfg.From, cfg.ReportTo)
}
