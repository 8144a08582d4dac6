package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"speedrun-backend/bootstrap"
	"speedrun-backend/config"
	"speedrun-backend/database"
	"speedrun-backend/logging"
	"speedrun-backend/reconcile"
)

const (
	opImport          = "import"
	opAutoclaim       = "autoclaim"
	opAutoclaimAll    = "autoclaim-all"
	opDeleteImported  = "delete-imported"
	opDeleteUnclaimed = "delete-unclaimed"
)

type report struct {
	Operation        string              `json:"operation"`
	GameID           string              `json:"game_id,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`
	Summary          map[string]int      `json:"summary"`
	UnmatchedPlayers map[string][]string `json:"unmatched_players,omitempty"`
	Exceptions       []string            `json:"exceptions"`
}

type options struct {
	op        string
	playerID  string
	username  string
	reportDir string
	confirm   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.op, "op", opImport, "Operation: import, autoclaim, autoclaim-all, delete-imported, delete-unclaimed")
	flag.StringVar(&opts.playerID, "player", "", "Player id to claim runs for (autoclaim)")
	flag.StringVar(&opts.username, "username", "", "External username to match (autoclaim)")
	flag.StringVar(&opts.reportDir, "reports", "reports", "Directory for the summary and exceptions reports")
	flag.BoolVar(&opts.confirm, "yes", false, "Confirm a bulk delete")
	flag.Parse()

	if err := validateFlags(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(execute(opts))
}

// execute runs one operation and returns the process exit code. Deferred
// cleanup runs before main exits.
func execute(opts options) int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	bootstrap.InitLogging(cfg)

	if err := database.ConnectDB(cfg.Database.URL); err != nil {
		logging.Error().Err(err).Msg("Database unavailable")
		return 1
	}
	defer database.DB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logging.ContextWithCorrelationID(ctx, logging.NewCorrelationID())

	engine := bootstrap.Engine(cfg, database.DB)

	r := &report{Operation: opts.op, StartedAt: time.Now().UTC(), Summary: map[string]int{}, Exceptions: []string{}}
	runErr := run(ctx, engine, opts, r)
	r.FinishedAt = time.Now().UTC()

	if runErr == nil && opts.op == opImport {
		if n := bootstrap.Notifier(cfg.Mail); n != nil {
			if err := n.SendImportReport(importResultFromReport(r)); err != nil {
				logging.Warn().Err(err).Msg("Failed to email import report")
			}
		}
	}

	return finish(opts.reportDir, r, runErr)
}

// finish writes the reports and maps the outcome to an exit code.
func finish(dir string, r *report, runErr error) int {
	code := 0
	if err := writeReport(dir, r); err != nil {
		logging.Error().Err(err).Msg("Write report failed")
		code = 1
	}
	if runErr != nil {
		logging.Error().Err(runErr).Str("op", r.Operation).Msg("Operation failed")
		return 1
	}
	if code == 0 {
		logging.Info().Str("op", r.Operation).Interface("summary", r.Summary).Msg("Operation complete")
	}
	return code
}

func validateFlags(o options) error {
	switch o.op {
	case opImport, opAutoclaimAll:
		return nil
	case opAutoclaim:
		if strings.TrimSpace(o.playerID) == "" {
			return fmt.Errorf("--player is required for %s", o.op)
		}
		if strings.TrimSpace(o.username) == "" {
			return fmt.Errorf("--username is required for %s", o.op)
		}
		return nil
	case opDeleteImported, opDeleteUnclaimed:
		if !o.confirm {
			return fmt.Errorf("%s deletes leaderboard entries; pass --yes to confirm", o.op)
		}
		return nil
	default:
		return fmt.Errorf("unknown --op %q", o.op)
	}
}

// engineOps is what run needs from reconcile.Engine.
type engineOps interface {
	ImportExternalRuns(ctx context.Context, progress reconcile.ProgressFunc) (*reconcile.ImportResult, error)
	Autoclaim(ctx context.Context, playerID, externalUsername string) (int, error)
	AutoclaimAll(ctx context.Context) reconcile.AutoclaimSummary
	DeleteAllImported(ctx context.Context, progress reconcile.DeleteProgressFunc) reconcile.DeleteImportedResult
	DeleteAllUnclaimed(ctx context.Context, progress reconcile.DeleteProgressFunc) reconcile.DeleteUnclaimedResult
}

func run(ctx context.Context, engine engineOps, o options, r *report) error {
	deleteProgress := func(deleted, total int) {
		fmt.Printf("\rdeleted %d/%d", deleted, total)
		if deleted == total {
			fmt.Println()
		}
	}

	switch o.op {
	case opImport:
		res, err := engine.ImportExternalRuns(ctx, func(p reconcile.Progress) {
			fmt.Printf("\rprocessed %d/%d (imported %d, skipped %d)", p.Processed, p.Total, p.Imported, p.Skipped)
			if p.Processed == p.Total {
				fmt.Println()
			}
		})
		if res != nil {
			r.GameID = res.GameID
			r.Summary["candidates"] = res.Candidates
			r.Summary["imported"] = res.Imported
			r.Summary["skipped"] = res.Skipped
			r.Summary["duplicates"] = res.Duplicates
			r.UnmatchedPlayers = res.UnmatchedPlayers
			r.Exceptions = append(r.Exceptions, res.Errors...)
		}
		return err

	case opAutoclaim:
		n, err := engine.Autoclaim(ctx, o.playerID, o.username)
		r.Summary["runs_updated"] = n
		return err

	case opAutoclaimAll:
		s := engine.AutoclaimAll(ctx)
		r.Summary["runs_updated"] = s.RunsUpdated
		r.Summary["players_updated"] = s.PlayersUpdated
		r.Exceptions = append(r.Exceptions, s.Errors...)
		return nil

	case opDeleteImported:
		res := engine.DeleteAllImported(ctx, deleteProgress)
		r.Summary["deleted"] = res.Deleted
		r.Exceptions = append(r.Exceptions, res.Errors...)
		return nil

	case opDeleteUnclaimed:
		res := engine.DeleteAllUnclaimed(ctx, deleteProgress)
		r.Summary["deleted"] = res.DeletedRuns
		if !res.Success {
			r.Exceptions = append(r.Exceptions, res.Error)
			return fmt.Errorf("delete unclaimed: %s", res.Error)
		}
		return nil
	}
	return fmt.Errorf("unknown op %q", o.op)
}

func importResultFromReport(r *report) *reconcile.ImportResult {
	return &reconcile.ImportResult{
		GameID:           r.GameID,
		Candidates:       r.Summary["candidates"],
		Imported:         r.Summary["imported"],
		Skipped:          r.Summary["skipped"],
		Duplicates:       r.Summary["duplicates"],
		UnmatchedPlayers: r.UnmatchedPlayers,
		Errors:           r.Exceptions,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}
}

func writeReport(dir string, r *report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	stamp := r.StartedAt.Format("20060102_150405")
	base := "import_runs_" + strings.ReplaceAll(r.Operation, "-", "_")
	jsonPath := filepath.Join(dir, base+"_summary_"+stamp+".json")
	exPath := filepath.Join(dir, base+"_exceptions_"+stamp+".log")

	blob, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, blob, 0o644); err != nil {
		return err
	}

	lines := append([]string(nil), r.Exceptions...)
	if len(r.UnmatchedPlayers) > 0 {
		ids := make([]string, 0, len(r.UnmatchedPlayers))
		for id := range r.UnmatchedPlayers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("unmatched players on %s: %s", id, strings.Join(r.UnmatchedPlayers[id], ", ")))
		}
	}
	exText := strings.Join(lines, "\n")
	if exText == "" {
		exText = "No exceptions captured."
	}
	if err := os.WriteFile(exPath, []byte(exText+"\n"), 0o644); err != nil {
		return err
	}

	fmt.Printf("Summary report: %s\n", jsonPath)
	fmt.Printf("Exceptions report: %s\n", exPath)
	return nil
}
