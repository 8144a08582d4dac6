package reconcile

import (
	"context"
	"fmt"

	"speedrun-backend/logging"
	"speedrun-backend/metrics"
)

// DeleteProgressFunc is called after each committed chunk with the running
// number of deleted entries and the total selected for deletion.
type DeleteProgressFunc func(deleted, total int)

type DeleteImportedResult struct {
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}

type DeleteUnclaimedResult struct {
	Success     bool   `json:"success"`
	DeletedRuns int    `json:"deletedRuns"`
	Error       string `json:"error,omitempty"`
}

// DeleteAllImported removes every imported entry, claimed or not. A failed
// chunk is reported and the remaining chunks still run.
func (e *Engine) DeleteAllImported(ctx context.Context, progress DeleteProgressFunc) DeleteImportedResult {
	res := DeleteImportedResult{Errors: []string{}}

	ids, err := e.store.ListImportedIDs(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list imported runs: %v", err))
		logging.Ctx(ctx).Error().Err(err).Msg("Delete imported aborted")
		return res
	}

	res.Deleted, res.Errors = e.deleteInChunks(ctx, "imported", ids, progress, false)
	return res
}

// DeleteAllUnclaimed removes imported entries no account has claimed. It
// stops at the first failed chunk; chunks committed before it stay deleted.
func (e *Engine) DeleteAllUnclaimed(ctx context.Context, progress DeleteProgressFunc) DeleteUnclaimedResult {
	ids, err := e.store.ListUnclaimedIDs(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Delete unclaimed aborted")
		return DeleteUnclaimedResult{Error: fmt.Sprintf("list unclaimed runs: %v", err)}
	}

	deleted, errs := e.deleteInChunks(ctx, "unclaimed", ids, progress, true)
	if len(errs) > 0 {
		return DeleteUnclaimedResult{DeletedRuns: deleted, Error: errs[0]}
	}
	return DeleteUnclaimedResult{Success: true, DeletedRuns: deleted}
}

func (e *Engine) deleteInChunks(ctx context.Context, operation string, ids []string, progress DeleteProgressFunc, stopOnError bool) (int, []string) {
	log := logging.Ctx(ctx).With().Str("operation", operation).Logger()
	errs := []string{}
	total := len(ids)
	if total == 0 {
		log.Info().Msg("Nothing to delete")
		return 0, errs
	}

	deleted := 0
	size := e.opts.DeleteChunkSize
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		n, err := e.store.DeleteEntries(ctx, ids[start:end])
		if err != nil {
			msg := fmt.Sprintf("delete chunk %d-%d: %v", start, end, err)
			log.Error().Err(err).Int("from", start).Int("to", end).Msg("Delete chunk failed")
			errs = append(errs, msg)
			if stopOnError {
				break
			}
			continue
		}
		deleted += n
		metrics.MaintenanceDeleted.WithLabelValues(operation).Add(float64(n))
		if progress != nil {
			progress(deleted, total)
		}
	}

	log.Info().Int("deleted", deleted).Int("selected", total).Int("failed_chunks", len(errs)).Msg("Bulk delete finished")
	return deleted, errs
}
