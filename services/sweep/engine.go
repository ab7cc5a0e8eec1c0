package sweep

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/internal/utils"
)

// maxSweepSize caps one request; larger selections must be resubmitted.
const maxSweepSize = 1000

// Engine executes batch trash/archive requests against a provider, enforcing
// the monthly trash allowance and fanning chunks out to workers where the
// provider tolerates concurrency.
type Engine struct {
	log     logger.Logger
	ledger  interfaces.SubscriptionLedger
	backups *BackupQueue
	workers int
}

func NewEngine(log logger.Logger, ledger interfaces.SubscriptionLedger, backups *BackupQueue, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{log: log, ledger: ledger, backups: backups, workers: workers}
}

type SweepRequest struct {
	UserEmail  string
	MessageIDs []string
	Mode       enum.MutationMode
	// Query is recorded in cleanup history alongside the usage count.
	Query  string
	DryRun bool
	// Backup, when set, enqueues a vault copy of every processed message.
	Backup *BackupJob
}

type SweepResult struct {
	DryRun    bool `json:"dry_run"`
	Requested int  `json:"requested"`
	Processed int  `json:"processed"`
	Errors    int  `json:"errors"`
	// Remaining is nil for unlimited tiers, dry runs and archive sweeps.
	Remaining     *int `json:"remaining_deletes,omitempty"`
	BackupStarted bool `json:"backup_started,omitempty"`
}

func (e *Engine) Sweep(ctx context.Context, p interfaces.MailProvider, req SweepRequest) (*SweepResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.Sweep")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, p.Name().String())
	span.SetTag("ids.count", len(req.MessageIDs))
	span.SetTag("mode", req.Mode.String())
	span.SetTag("dry_run", req.DryRun)

	if len(req.MessageIDs) == 0 {
		return nil, errs.ErrNoMessagesSelected
	}
	if len(req.MessageIDs) > maxSweepSize {
		return nil, errs.ErrTooManyMessages
	}

	// Dry runs report what would happen and touch nothing: no provider
	// calls, no quota consult, no usage recorded.
	if req.DryRun {
		return &SweepResult{
			DryRun:    true,
			Requested: len(req.MessageIDs),
			Processed: len(req.MessageIDs),
		}, nil
	}

	// Only trash consumes the monthly allowance. Archive moves mail aside
	// without deleting anything, so it is never quota-gated or metered.
	metered := req.Mode == enum.MutationTrash
	var quota interfaces.Quota
	if metered {
		var err error
		quota, err = e.ledger.RemainingQuota(ctx, req.UserEmail)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		if !quota.Unlimited {
			if quota.Remaining == 0 {
				return nil, errs.ErrQuotaExhausted
			}
			if len(req.MessageIDs) > quota.Remaining {
				return nil, &errs.QuotaWouldExceedError{
					Remaining: quota.Remaining,
					Requested: len(req.MessageIDs),
				}
			}
		}
	}

	caps := p.Capabilities()
	chunks := utils.ChunkStrings(req.MessageIDs, caps.MutationBatchSize)

	var processed, failed int
	var haltErr error
	if caps.ConcurrentBatches && len(chunks) > 1 {
		processed, failed, haltErr = e.runParallel(ctx, p, chunks, req.Mode)
	} else {
		processed, failed, haltErr = e.runSequential(ctx, p, chunks, req.Mode)
	}
	span.SetTag("result.processed", processed)
	span.SetTag("result.failed", failed)

	result := &SweepResult{
		Requested: len(req.MessageIDs),
		Processed: processed,
		Errors:    failed,
	}

	if processed > 0 {
		if metered {
			// Usage recording is best-effort: the mailbox mutation already
			// happened, so a ledger failure must not turn into a request
			// error.
			if _, err := e.ledger.RecordUsage(ctx, req.UserEmail, processed, req.Query); err != nil {
				tracing.TraceErr(span, err)
				e.log.Errorf("record usage for %s failed: %v", req.UserEmail, err)
			} else if !quota.Unlimited {
				remaining := quota.Remaining - processed
				if remaining < 0 {
					remaining = 0
				}
				result.Remaining = &remaining
			}
		}

		if req.Backup != nil {
			result.BackupStarted = e.backups.Enqueue(*req.Backup)
		}
	}

	if haltErr != nil {
		tracing.TraceErr(span, haltErr)
		return result, haltErr
	}
	return result, nil
}

// runSequential processes chunks one at a time, for providers backed by a
// single stateful connection.
func (e *Engine) runSequential(ctx context.Context, p interfaces.MailProvider, chunks [][]string, mode enum.MutationMode) (int, int, error) {
	processed, failed := 0, 0
	for i, chunk := range chunks {
		ok, bad, err := p.BatchMutate(ctx, chunk, mode)
		processed += ok
		failed += bad
		if err != nil {
			// Auth failures halt the sweep; remaining chunks would all fail
			// the same way.
			for _, rest := range chunks[i+1:] {
				failed += len(rest)
			}
			return processed, failed, err
		}
	}
	return processed, failed, nil
}

// runParallel fans chunks out across the worker pool with mutex-guarded
// counters. A chunk that fails outright counts its ids as errors without
// aborting sibling chunks; only auth errors stop the dispatch of new work.
func (e *Engine) runParallel(ctx context.Context, p interfaces.MailProvider, chunks [][]string, mode enum.MutationMode) (int, int, error) {
	var (
		mu        sync.Mutex
		processed int
		failed    int
		haltErr   error
	)

	work := make(chan []string)
	var wg sync.WaitGroup

	workers := e.workers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range work {
				ok, bad, err := p.BatchMutate(ctx, chunk, mode)
				mu.Lock()
				processed += ok
				failed += bad
				if err != nil && haltErr == nil {
					haltErr = err
				}
				mu.Unlock()
			}
		}()
	}

	for _, chunk := range chunks {
		mu.Lock()
		halted := haltErr != nil
		mu.Unlock()
		if halted {
			mu.Lock()
			failed += len(chunk)
			mu.Unlock()
			continue
		}
		work <- chunk
	}
	close(work)
	wg.Wait()

	return processed, failed, haltErr
}
