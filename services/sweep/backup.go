package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/internal/utils"
)

// ProviderFactory builds a fresh provider connection for a backup job. Jobs
// outlive the request that enqueued them, so they cannot share the request's
// provider handle.
type ProviderFactory func(ctx context.Context) (interfaces.MailProvider, error)

// BackupItem is one message captured ahead of a mutation, for providers
// whose ids stop resolving once the message leaves the inbox.
type BackupItem struct {
	ID      string
	Raw     []byte
	Subject string
	Sender  string
}

// BackupJob copies the raw content of trashed messages into the user's own
// vault bucket. For providers with stable ids the job fetches each message
// from trash after the sweep; otherwise Items carries content captured
// before the mutation and Provider stays nil.
type BackupJob struct {
	UserEmail  string
	MessageIDs []string
	Items      []BackupItem
	Provider   ProviderFactory
	Storage    interfaces.StorageService
}

func (j BackupJob) size() int {
	if len(j.Items) > 0 {
		return len(j.Items)
	}
	return len(j.MessageIDs)
}

// BackupQueue runs vault backups off the request path. Enqueue never blocks:
// when the queue is full the job is dropped and logged, matching the
// best-effort contract of the vault.
type BackupQueue struct {
	log  logger.Logger
	jobs chan BackupJob

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewBackupQueue(log logger.Logger, size int) *BackupQueue {
	return &BackupQueue{
		log:  log,
		jobs: make(chan BackupJob, size),
	}
}

func (q *BackupQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					q.run(job)
				}
			}
		}()
	})
}

// Enqueue hands a job to the worker. Returns false when the queue is full.
func (q *BackupQueue) Enqueue(job BackupJob) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.log.Warnf("backup queue full, dropping vault backup of %d messages for %s", job.size(), job.UserEmail)
		return false
	}
}

// Stop drains the queue and waits for the in-flight job to finish.
func (q *BackupQueue) Stop() {
	close(q.jobs)
	q.wg.Wait()
}

func (q *BackupQueue) run(job BackupJob) {
	span := opentracing.StartSpan("BackupQueue.run")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	span.SetTag("ids.count", job.size())

	ctx := opentracing.ContextWithSpan(context.Background(), span)

	backed := 0
	if len(job.Items) > 0 {
		// Content captured before the sweep; no provider round-trip needed.
		for _, item := range job.Items {
			if err := q.store(ctx, job, item); err != nil {
				q.log.Warnf("vault backup for %s: message %s skipped: %v", job.UserEmail, item.ID, err)
				continue
			}
			backed++
		}
	} else {
		p, err := job.Provider(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			q.log.Errorf("vault backup for %s: provider connect failed: %v", job.UserEmail, err)
			return
		}
		defer p.Close()

		for _, id := range job.MessageIDs {
			if err := q.backupMessage(ctx, p, job, id); err != nil {
				q.log.Warnf("vault backup for %s: message %s skipped: %v", job.UserEmail, id, err)
				continue
			}
			backed++
		}
	}
	span.SetTag("backed.count", backed)
	q.log.Infof("vault backup for %s: %d/%d messages stored", job.UserEmail, backed, job.size())
}

func (q *BackupQueue) backupMessage(ctx context.Context, p interfaces.MailProvider, job BackupJob, id string) error {
	raw, err := p.GetRawMessage(ctx, id)
	if err != nil {
		return err
	}

	item := BackupItem{ID: id, Raw: raw}
	if metas, err := p.GetMetadata(ctx, []string{id}); err == nil && len(metas) > 0 {
		item.Subject = metas[0].Subject
		item.Sender = metas[0].From
	}
	return q.store(ctx, job, item)
}

func (q *BackupQueue) store(ctx context.Context, job BackupJob, item BackupItem) error {
	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%d/%02d/%s_%s_%s.eml",
		job.UserEmail, now.Year(), int(now.Month()),
		now.Format("20060102_150405"), item.ID, utils.SafeSubjectKey(item.Subject))

	metadata := map[string]string{
		"msg-id":      truncate(item.ID, 256),
		"subject":     truncate(item.Subject, 256),
		"sender":      truncate(item.Sender, 256),
		"archived-at": now.Format(time.RFC3339),
	}
	return job.Storage.Upload(ctx, key, item.Raw, "message/rfc822", metadata)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
