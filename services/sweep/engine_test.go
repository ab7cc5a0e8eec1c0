package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/models"
)

func testLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// mockProvider counts every call so tests can assert a sweep touched exactly
// what it was allowed to touch.
type mockProvider struct {
	mu          sync.Mutex
	caps        interfaces.Capabilities
	mutateCalls int
	mutatedIDs  []string
	failChunk   func(ids []string) (int, int, error)
}

func (m *mockProvider) Name() enum.Provider { return enum.ProviderGmail }
func (m *mockProvider) TestConnection(context.Context) interfaces.ConnectionResult {
	return interfaces.ConnectionResult{Success: true}
}
func (m *mockProvider) Stat(context.Context) (*interfaces.InboxStats, error) { return nil, nil }
func (m *mockProvider) ListMessages(context.Context, string, string, string, int) (*interfaces.MessagePage, error) {
	return nil, nil
}
func (m *mockProvider) GetMetadata(context.Context, []string) ([]interfaces.MessageMeta, error) {
	return nil, nil
}
func (m *mockProvider) GetRawMessage(context.Context, string) ([]byte, error) { return nil, nil }
func (m *mockProvider) ListFolders(context.Context) ([]string, error)         { return nil, nil }
func (m *mockProvider) Capabilities() interfaces.Capabilities                 { return m.caps }
func (m *mockProvider) Close() error                                          { return nil }

func (m *mockProvider) BatchMutate(_ context.Context, ids []string, _ enum.MutationMode) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutateCalls++
	m.mutatedIDs = append(m.mutatedIDs, ids...)
	if m.failChunk != nil {
		return m.failChunk(ids)
	}
	return len(ids), 0, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateCalls
}

// mockLedger serves a fixed quota and records usage calls.
type mockLedger struct {
	mu         sync.Mutex
	quota      interfaces.Quota
	quotaErr   error
	quotaCalls int
	usage      []int
	usageErr   error
	lastQuery  string
}

func (m *mockLedger) GetOrCreateUser(context.Context, string) (*models.UserRecord, error) {
	return &models.UserRecord{}, nil
}

func (m *mockLedger) RemainingQuota(context.Context, string) (interfaces.Quota, error) {
	m.mu.Lock()
	m.quotaCalls++
	m.mu.Unlock()
	if m.quotaErr != nil {
		return interfaces.Quota{}, m.quotaErr
	}
	return m.quota, nil
}

func (m *mockLedger) RecordUsage(_ context.Context, _ string, count int, query string) (*models.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, count)
	m.lastQuery = query
	return &models.UserRecord{}, m.usageErr
}

func newTestEngine(ledger *mockLedger) *Engine {
	log := testLogger()
	return NewEngine(log, ledger, NewBackupQueue(log, 4), 3)
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i%26))
	}
	return out
}

func TestSweep_EmptySelectionRejected(t *testing.T) {
	engine := newTestEngine(&mockLedger{})
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100}}

	_, err := engine.Sweep(context.Background(), p, SweepRequest{UserEmail: "u@x.com", Mode: enum.MutationTrash})
	assert.ErrorIs(t, err, errs.ErrNoMessagesSelected)
}

func TestSweep_OversizedSelectionRejected(t *testing.T) {
	engine := newTestEngine(&mockLedger{})
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100}}

	_, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(1001),
		Mode:       enum.MutationTrash,
	})
	assert.ErrorIs(t, err, errs.ErrTooManyMessages)
	assert.Equal(t, 0, p.calls())
}

func TestSweep_DryRunTouchesNothing(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Remaining: 1}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true}}

	// Dry run of 500 against a remaining allowance of 1: allowed, because a
	// dry run consumes nothing and must not even consult the quota.
	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(500),
		Mode:       enum.MutationTrash,
		DryRun:     true,
	})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 500, result.Requested)
	assert.Equal(t, 500, result.Processed)
	assert.Nil(t, result.Remaining)
	assert.Equal(t, 0, p.calls())
	assert.Empty(t, ledger.usage)
}

func TestSweep_QuotaBoundary(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Remaining: 3}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100}}

	_, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(5),
		Mode:       enum.MutationTrash,
	})

	var quotaErr *errs.QuotaWouldExceedError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 3, quotaErr.Remaining)
	assert.Equal(t, 5, quotaErr.Requested)
	assert.Equal(t, 0, p.calls(), "an over-quota request must make zero provider calls")

	// Exactly the remaining allowance goes through.
	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(3),
		Mode:       enum.MutationTrash,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	require.NotNil(t, result.Remaining)
	assert.Equal(t, 0, *result.Remaining)
}

func TestSweep_QuotaExhausted(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Remaining: 0}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100}}

	// An exhausted allowance is reported as its own condition, distinct from
	// a request that is merely too large for what is left.
	_, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(1),
		Mode:       enum.MutationTrash,
	})
	assert.ErrorIs(t, err, errs.ErrQuotaExhausted)
	var quotaErr *errs.QuotaWouldExceedError
	assert.False(t, errors.As(err, &quotaErr))
	assert.Equal(t, 0, p.calls())
	assert.Empty(t, ledger.usage)
}

func TestSweep_ArchiveIsNotMetered(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Remaining: 3}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true}}

	// Archive moves mail aside without deleting, so a free tier with only 3
	// deletes left can still archive 5: no quota consult, no usage recorded.
	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(5),
		Mode:       enum.MutationArchive,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Nil(t, result.Remaining)
	assert.Equal(t, 0, ledger.quotaCalls, "archive must not consult the allowance")
	assert.Empty(t, ledger.usage, "archive must not burn the trash allowance")
}

func TestSweep_UnlimitedTierSkipsQuota(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Unlimited: true}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true}}

	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(500),
		Mode:       enum.MutationTrash,
	})
	require.NoError(t, err)
	assert.Equal(t, 500, result.Processed)
	assert.Nil(t, result.Remaining)
}

func TestSweep_ChunksByProviderBatchSize(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Unlimited: true}}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true}}

	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(250),
		Mode:       enum.MutationTrash,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, p.calls(), "250 ids at batch size 100 is 3 chunks")
	assert.Equal(t, 250, result.Processed)
	assert.Len(t, p.mutatedIDs, 250)
	assert.Equal(t, []int{250}, ledger.usage)
}

func TestSweep_PartialChunkFailureContinues(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Unlimited: true}}
	engine := newTestEngine(ledger)

	// Every chunk loses 10 ids but reports no halting error.
	p := &mockProvider{
		caps: interfaces.Capabilities{MutationBatchSize: 100, ConcurrentBatches: true},
		failChunk: func(chunk []string) (int, int, error) {
			return len(chunk) - 10, 10, nil
		},
	}

	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(300),
		Mode:       enum.MutationTrash,
	})
	require.NoError(t, err)

	assert.Equal(t, 270, result.Processed)
	assert.Equal(t, 30, result.Errors)
	assert.Equal(t, []int{270}, ledger.usage, "only processed messages count against usage")
}

func TestSweep_AuthErrorHaltsSequentialDispatch(t *testing.T) {
	ledger := &mockLedger{quota: interfaces.Quota{Unlimited: true}}
	engine := newTestEngine(ledger)

	calls := 0
	p := &mockProvider{
		caps: interfaces.Capabilities{MutationBatchSize: 1, ConcurrentBatches: false},
		failChunk: func(chunk []string) (int, int, error) {
			calls++
			if calls == 2 {
				return 0, len(chunk), &errs.ProviderAPIError{Provider: "yahoo", StatusCode: 401, Message: "expired"}
			}
			return len(chunk), 0, nil
		},
	}

	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(5),
		Mode:       enum.MutationTrash,
	})

	var apiErr *errs.ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 2, p.calls(), "dispatch halts at the failing chunk")
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 4, result.Errors, "failed chunk plus undispatched chunks all count as errors")
}

func TestSweep_RecordUsageFailureDoesNotFailSweep(t *testing.T) {
	ledger := &mockLedger{
		quota:    interfaces.Quota{Remaining: 100},
		usageErr: assert.AnError,
	}
	engine := newTestEngine(ledger)
	p := &mockProvider{caps: interfaces.Capabilities{MutationBatchSize: 100}}

	result, err := engine.Sweep(context.Background(), p, SweepRequest{
		UserEmail:  "u@x.com",
		MessageIDs: ids(10),
		Mode:       enum.MutationTrash,
		Query:      "from:promos@shop.io",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)
	// Remaining stays unset when the ledger write failed: the number would
	// be a guess.
	assert.Nil(t, result.Remaining)
	assert.Equal(t, "from:promos@shop.io", ledger.lastQuery)
}
