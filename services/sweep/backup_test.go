package sweep

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/interfaces"
)

// recordingStorage captures every upload for inspection.
type recordingStorage struct {
	mu      sync.Mutex
	uploads map[string]uploadRecord
}

type uploadRecord struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{uploads: make(map[string]uploadRecord)}
}

func (s *recordingStorage) Upload(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[key] = uploadRecord{data: data, contentType: contentType, metadata: metadata}
	return nil
}

func (s *recordingStorage) Download(context.Context, string) ([]byte, error) { return nil, nil }
func (s *recordingStorage) Delete(context.Context, string) error            { return nil }
func (s *recordingStorage) List(context.Context, string, int) ([]interfaces.StoredObject, error) {
	return nil, nil
}
func (s *recordingStorage) TestAccess(context.Context) error { return nil }

// rawProvider serves canned raw messages and metadata.
type rawProvider struct {
	mockProvider
	raw     map[string][]byte
	subject map[string]string
}

func (p *rawProvider) GetRawMessage(_ context.Context, id string) ([]byte, error) {
	data, ok := p.raw[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return data, nil
}

func (p *rawProvider) GetMetadata(_ context.Context, ids []string) ([]interfaces.MessageMeta, error) {
	out := make([]interfaces.MessageMeta, 0, len(ids))
	for _, id := range ids {
		if subject, ok := p.subject[id]; ok {
			out = append(out, interfaces.MessageMeta{ID: id, Subject: subject, From: "sender@x.com"})
		}
	}
	return out, nil
}

// vaultKeyPattern is user/year/month/timestamp_id_subject.eml
var vaultKeyPattern = regexp.MustCompile(`^u@x\.com/\d{4}/\d{2}/\d{8}_\d{6}_msg-1_Big_Sale\.eml$`)

func TestBackupQueue_StoresRawMessagesUnderDatedKeys(t *testing.T) {
	store := newRecordingStorage()
	p := &rawProvider{
		raw:     map[string][]byte{"msg-1": []byte("From: sender@x.com\r\n\r\nbody")},
		subject: map[string]string{"msg-1": "Big Sale!"},
	}

	q := NewBackupQueue(testLogger(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(BackupJob{
		UserEmail:  "u@x.com",
		MessageIDs: []string{"msg-1"},
		Storage:    store,
		Provider: func(context.Context) (interfaces.MailProvider, error) {
			return p, nil
		},
	})
	require.True(t, ok)
	q.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.uploads, 1)
	for key, rec := range store.uploads {
		assert.Regexp(t, vaultKeyPattern, key)
		assert.Equal(t, "message/rfc822", rec.contentType)
		assert.Equal(t, []byte("From: sender@x.com\r\n\r\nbody"), rec.data)
		assert.Equal(t, "msg-1", rec.metadata["msg-id"])
		assert.Equal(t, "Big Sale!", rec.metadata["subject"])
		assert.Equal(t, "sender@x.com", rec.metadata["sender"])
		assert.NotEmpty(t, rec.metadata["archived-at"])
	}
}

func TestBackupQueue_SkipsUnfetchableMessages(t *testing.T) {
	store := newRecordingStorage()
	p := &rawProvider{
		raw:     map[string][]byte{"good": []byte("ok")},
		subject: map[string]string{"good": "kept"},
	}

	q := NewBackupQueue(testLogger(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(BackupJob{
		UserEmail:  "u@x.com",
		MessageIDs: []string{"missing", "good"},
		Storage:    store,
		Provider: func(context.Context) (interfaces.MailProvider, error) {
			return p, nil
		},
	})
	q.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.uploads, 1)
}

func TestBackupQueue_PrecapturedItemsNeedNoProvider(t *testing.T) {
	store := newRecordingStorage()

	// Yahoo's UIDs die with the expunge, so the sweep hands the queue raw
	// content captured up front and no provider factory at all.
	q := NewBackupQueue(testLogger(), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(BackupJob{
		UserEmail: "u@x.com",
		Items: []BackupItem{
			{ID: "101", Raw: []byte("From: a@x.com\r\n\r\none"), Subject: "First", Sender: "a@x.com"},
			{ID: "102", Raw: []byte("From: b@x.com\r\n\r\ntwo"), Subject: "Second", Sender: "b@x.com"},
		},
		Storage: store,
	})
	require.True(t, ok)
	q.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.uploads, 2)
	subjects := map[string]bool{}
	for key, rec := range store.uploads {
		assert.Regexp(t, `\.eml$`, key)
		assert.Equal(t, "message/rfc822", rec.contentType)
		subjects[rec.metadata["subject"]] = true
	}
	assert.True(t, subjects["First"])
	assert.True(t, subjects["Second"])
}

func TestBackupQueue_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	q := NewBackupQueue(testLogger(), 1)
	// Not started: the single slot fills and stays full.

	first := q.Enqueue(BackupJob{UserEmail: "u@x.com"})
	second := q.Enqueue(BackupJob{UserEmail: "u@x.com"})

	assert.True(t, first)
	assert.False(t, second)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 256))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long), 256), 256)
}
