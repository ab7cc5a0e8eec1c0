package interfaces

import (
	"context"

	"github.com/mailsweep/mailsweep/internal/enum"
)

// MailProvider is the capability set every connected mail account exposes.
// Implementations translate the canonical query and folder vocabulary into
// their native form (Gmail search syntax, Graph $search, IMAP search keys).
type MailProvider interface {
	Name() enum.Provider

	// TestConnection performs one cheap read-only call to establish the
	// credential actually grants mailbox access. Never mutates.
	TestConnection(ctx context.Context) ConnectionResult

	// Stat returns message counts for the account. OAuth providers may attach
	// a per-folder breakdown; Total and Unread are always present.
	Stat(ctx context.Context) (*InboxStats, error)

	// ListMessages runs one page of a search. An empty page token starts a
	// new search; an empty NextPageToken in the result means no more pages.
	ListMessages(ctx context.Context, query, folder, pageToken string, pageSize int) (*MessagePage, error)

	// GetMetadata fetches From/Subject/Date headers and labels for ids.
	// Failures are per-message: missing ids are skipped, not fatal.
	GetMetadata(ctx context.Context, ids []string) ([]MessageMeta, error)

	// GetRawMessage returns the full RFC 822 content of one message.
	GetRawMessage(ctx context.Context, id string) ([]byte, error)

	// BatchMutate applies one mutation to a set of ids already sized to the
	// provider's batch limit. It reports per-id success/error counts and only
	// returns a non-nil error for failures that should halt further chunks
	// (auth problems).
	BatchMutate(ctx context.Context, ids []string, mode enum.MutationMode) (succeeded int, failed int, err error)

	// ListFolders returns canonical folder names available on the account.
	ListFolders(ctx context.Context) ([]string, error)

	// Capabilities describes how the mutation engine may drive this provider.
	Capabilities() Capabilities

	// Close releases the underlying connection. Safe to call twice.
	Close() error
}

// Capabilities bounds chunk sizing and parallelism per provider family.
type Capabilities struct {
	// MutationBatchSize is the largest id set one BatchMutate call accepts.
	MutationBatchSize int
	// ConcurrentBatches is true when independent BatchMutate calls are safe
	// to run in parallel. False for IMAP: one stateful connection, no safe
	// command pipelining.
	ConcurrentBatches bool
	// TrashedIDsFetchable is true when GetRawMessage still resolves an id
	// after the message was moved to trash. False for IMAP, where the
	// copy to Trash assigns a new UID and the inbox UID dies with the
	// expunge; callers must capture raw content before mutating.
	TrashedIDsFetchable bool
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type InboxStats struct {
	Total   int                    `json:"total"`
	Unread  int                    `json:"unread"`
	Folders map[string]FolderStats `json:"folders,omitempty"`
}

type FolderStats struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

type MessagePage struct {
	IDs []string
	// ResultEstimate is the provider's own match-count estimate. Only the
	// first page's value is trustworthy; later pages may be stale or absent.
	ResultEstimate int
	NextPageToken  string
}

type MessageMeta struct {
	ID      string   `json:"id"`
	From    string   `json:"from"`
	Subject string   `json:"subject"`
	Date    string   `json:"date"`
	Labels  []string `json:"labels,omitempty"`
	SizeMB  float64  `json:"sizeMB,omitempty"`
}
