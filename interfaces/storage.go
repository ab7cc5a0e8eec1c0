package interfaces

import "context"

type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, max int) ([]StoredObject, error)
	TestAccess(ctx context.Context) error
}

type StoredObject struct {
	Key          string            `json:"key"`
	SizeKB       float64           `json:"size_kb"`
	LastModified string            `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
