package vector

import "fmt"

// BackendType selects the vector store implementation at startup.
type BackendType string

const (
	// BackendLocal is the in-process persisted store.
	BackendLocal BackendType = "local"
	// BackendQdrant delegates to a remote Qdrant instance.
	BackendQdrant BackendType = "qdrant"
)

// Config selects and configures a vector store backend.
type Config struct {
	Backend string
	DataDir string
	Qdrant  QdrantConfig
}

// NewStore creates the configured store variant ("local" by default).
func NewStore(dim int, cfg Config) (Store, error) {
	switch BackendType(cfg.Backend) {
	case BackendLocal, "":
		return NewLocalStore(dim, cfg.DataDir)
	case BackendQdrant:
		return NewQdrantStore(dim, cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: local, qdrant)", cfg.Backend)
	}
}
