package embedding

import "fmt"

// Provider identifies an embedder implementation.
type Provider string

const (
	// ProviderMock is the deterministic shingle-hash embedder.
	ProviderMock Provider = "mock"
	// ProviderOpenAI is an OpenAI-compatible remote embeddings endpoint.
	ProviderOpenAI Provider = "openai"
)

// Config selects and configures an embedder implementation at startup.
type Config struct {
	Provider   string
	Dimensions int
	CacheSize  int
	Remote     RemoteConfig
}

// NewEmbedder creates an embedder for cfg.Provider ("mock" by default),
// wrapped with an LRU cache when cfg.CacheSize is positive.
func NewEmbedder(cfg Config) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch Provider(cfg.Provider) {
	case ProviderMock, "":
		inner = NewMockEmbedder(cfg.Dimensions)
	case ProviderOpenAI:
		rc := cfg.Remote
		if rc.Dimensions == 0 {
			rc.Dimensions = cfg.Dimensions
		}
		inner, err = NewRemoteEmbedder(rc)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, openai)", cfg.Provider)
	}
	return NewCached(inner, cfg.CacheSize), nil
}
