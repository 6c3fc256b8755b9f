package clientcfg

import (
	"context"
	"sync"

	"github.com/verilens/detection-engine/pkg/models"
)

// Default limits applied when a client has no stored configuration.
const (
	DefaultRequestsPerMinute = 120
	DefaultRequestsPerDay    = 10000
	DefaultConcurrentCap     = 16
)

// Provider defines the interface for per-client configuration lookup
type Provider interface {
	// GetClientConfig retrieves the configuration for a client, falling back
	// to defaults when the client has none
	GetClientConfig(ctx context.Context, clientID string) (*models.ClientConfig, error)
}

// DefaultConfig returns the configuration used for clients without a stored
// record. ConfidenceThreshold stays zero so the engine default applies.
func DefaultConfig(clientID string) *models.ClientConfig {
	return &models.ClientConfig{
		ClientID:          clientID,
		RequestsPerMinute: DefaultRequestsPerMinute,
		RequestsPerDay:    DefaultRequestsPerDay,
		ConcurrentCap:     DefaultConcurrentCap,
	}
}

// MemoryProvider is an in-process Provider backed by a map. It serves
// single-node deployments and tests.
type MemoryProvider struct {
	mu      sync.RWMutex
	configs map[string]*models.ClientConfig
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		configs: make(map[string]*models.ClientConfig),
	}
}

// Set stores or replaces the configuration for a client.
func (p *MemoryProvider) Set(cfg *models.ClientConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[cfg.ClientID] = cfg
}

// GetClientConfig returns the stored configuration for the client, or the
// defaults when none exists. The returned struct is a copy; callers may not
// mutate provider state through it.
func (p *MemoryProvider) GetClientConfig(_ context.Context, clientID string) (*models.ClientConfig, error) {
	p.mu.RLock()
	cfg, ok := p.configs[clientID]
	p.mu.RUnlock()

	if !ok {
		return DefaultConfig(clientID), nil
	}
	return copyConfig(cfg), nil
}

func copyConfig(cfg *models.ClientConfig) *models.ClientConfig {
	out := *cfg
	if len(cfg.PreferredModels) > 0 {
		out.PreferredModels = append([]string(nil), cfg.PreferredModels...)
	}
	return &out
}
