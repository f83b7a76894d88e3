package extraction

import (
	"context"

	"github.com/monitorhub/monitorhub/internal/models"
)

// Extraction is the structured result of one fact-extraction attempt
type Extraction struct {
	Result     bool              `json:"result"`      // condition satisfied
	Confidence float64           `json:"confidence"`  // 0..1
	FactValues map[string]string `json:"fact_values"` // extracted facts, e.g. {"price": "201.34"}
	Summary    string            `json:"summary"`     // short explanation of the verdict
}

// Extractor extracts facts from source content and evaluates a monitor's
// condition against them. The orchestrator calls this at most once per
// evaluation attempt. Implementations must be safe for concurrent use.
type Extractor interface {
	ExtractAndEvaluate(ctx context.Context, monitor *models.Monitor, content string) (*Extraction, error)
}

// ProviderFactory creates an extractor from provider-specific configuration
type ProviderFactory func(config map[string]string) (Extractor, error)

// ProviderRegistry stores available extraction providers
type ProviderRegistry struct {
	providers map[string]ProviderFactory
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]ProviderFactory)}
}

// Register registers a provider factory
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.providers[name] = factory
}

// GetProvider gets a provider by name
func (r *ProviderRegistry) GetProvider(name string, config map[string]string) (Extractor, error) {
	factory, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}
	return factory(config)
}

// ErrProviderNotFound is returned when a provider is not found
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return "extraction provider not found: " + e.Name
}
