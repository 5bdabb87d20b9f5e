package llm

import (
	"context"
	"fmt"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// FallbackClient tries a primary provider and, on failure, an ordered chain
// of fallback providers.
type FallbackClient struct {
	chain  []Client
	logger telemetry.Logger
}

// NewFallbackClient builds a chain tried in order; the first client to
// succeed wins. If every client fails, the last client's error is returned.
func NewFallbackClient(logger telemetry.Logger, chain ...Client) *FallbackClient {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return &FallbackClient{chain: chain, logger: logger}
}

func (f *FallbackClient) GenerateStructured(ctx context.Context, prompt string, schema Schema) (map[string]interface{}, error) {
	if len(f.chain) == 0 {
		return nil, model.NewError("llm.FallbackClient", fmt.Errorf("%w: no providers configured", model.ErrLLMFailure))
	}

	var lastErr error
	for i, c := range f.chain {
		out, err := c.GenerateStructured(ctx, prompt, schema)
		if err == nil {
			return out, nil
		}
		lastErr = err
		f.logger.WarnWithContext(ctx, "llm: provider failed, trying next in chain", map[string]interface{}{
			"provider_index": i,
			"error":          err.Error(),
		})
	}
	return nil, lastErr
}

// NoopClient returns a fixed, schema-shaped empty response without calling
// any provider. Used in non-production modes so the pipeline and chat
// orchestrator remain exercisable without API keys.
type NoopClient struct {
	Response map[string]interface{}
}

func (n NoopClient) GenerateStructured(_ context.Context, _ string, schema Schema) (map[string]interface{}, error) {
	if n.Response != nil {
		return n.Response, nil
	}
	out := make(map[string]interface{}, len(schema))
	for k := range schema {
		out[k] = nil
	}
	return out, nil
}
