// Package llm defines the provider-abstracted boundary workers use for
// structured generation. This package supplies the interface, an
// OpenAI-shaped HTTP adapter, a fallback chain, and a noop provider for
// non-production modes.
package llm

import (
	"context"

	"github.com/tripforge/itinerary-engine/internal/model"
)

// Schema is a JSON-shaped constraint a structured generation must conform
// to. It is passed through to the provider; the engine does not interpret
// it beyond forwarding and validating the shape of what comes back.
type Schema map[string]interface{}

// Client is the structured-generation boundary every worker calls through.
// Implementations own provider-specific API keys, retry-on-malformed-output,
// and fallback chaining.
type Client interface {
	// GenerateStructured asks the provider for a response conforming to
	// schema. On malformed output it retries internally up to twice before
	// returning model.ErrLLMFailure.
	GenerateStructured(ctx context.Context, prompt string, schema Schema) (map[string]interface{}, error)
}

// Options configures a single generation call.
type Options struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// DefaultOptions returns the generation defaults used when a caller doesn't
// override them.
func DefaultOptions() Options {
	return Options{Model: "gpt-4", Temperature: 0.7, MaxTokens: 1000}
}
