// Package backend defines the processing-backend contract consumed by the
// worker. Backends own the actual audio transforms; the worker only needs
// the call contract and the transient/permanent error classification.
package backend

import (
	"context"
	"fmt"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// Processor turns one input file reference into one output file reference.
// A failure wrapped in domain.TransientError is eligible for automatic
// retry (broker hiccup, backend timeout); anything else is permanent and
// terminates the job.
type Processor interface {
	Process(ctx context.Context, settings map[string]any, inputRef string) (string, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, settings map[string]any, inputRef string) (string, error)

func (f ProcessorFunc) Process(ctx context.Context, settings map[string]any, inputRef string) (string, error) {
	return f(ctx, settings, inputRef)
}

// Registry maps tool types to their processors.
type Registry struct {
	processors map[domain.ToolType]Processor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.ToolType]Processor),
	}
}

// Register binds a processor to a tool type, replacing any previous binding.
func (r *Registry) Register(tool domain.ToolType, p Processor) {
	r.processors[tool] = p
}

// Get returns the processor for a tool type.
func (r *Registry) Get(tool domain.ToolType) (Processor, error) {
	p, ok := r.processors[tool]
	if !ok {
		return nil, fmt.Errorf("no processor registered for tool type %q", tool)
	}
	return p, nil
}
