package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// LocalProcessor is a stand-in backend that emulates a DSP pass: it spends a
// configurable amount of time per file and emits a derived output reference.
// Real tool services plug in behind the same Processor contract.
type LocalProcessor struct {
	tool     domain.ToolType
	duration time.Duration
	logger   *slog.Logger
}

// NewLocalProcessor creates a LocalProcessor for one tool type.
func NewLocalProcessor(tool domain.ToolType, duration time.Duration, logger *slog.Logger) *LocalProcessor {
	return &LocalProcessor{
		tool:     tool,
		duration: duration,
		logger:   logger,
	}
}

var _ Processor = (*LocalProcessor)(nil)

func (p *LocalProcessor) Process(ctx context.Context, _ map[string]any, inputRef string) (string, error) {
	p.logger.Debug("Processing file",
		slog.String("tool_type", string(p.tool)),
		slog.String("input", inputRef),
	)

	select {
	case <-time.After(p.duration):
	case <-ctx.Done():
		// A deadline hit mid-call is transient: nothing was produced yet.
		return "", domain.NewTransientError(fmt.Errorf("processing interrupted: %w", ctx.Err()))
	}

	dir, file := path.Split(inputRef)
	return path.Join(dir, "processed_"+file), nil
}

// NewLocalRegistry registers a LocalProcessor for every known tool type.
func NewLocalRegistry(duration time.Duration, logger *slog.Logger) *Registry {
	registry := NewRegistry()
	for _, tool := range []domain.ToolType{
		domain.ToolVocalRemover,
		domain.ToolPitchTempo,
		domain.ToolConverter,
		domain.ToolSplitter,
		domain.ToolKaraoke,
		domain.ToolNoiseReduction,
		domain.ToolVolumeNormalizer,
		domain.ToolEqualizer,
		domain.ToolRecorder,
		domain.ToolCutterJoiner,
		domain.ToolMetadataEditor,
		domain.ToolAudioReverse,
		domain.ToolFadeEffect,
	} {
		registry.Register(tool, NewLocalProcessor(tool, duration, logger))
	}
	return registry
}
