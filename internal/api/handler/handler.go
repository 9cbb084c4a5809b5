package handler

import (
	"log/slog"

	"github.com/cuongbtq/audio-processing-be/internal/jobstore"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/scheduler"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Scheduler *scheduler.Manager
	Store     jobstore.Store
	Bus       *progress.Bus
}

// ProcessingHandler handles audio processing HTTP requests
type ProcessingHandler struct {
	logger    *slog.Logger
	scheduler *scheduler.Manager
	store     jobstore.Store
	bus       *progress.Bus
}

// NewProcessingHandler creates a new ProcessingHandler instance
func NewProcessingHandler(deps *Dependencies) *ProcessingHandler {
	return &ProcessingHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		bus:       deps.Bus,
	}
}
