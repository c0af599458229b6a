// Package worker consumes the post-commit queue: PDF revision cleanup and
// logical event relay.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/queue"
	"github.com/worawit/docflow/internal/s3storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store  *s3storage.Storage
	logger *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(store *s3storage.Storage, logger *zap.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.CleanupPDFTask, p.handleCleanup)
	mux.HandleFunc(queue.NotifyEventTask, p.handleEvent)
	return mux
}

func (p *Processor) handleCleanup(ctx context.Context, task *asynq.Task) error {
	var payload queue.CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.store.Remove(ctx, payload.ObjectKey); err != nil {
		p.logger.Warn("cleanup failed, will retry",
			zap.String("document_id", payload.DocumentID),
			zap.String("object_key", payload.ObjectKey),
			zap.Error(err))
		return err
	}
	p.logger.Info("removed superseded pdf",
		zap.String("document_id", payload.DocumentID),
		zap.String("object_key", payload.ObjectKey))
	return nil
}

// handleEvent relays the logical event. The realtime channel is fire and
// forget; we log the event so operators can trace fan-out even when the
// downstream transport drops it.
func (p *Processor) handleEvent(ctx context.Context, task *asynq.Task) error {
	var payload queue.EventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	p.logger.Info("event",
		zap.String("event", payload.Event),
		zap.String("document_id", payload.DocumentID),
		zap.String("actor_id", payload.ActorID),
		zap.String("detail", payload.Detail))
	return nil
}
