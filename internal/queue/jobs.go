// Package queue defines the asynq tasks scheduled after state-machine
// commits: deferred cleanup of superseded PDFs and logical event fan-out.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// CleanupPDFTask removes a superseded PDF revision. It is only enqueued
	// after the replacing revision has been committed, so losing the race
	// never loses the only valid PDF.
	CleanupPDFTask = "pdf:cleanup"
	// NotifyEventTask relays a logical event to the notification channel.
	NotifyEventTask = "notify:event"
)

// Logical event names consumed by the realtime boundary.
const (
	EventDocumentAdvanced    = "document.advanced"
	EventDocumentRejected    = "document.rejected"
	EventAssignmentCompleted = "assignment.completed"
)

// CleanupPayload names the object to delete.
type CleanupPayload struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key"`
}

// EventPayload is a logical event. Delivery guarantees belong to the
// downstream channel, not to us.
type EventPayload struct {
	Event      string `json:"event"`
	DocumentID string `json:"document_id"`
	ActorID    string `json:"actor_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// EnqueueCleanup schedules removal of a superseded PDF revision.
func EnqueueCleanup(ctx context.Context, client *asynq.Client, payload CleanupPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(CleanupPDFTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}

// Dispatcher adapts the asynq client to the flow service's interface.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Cleanup schedules removal of a superseded PDF revision.
func (d *Dispatcher) Cleanup(ctx context.Context, payload CleanupPayload) error {
	return EnqueueCleanup(ctx, d.client, payload)
}

// Event schedules event fan-out.
func (d *Dispatcher) Event(ctx context.Context, payload EventPayload) error {
	return EnqueueEvent(ctx, d.client, payload)
}

// EnqueueEvent schedules event fan-out.
func EnqueueEvent(ctx context.Context, client *asynq.Client, payload EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(NotifyEventTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue event task: %w", err)
	}
	return nil
}
