package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/margindev/margin/internal/slogging"
	"github.com/redis/go-redis/v9"
)

// AnnotationAction identifies the mutation an AnnotationEvent describes.
// Reads and reindexing never produce events.
type AnnotationAction string

const (
	// ActionCreate is raised after an annotation is created
	ActionCreate AnnotationAction = "create"
	// ActionUpdate is raised after an annotation is updated
	ActionUpdate AnnotationAction = "update"
	// ActionDelete is reserved for flows that delete annotations with
	// notification; the API delete flow does not raise it
	ActionDelete AnnotationAction = "delete"
)

// Event is a domain notification deliverable through the event stream
type Event interface {
	EventType() string
	StreamValues() map[string]interface{}
}

// AnnotationEvent describes an action taken on a single annotation.
// It is constructed after the mutation succeeds and is immutable afterwards.
type AnnotationEvent struct {
	AnnotationID string
	Action       AnnotationAction
	Timestamp    time.Time
}

// NewAnnotationEvent builds an event for the given annotation and action
func NewAnnotationEvent(annotationID string, action AnnotationAction) AnnotationEvent {
	return AnnotationEvent{
		AnnotationID: annotationID,
		Action:       action,
		Timestamp:    time.Now().UTC(),
	}
}

// EventType returns the stream event type, e.g. "annotation.create"
func (e AnnotationEvent) EventType() string {
	return "annotation." + string(e.Action)
}

// StreamValues returns the flat field map written to the event stream
func (e AnnotationEvent) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"event_type":    e.EventType(),
		"annotation_id": e.AnnotationID,
		"action":        string(e.Action),
		"timestamp":     e.Timestamp.Format(time.RFC3339),
	}
}

// ModeratedAnnotationEvent describes a moderation status change on an
// annotation. Moderation flows construct it with the identifier of the
// moderation log row recording the change; it shares the delivery contract
// with AnnotationEvent.
type ModeratedAnnotationEvent struct {
	ModerationLogID int64
	Timestamp       time.Time
}

// NewModeratedAnnotationEvent builds an event for a moderation log entry
func NewModeratedAnnotationEvent(moderationLogID int64) ModeratedAnnotationEvent {
	return ModeratedAnnotationEvent{
		ModerationLogID: moderationLogID,
		Timestamp:       time.Now().UTC(),
	}
}

// EventType returns the stream event type for moderation changes
func (e ModeratedAnnotationEvent) EventType() string {
	return "annotation.moderated"
}

// StreamValues returns the flat field map written to the event stream
func (e ModeratedAnnotationEvent) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"event_type":        e.EventType(),
		"moderation_log_id": e.ModerationLogID,
		"timestamp":         e.Timestamp.Format(time.RFC3339),
	}
}

// EventSink delivers events to interested subscribers
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// EventEmitter publishes events to a Redis Stream
type EventEmitter struct {
	redisClient *redis.Client
	streamKey   string
}

// NewEventEmitter creates a new event emitter
func NewEventEmitter(redisClient *redis.Client, streamKey string) *EventEmitter {
	return &EventEmitter{
		redisClient: redisClient,
		streamKey:   streamKey,
	}
}

// Emit publishes an event to the Redis Stream. A nil Redis client degrades to
// a logged skip so in-memory deployments keep working.
func (e *EventEmitter) Emit(ctx context.Context, event Event) error {
	logger := slogging.Get()

	if e.redisClient == nil {
		logger.Warn("Redis client not available, skipping event emission for %s", event.EventType())
		return nil
	}

	values := event.StreamValues()

	// Full payload as one JSON field alongside the flat fields, so consumers
	// can either index on fields or decode the whole event
	payloadJSON, err := json.Marshal(values)
	if err != nil {
		logger.Error("failed to serialize event payload: %v", err)
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}
	values["payload"] = string(payloadJSON)

	_, err = e.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: e.streamKey,
		Values: values,
	}).Result()

	if err != nil {
		// The mutation already committed; delivery is best-effort
		logger.Error("failed to emit event to Redis Stream: %v", err)
		return nil
	}

	if ae, ok := event.(AnnotationEvent); ok {
		CountAnnotationEvent(ae.Action)
	}

	logger.Debug("emitted event: %s", event.EventType())
	return nil
}

// UnitOfWork ties event delivery to the success of a database transaction.
// Events registered with NotifyAfterCommit are flushed to the sink only after
// Commit succeeds; Rollback discards them. This keeps "data is durably
// written" strictly ahead of "subscribers are notified".
type UnitOfWork struct {
	tx      *sql.Tx
	sink    EventSink
	pending []Event
	done    bool
}

// Tx returns the underlying transaction for store operations
func (u *UnitOfWork) Tx() *sql.Tx {
	return u.tx
}

// NotifyAfterCommit schedules an event for delivery after a successful commit
func (u *UnitOfWork) NotifyAfterCommit(event Event) {
	u.pending = append(u.pending, event)
}

// Commit commits the transaction and then flushes pending events. If the
// commit fails no event is delivered and the error is returned unchanged.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already finished")
	}
	u.done = true

	if err := u.tx.Commit(); err != nil {
		u.pending = nil
		return err
	}

	for _, event := range u.pending {
		if err := u.sink.Emit(ctx, event); err != nil {
			slogging.Get().Error("event delivery failed after commit: %v", err)
		}
	}
	u.pending = nil
	return nil
}

// Rollback aborts the transaction and discards any pending events
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.pending = nil
	return u.tx.Rollback()
}

// TxManager begins units of work bound to the event sink
type TxManager struct {
	db   *sql.DB
	sink EventSink
}

// NewTxManager creates a transaction manager over the given database
func NewTxManager(db *sql.DB, sink EventSink) *TxManager {
	return &TxManager{
		db:   db,
		sink: sink,
	}
}

// Begin opens a transaction wrapped in a UnitOfWork
func (m *TxManager) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{
		tx:   tx,
		sink: m.sink,
	}, nil
}
