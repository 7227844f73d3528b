/*
Telemetry wraps the Collection Store's record operations with start/success/
failed lifecycle events, mirroring the teacher's withEventEmission pattern
in core/persistence/collection-events.go. It is internal ambient
observability, distinct from the public Event Bus (component E): nothing
here is delivered to database clients, and a telemetry emit never affects
whether a mutation event publishes.
*/
package store

import (
	"time"

	"github.com/asaidimu/go-events"
	"go.uber.org/zap"
)

// RecordEventType enumerates the lifecycle events emitted around each
// record operation.
type RecordEventType string

const (
	RecordCreateStart   RecordEventType = "record:create:start"
	RecordCreateSuccess RecordEventType = "record:create:success"
	RecordCreateFailed  RecordEventType = "record:create:failed"

	RecordReadStart   RecordEventType = "record:read:start"
	RecordReadSuccess RecordEventType = "record:read:success"
	RecordReadFailed  RecordEventType = "record:read:failed"

	RecordUpdateStart   RecordEventType = "record:update:start"
	RecordUpdateSuccess RecordEventType = "record:update:success"
	RecordUpdateFailed  RecordEventType = "record:update:failed"

	RecordDeleteStart   RecordEventType = "record:delete:start"
	RecordDeleteSuccess RecordEventType = "record:delete:success"
	RecordDeleteFailed  RecordEventType = "record:delete:failed"

	RecordFindStart   RecordEventType = "record:find:start"
	RecordFindSuccess RecordEventType = "record:find:success"
	RecordFindFailed  RecordEventType = "record:find:failed"

	CollectionPurged RecordEventType = "collection:purged"

	SlowSubscriber RecordEventType = "subscriber:slow"
)

// RecordEvent is the payload carried on the internal telemetry bus.
type RecordEvent struct {
	Type         RecordEventType `json:"type"`
	CollectionID string          `json:"collection_id"`
	RecordID     string          `json:"record_id,omitempty"`
	Error        *string         `json:"error,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Telemetry emits RecordEvents onto a go-events TypedEventBus and mirrors
// failures to a zap logger, following the teacher's split between an
// in-process event bus for structured telemetry and direct logging for
// operator-facing output.
type Telemetry struct {
	bus    *events.TypedEventBus[RecordEvent]
	logger *zap.Logger
}

// NewTelemetry constructs a Telemetry sink. A nil bus is accepted and
// silently disables telemetry emission, matching the teacher's nil-bus
// tolerance in emitEvent.
func NewTelemetry(bus *events.TypedEventBus[RecordEvent], logger *zap.Logger) *Telemetry {
	return &Telemetry{bus: bus, logger: logger}
}

func (t *Telemetry) emit(event RecordEvent) {
	if t.bus != nil {
		t.bus.Emit(string(event.Type), event)
	}
}

// withTelemetry wraps fn with start/success/failed RecordEvents and logs
// failures at warn level.
func withTelemetry[T any](t *Telemetry, collectionID, recordID string, start, success, failed RecordEventType, fn func() (T, error)) (T, error) {
	startedAt := time.Now()
	t.emit(RecordEvent{Type: start, CollectionID: collectionID, RecordID: recordID, Timestamp: startedAt})

	result, err := fn()
	duration := time.Since(startedAt).Milliseconds()

	if err != nil {
		errStr := err.Error()
		t.emit(RecordEvent{
			Type:         failed,
			CollectionID: collectionID,
			RecordID:     recordID,
			Error:        &errStr,
			DurationMS:   duration,
			Timestamp:    time.Now(),
		})
		if t.logger != nil {
			t.logger.Warn("record operation failed",
				zap.String("collection_id", collectionID),
				zap.String("record_id", recordID),
				zap.String("event", string(failed)),
				zap.Error(err),
			)
		}
		var zero T
		return zero, err
	}

	t.emit(RecordEvent{
		Type:         success,
		CollectionID: collectionID,
		RecordID:     recordID,
		DurationMS:   duration,
		Timestamp:    time.Now(),
	})
	return result, nil
}

// SlowSubscriberWarning records that a publish dropped an event for a slow
// subscriber, wired as the eventbus.Bus's drop handler.
func (t *Telemetry) SlowSubscriberWarning(collectionID string, subscriptionID uint64) {
	t.emit(RecordEvent{
		Type:         SlowSubscriber,
		CollectionID: collectionID,
		Timestamp:    time.Now(),
	})
	if t.logger != nil {
		t.logger.Warn("slow subscriber, dropping oldest buffered event",
			zap.String("collection_id", collectionID),
			zap.Uint64("subscription_id", subscriptionID),
		)
	}
}
