package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/asaidimu/go-loom/core/schema"
)

// PersistenceEventType names an event emitted on the persistence bus.
type PersistenceEventType string

const (
	CollectionCreateStart   PersistenceEventType = "collection:create:start"
	CollectionCreateSuccess PersistenceEventType = "collection:create:success"
	CollectionCreateFailed  PersistenceEventType = "collection:create:failed"
	DocumentCreateStart     PersistenceEventType = "document:create:start"
	DocumentCreateSuccess   PersistenceEventType = "document:create:success"
	DocumentCreateFailed    PersistenceEventType = "document:create:failed"
	DocumentDeleteStart     PersistenceEventType = "document:delete:start"
	DocumentDeleteSuccess   PersistenceEventType = "document:delete:success"
	DocumentDeleteFailed    PersistenceEventType = "document:delete:failed"
	LoadStart               PersistenceEventType = "load:start"
	LoadSuccess             PersistenceEventType = "load:success"
	LoadFailed              PersistenceEventType = "load:failed"
)

// PersistenceEvent is the payload of every persistence event.
type PersistenceEvent struct {
	Type      PersistenceEventType `json:"type"`
	Timestamp int64                `json:"timestamp"` // Unix milliseconds
	Operation string               `json:"operation"`
	// Entity is the entity the operation ran against.
	Entity string         `json:"entity,omitempty"`
	Input  any            `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
	Error  *string        `json:"error,omitempty"`
	Issues []schema.Issue `json:"issues,omitempty"`
	// Duration of the operation in milliseconds, set on success and failure.
	Duration *int64 `json:"duration,omitempty"`
}

// EventCallbackFunction receives persistence events.
type EventCallbackFunction func(ctx context.Context, event PersistenceEvent) error

// RegisterSubscriptionOptions describes a subscription to register.
type RegisterSubscriptionOptions struct {
	Event       PersistenceEventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	Id          *string              `json:"id,omitempty"`
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Unsubscribe func()               `json:"-"`
}

// eventStages groups the start, success and failure events of an operation.
type eventStages struct {
	start, success, failed PersistenceEventType
}

var (
	collectionCreateEvents = eventStages{CollectionCreateStart, CollectionCreateSuccess, CollectionCreateFailed}
	documentCreateEvents   = eventStages{DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed}
	documentDeleteEvents   = eventStages{DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed}
	loadEvents             = eventStages{LoadStart, LoadSuccess, LoadFailed}
)

func createEvent(eventType PersistenceEventType, operation, entity string, input, output any, err error, startTime time.Time) PersistenceEvent {
	event := PersistenceEvent{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Operation: operation,
		Entity:    entity,
		Input:     input,
		Output:    output,
	}
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		event.Duration = &d
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
		var verr *ValidationError
		if errors.As(err, &verr) {
			event.Issues = verr.Issues
		}
	}
	return event
}

// emitEvent publishes on the bus, if any.
func (p *Persistence) emitEvent(event PersistenceEvent) {
	if p.bus != nil {
		p.bus.Emit(string(event.Type), event)
	}
}

// withEventEmission runs fn between a start event and a success or failure
// event.
func (p *Persistence) withEventEmission(operation, entity string, stages eventStages, input any, fn func() (any, error)) (any, error) {
	startTime := time.Now()
	p.emitEvent(createEvent(stages.start, operation, entity, input, nil, nil, time.Time{}))

	result, err := fn()
	if err != nil {
		p.emitEvent(createEvent(stages.failed, operation, entity, input, nil, err, startTime))
		return nil, err
	}
	p.emitEvent(createEvent(stages.success, operation, entity, input, result, nil, startTime))
	return result, nil
}
