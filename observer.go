package veld

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer receives container lifecycle events. Events use the
// CloudEvents specification for standardized format.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to
	// occurs. Observers should return quickly to avoid delaying other
	// observers.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used
	// for registration tracking.
	ObserverID() string
}

// EventType constants for container lifecycle events, using reverse
// domain notation per the CloudEvents specification.
const (
	EventTypeComponentRegistered = "com.veld.component.registered"
	EventTypeComponentResolved   = "com.veld.component.resolved"
	EventTypeComponentFailed     = "com.veld.component.failed"

	EventTypeContainerRefreshed = "com.veld.container.refreshed"
	EventTypeContainerStarted   = "com.veld.container.started"
	EventTypeContainerStopped   = "com.veld.container.stopped"
	EventTypeContainerDestroyed = "com.veld.container.destroyed"
)

// NewCloudEvent creates a CloudEvent with the required attributes set:
// a time-ordered UUIDv7 id (v4 fallback), the given type and source,
// and JSON-encoded data when provided.
func NewCloudEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

type observerRegistration struct {
	observer   Observer
	eventTypes map[string]bool // empty = all events
	registered time.Time
}

// ObserverInfo describes one registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// observerRegistry implements the subject side of the observer
// pattern for the container. Notification errors are logged per
// observer and never abort delivery to the remaining observers.
type observerRegistry struct {
	mu            sync.RWMutex
	registrations []observerRegistration
	logger        Logger
}

func newObserverRegistry(logger Logger) *observerRegistry {
	return &observerRegistry{logger: logger}
}

// register adds an observer, optionally filtered to the given event
// types. An empty filter receives all events.
func (r *observerRegistry) register(observer Observer, eventTypes ...string) {
	filter := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, observerRegistration{
		observer:   observer,
		eventTypes: filter,
		registered: time.Now(),
	})
}

// unregister removes an observer. Removing an unknown observer is a
// no-op.
func (r *observerRegistry) unregister(observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.registrations {
		if reg.observer.ObserverID() == observer.ObserverID() {
			r.registrations = append(r.registrations[:i], r.registrations[i+1:]...)
			return
		}
	}
}

// notify delivers an event to every matching observer.
func (r *observerRegistry) notify(ctx context.Context, event cloudevents.Event) {
	r.mu.RLock()
	registrations := make([]observerRegistration, len(r.registrations))
	copy(registrations, r.registrations)
	r.mu.RUnlock()

	for _, reg := range registrations {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		if err := reg.observer.OnEvent(ctx, event); err != nil {
			r.logger.Debug("Observer failed to handle event",
				"observer", reg.observer.ObserverID(), "eventType", event.Type(), "error", err)
		}
	}
}

// observers reports the currently registered observers.
func (r *observerRegistry) observers() []ObserverInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ObserverInfo, 0, len(r.registrations))
	for _, reg := range r.registrations {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		infos = append(infos, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registered,
		})
	}
	return infos
}

// FunctionalObserver adapts a handler function to the Observer
// interface for quick observer creation without defining a struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates to the
// provided handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }
