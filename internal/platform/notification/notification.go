// Package notification fans goal and patient lifecycle events out to the rest
// of the system: the message broker, connected websocket clients, and any
// in-process listeners. Delivery is fire-and-forget from the caller's side.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Event Types
// ---------------------------------------------------------------------------

// EventType identifies what happened. It doubles as the broker routing key.
type EventType string

const (
	EventCascadeOffered       EventType = "goal.cascade_offered"
	EventGoalAchieved         EventType = "goal.achieved"
	EventPatientStatusChanged EventType = "patient.status_changed"
)

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is a single notification about one patient.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	PatientID  string            `json:"patient_id"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Bus accepts events. Emit never blocks on, or reports, downstream delivery.
type Bus interface {
	Emit(ctx context.Context, event Event)
}

// Sink is one delivery channel behind a Fanout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// ---------------------------------------------------------------------------
// Fanout
// ---------------------------------------------------------------------------

// Fanout is the Bus used by the server. It stamps events, renders the
// human-readable message, and hands the event to every sink in order. Sink
// failures are logged and otherwise ignored.
type Fanout struct {
	sinks     []Sink
	templates *TemplateEngine
	logger    zerolog.Logger
}

// NewFanout creates a Fanout. A nil template engine skips message rendering.
func NewFanout(logger zerolog.Logger, templates *TemplateEngine, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, templates: templates, logger: logger}
}

// Emit implements Bus.
func (f *Fanout) Emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Payload == nil {
		event.Payload = map[string]string{}
	}
	if f.templates != nil {
		if msg, err := f.templates.Render(string(event.Type), event.Payload); err == nil {
			event.Payload["message"] = msg
		}
	}

	for _, s := range f.sinks {
		if err := s.Deliver(ctx, event); err != nil {
			f.logger.Warn().Err(err).
				Str("sink", s.Name()).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Str("patient_id", event.PatientID).
				Msg("notification delivery failed")
		}
	}
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

var errRecorderFailed = errors.New("recorder: delivery failed")

// Recorder keeps every event it sees. It serves as an in-process sink and as
// a Bus test double.
type Recorder struct {
	mu         sync.Mutex
	events     []Event
	ShouldFail bool
}

func (r *Recorder) Name() string { return "recorder" }

// Deliver records the event and optionally fails.
func (r *Recorder) Deliver(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.ShouldFail {
		return errRecorderFailed
	}
	return nil
}

// Emit implements Bus.
func (r *Recorder) Emit(ctx context.Context, event Event) {
	_ = r.Deliver(ctx, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
