package deferred

import (
	"time"

	"deferkit/internal/eventbus"
)

// Event types published on Options.Bus.
const (
	EventArmed      = "deferred.armed"
	EventSuperseded = "deferred.superseded"
	EventFired      = "deferred.fired"
	EventCancelled  = "deferred.cancelled"
	EventFaulted    = "deferred.faulted"
	EventThrottled  = "deferred.throttled"
)

// OpEvent is the payload of every deferred.* event.
type OpEvent struct {
	ID    string        `json:"id,omitempty"`
	Kind  string        `json:"kind"`
	Key   string        `json:"key,omitempty"`
	Op    string        `json:"op"`
	Delay time.Duration `json:"delay,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (s *Scheduler) publish(typ string, ev OpEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}

func handleEvent(h *Handle, op string, delay time.Duration) OpEvent {
	return OpEvent{ID: h.ID(), Kind: h.Kind().String(), Key: h.Key(), Op: op, Delay: delay}
}
