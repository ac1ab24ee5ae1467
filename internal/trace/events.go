package trace

import (
	"net"
	"time"
)

// Event is the sum type the Engine emits to its consumer. This replaces the
// teacher's multi-method callback interface (Config.OnHop and friends) —
// spec §9's DESIGN NOTES call that shape a "partial-implementation hazard".
// Consumers handle events with a type switch:
//
//	switch ev := event.(type) {
//	case trace.StartedEvent:
//	case trace.FinishedEvent:
//	}
type Event interface {
	isEvent()
}

// EventSink receives events from an Engine, one at a time, on the Engine's
// owning goroutine, in the total order described by spec §5.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// StartedEvent is emitted once name resolution succeeds and the probe
// socket is open.
type StartedEvent struct {
	Address net.IP
}

// FailedEvent is emitted on resolver or socket-open failure, or after
// probes_per_hop consecutive send failures within one hop. It is always the
// last event for its run.
type FailedEvent struct {
	Kind ErrorKind
	Err  error
}

// ProbeSentEvent is emitted immediately after a probe is sent.
type ProbeSentEvent struct {
	Hop      int
	Sequence uint16
}

// ResponseReceivedEvent is emitted when an inbound packet is matched to an
// in-flight probe.
type ResponseReceivedEvent struct {
	Hop int
	RTT time.Duration
}

// ProbeTimeoutEvent is emitted once per probe whose deadline elapsed
// without a matching response.
type ProbeTimeoutEvent struct {
	Hop int
}

// HopProbeCompletedEvent is emitted whenever one probe slot reaches a
// terminal outcome (Responded, TimedOut, or Errored).
type HopProbeCompletedEvent struct {
	Hop        int
	ProbeIndex int
	Outcome    ProbeOutcome
}

// HopCompletedEvent is emitted once every probe slot in a hop is terminal.
type HopCompletedEvent struct {
	Hop HopRecord
}

// FinishedEvent is emitted when the engine reaches the Finished state after
// a completed run (not after an external Stop). It is always the last event.
type FinishedEvent struct {
	Result *TracerouteResult
}

func (StartedEvent) isEvent()           {}
func (FailedEvent) isEvent()            {}
func (ProbeSentEvent) isEvent()         {}
func (ResponseReceivedEvent) isEvent()  {}
func (ProbeTimeoutEvent) isEvent()      {}
func (HopProbeCompletedEvent) isEvent() {}
func (HopCompletedEvent) isEvent()      {}
func (FinishedEvent) isEvent()          {}
