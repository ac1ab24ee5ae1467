// Package trace implements the traceroute engine: a single-threaded,
// cooperative state machine that emits ICMP Echo probes with ascending
// hop-count limits and correlates returning ICMP responses to probes.
package trace

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/poros-engine/internal/probe"
)

// state is the engine's lifecycle state (spec §4.5).
type state int32

const (
	stateIdle state = iota
	stateResolving
	stateRunning
	stateFinished
	stateFailed
)

// receivePollInterval bounds how long Engine.Start can block inside a single
// ProbeSocket.Receive call before it rechecks for an external Stop. It does
// not affect per-probe timeout accounting, only Stop's responsiveness.
const receivePollInterval = 200 * time.Millisecond

// probeSocket is the seam between Engine and probe.ProbeSocket. It exists so
// engine tests can drive the hop loop against a fake transport instead of a
// privileged raw socket.
type probeSocket interface {
	Send(buf []byte, dst net.IP, ttlOrHopLimit int) error
	Receive(timeout time.Duration) ([]byte, net.Addr, error)
	Close() error
}

// openSocket is overridden in tests to bypass probe.OpenProbeSocket's
// privilege requirement.
var openSocket = func(family probe.Family) (probeSocket, error) {
	return probe.OpenProbeSocket(family)
}

// Engine orchestrates one traceroute run. An Engine is single-use: once it
// reaches Finished or Failed, calling Start again is a contract violation.
// All engine state is owned by the goroutine that calls Start; Stop may be
// called from any goroutine.
type Engine struct {
	cfg      Config
	resolver Resolver
	sink     EventSink

	state   atomic.Int32
	stopped atomic.Bool

	identifier uint16
	sequence   uint16
	family     probe.Family
	sock       probeSocket
	table      *probe.ProbeTable

	targetAddress net.IP
	startedAt     time.Time
}

// NewEngine constructs an Engine for cfg, using resolver for name resolution
// and sink to receive events. resolver defaults to DefaultResolver{} if nil.
func NewEngine(cfg Config, resolver Resolver, sink EventSink) *Engine {
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	e := &Engine{cfg: cfg, resolver: resolver, sink: sink}
	e.state.Store(int32(stateIdle))
	return e
}

// Start runs the engine to completion: resolve, open the socket, then drive
// the hop loop until the target is reached, max_hops is exhausted, a
// terminal error occurs, or Stop is called. It blocks the calling goroutine
// for the duration of the run — the embedding application supplies the
// owned thread the spec's design notes call for.
func (e *Engine) Start(ctx context.Context) error {
	if state(e.state.Load()) != stateIdle {
		return ErrContractViolation
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	e.state.Store(int32(stateResolving))

	addrs, err := e.resolver.Resolve(ctx, e.cfg.HostName, e.cfg.AddressStyle)
	if err != nil {
		e.fail(ErrorKindResolutionFailed, err)
		return err
	}
	addr, family, ok := pickAddress(addrs, e.cfg.AddressStyle)
	if !ok {
		e.fail(ErrorKindResolutionFailed, ErrResolutionFailed)
		return ErrResolutionFailed
	}

	sock, err := openSocket(family)
	if err != nil {
		e.fail(ErrorKindSocketOpenFailed, err)
		return err
	}

	e.family = family
	e.sock = sock
	e.table = probe.NewProbeTable()
	e.identifier = probe.GenerateIdentifier()
	e.sequence = 0
	e.targetAddress = addr
	e.startedAt = time.Now()
	e.state.Store(int32(stateRunning))
	e.emit(StartedEvent{Address: addr})

	result := e.runHopLoop(ctx, addr)

	e.sock.Close()

	if e.stopped.Load() {
		// External stop: no finished event, per spec §4.5 "Stop".
		e.state.Store(int32(stateFinished))
		return nil
	}

	e.state.Store(int32(stateFinished))
	e.emit(FinishedEvent{Result: result})
	return nil
}

// Stop asks the engine to end its run. It only sets a flag and returns at
// once: it does not wait, and does not close the socket itself. Start's hop
// loop sees the flag after at most one receive wait (receivePollInterval),
// abandons the in-flight probes, closes the socket, moves to Finished and
// returns without emitting a FinishedEvent. Called before Start, Stop leaves
// the state Idle, so Start still resolves, opens the socket and emits
// StartedEvent before finishing without probing. Safe to call from any
// goroutine, any state, and more than once.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

func (e *Engine) fail(kind ErrorKind, err error) {
	e.state.Store(int32(stateFailed))
	e.emit(FailedEvent{Kind: kind, Err: err})
}

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

// runHopLoop implements spec §4.5's per-hop loop.
func (e *Engine) runHopLoop(ctx context.Context, target net.IP) *TracerouteResult {
	var hops []HopRecord
	reachedTarget := false
	currentHop := 1

	for {
		if e.stopped.Load() || ctx.Err() != nil {
			break
		}

		hop, hopReached := e.runHop(ctx, target, currentHop)
		if !hop.Complete() || state(e.state.Load()) == stateFailed {
			// A hop cut short by Stop or cancellation still has pending
			// slots, and a send-failure escalation has already emitted the
			// run's final FailedEvent: neither is reported as a hop.
			break
		}
		hops = append(hops, hop)
		e.emit(HopCompletedEvent{Hop: hop})

		if hopReached {
			reachedTarget = true
			break
		}
		// currentHop==max_hops is the loop's other terminal condition (spec
		// §4.5 step 5): stop without advancing so ActualHops reports the
		// last hop actually run, not max_hops+1.
		if e.stopped.Load() || ctx.Err() != nil || currentHop == e.cfg.MaxHops {
			break
		}
		currentHop++
	}

	return &TracerouteResult{
		TargetName:    e.cfg.HostName,
		TargetAddress: target,
		MaxHops:       e.cfg.MaxHops,
		ActualHops:    currentHop,
		TotalTime:     time.Since(e.startedAt),
		Hops:          hops,
		ReachedTarget: reachedTarget,
	}
}

// runHop sends probes_per_hop probes at the given TTL/hop-limit and collects
// their outcomes, returning the completed HopRecord and whether this hop
// reached the target.
func (e *Engine) runHop(ctx context.Context, target net.IP, hop int) (HopRecord, bool) {
	record := HopRecord{Number: hop, Probes: make([]ProbeOutcome, e.cfg.ProbesPerHop)}
	targetReached := false
	consecutiveSendFailures := 0

	for i := 0; i < e.cfg.ProbesPerHop; i++ {
		e.sequence++
		seq := e.sequence
		buf := probe.BuildEchoRequest(e.family, e.identifier, seq, e.cfg.Payload, nil, target)

		now := time.Now()
		e.table.Insert(&probe.InFlightProbe{
			Sequence:   seq,
			Hop:        hop,
			ProbeIndex: i,
			SentAt:     now,
			Deadline:   now.Add(e.cfg.TimeoutPerProbe),
		})

		if err := e.sock.Send(buf, target, hop); err != nil {
			consecutiveSendFailures++
			e.table.Match(seq) // discard the just-inserted entry
			record.Probes[i] = ProbeOutcome{Kind: Errored, ErrKind: ErrorKindSendFailed}
			e.emit(HopProbeCompletedEvent{Hop: hop, ProbeIndex: i, Outcome: record.Probes[i]})
			continue
		}
		consecutiveSendFailures = 0
		e.emit(ProbeSentEvent{Hop: hop, Sequence: seq})
	}

	if consecutiveSendFailures >= e.cfg.ProbesPerHop {
		e.fail(ErrorKindSendFailedEscalated, fmt.Errorf("%d consecutive send failures on hop %d", consecutiveSendFailures, hop))
		e.stopped.Store(true)
		return record, false
	}

	for e.table.Len() > 0 {
		if e.stopped.Load() || ctx.Err() != nil {
			return record, false
		}

		wait := e.waitDuration()
		data, src, err := e.sock.Receive(wait)
		if err != nil {
			if probe.IsTimeout(err) {
				e.expireDue(hop, &record)
				continue
			}
			// receive_failed: transient, treated as a zero-byte read and
			// retried until the deadline (spec §7).
			e.expireDue(hop, &record)
			continue
		}

		parsed, ok := probe.ParseResponse(data, e.family, e.identifier)
		if !ok || parsed.Kind == probe.KindOther || !parsed.IdentifierMatches {
			e.expireDue(hop, &record)
			continue
		}

		inflight, matched := e.table.Match(parsed.Sequence)
		if !matched {
			// Late response for an already-terminal slot; discarded.
			e.expireDue(hop, &record)
			continue
		}

		rtt := time.Since(inflight.SentAt)
		router := extractIP(src)
		outcome := ProbeOutcome{Kind: Responded, Router: router, RTT: rtt}
		record.Probes[inflight.ProbeIndex] = outcome

		e.emit(ResponseReceivedEvent{Hop: hop, RTT: rtt})
		e.emit(HopProbeCompletedEvent{Hop: hop, ProbeIndex: inflight.ProbeIndex, Outcome: outcome})

		if parsed.Kind == probe.KindEchoReply && router != nil && router.Equal(target) {
			targetReached = true
		}
		if parsed.Kind == probe.KindDestUnreachable {
			// The intermediate router reporting unreachability is the
			// observed endpoint for this probe (spec §4.5 step 3a).
			targetReached = true
		}

		e.expireDue(hop, &record)
	}

	return record, targetReached
}

// waitDuration computes how long to block in Receive: the time until the
// next in-flight probe's deadline, capped so an external Stop stays
// responsive.
func (e *Engine) waitDuration() time.Duration {
	deadline, ok := e.table.NextDeadline()
	if !ok {
		return receivePollInterval
	}
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	if wait > receivePollInterval {
		wait = receivePollInterval
	}
	return wait
}

// expireDue fills every elapsed in-flight probe's slot with TimedOut and
// emits the corresponding events.
func (e *Engine) expireDue(hop int, record *HopRecord) {
	for _, p := range e.table.Expire(time.Now()) {
		record.Probes[p.ProbeIndex] = ProbeOutcome{Kind: TimedOut}
		e.emit(ProbeTimeoutEvent{Hop: hop})
		e.emit(HopProbeCompletedEvent{Hop: hop, ProbeIndex: p.ProbeIndex, Outcome: record.Probes[p.ProbeIndex]})
	}
}

func extractIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
