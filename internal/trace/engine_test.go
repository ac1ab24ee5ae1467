package trace

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/poros-engine/internal/probe"
)

// fakeTimeoutErr satisfies net.Error to drive probe.IsTimeout without a real
// socket deadline.
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake: i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

type fakeFrame struct {
	data []byte
	addr net.Addr
}

// fakeSocket replaces probe.ProbeSocket in tests. scriptFn decides, for each
// Send, whether and how to queue a reply; Receive drains the queue or blocks
// out to the requested timeout.
type fakeSocket struct {
	mu       sync.Mutex
	queue    []fakeFrame
	scriptFn func(buf []byte, dst net.IP, ttl int) []fakeFrame
	sendErr  error
	closed   bool
}

func (s *fakeSocket) Send(buf []byte, dst net.IP, ttl int) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.scriptFn != nil {
		frames := s.scriptFn(buf, dst, ttl)
		s.mu.Lock()
		s.queue = append(s.queue, frames...)
		s.mu.Unlock()
	}
	return nil
}

func (s *fakeSocket) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return f.data, f.addr, nil
	}
	s.mu.Unlock()
	time.Sleep(timeout)
	return nil, nil, fakeTimeoutErr{}
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

// fakeResolver returns a fixed address list regardless of host name.
type fakeResolver struct {
	addrs []net.IP
	err   error
}

func (r fakeResolver) Resolve(ctx context.Context, hostName string, style AddressStyle) ([]net.IP, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs, nil
}

// collectSink records every event emitted, in order.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectSink) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func withFakeSocket(t *testing.T, sock *fakeSocket) {
	t.Helper()
	prev := openSocket
	openSocket = func(probe.Family) (probeSocket, error) { return sock, nil }
	t.Cleanup(func() { openSocket = prev })
}

// echoReplyFrame builds a well-formed Echo Reply carrying id/seq, prefixed
// with the IPv4 header ProbeSocket.Receive delivers it under, as if target
// itself answered.
func echoReplyFrame(id, seq uint16, from net.IP) fakeFrame {
	icmpMsg := make([]byte, 8+4)
	icmpMsg[0] = probe.ICMPv4EchoReply
	binary.BigEndian.PutUint16(icmpMsg[4:6], id)
	binary.BigEndian.PutUint16(icmpMsg[6:8], seq)

	buf := make([]byte, 20+len(icmpMsg))
	buf[0] = 0x45
	copy(buf[20:], icmpMsg)
	return fakeFrame{data: buf, addr: &net.IPAddr{IP: from}}
}

// timeExceededFrame builds a v4 Time Exceeded message embedding the original
// Echo Request's id/seq, as if an intermediate router answered.
func timeExceededFrame(id, seq uint16, from net.IP) fakeFrame {
	orig := make([]byte, 20+8)
	orig[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(orig[20+4:20+6], id)
	binary.BigEndian.PutUint16(orig[20+6:20+8], seq)

	outer := make([]byte, 20+8+len(orig))
	outer[0] = 0x45
	outer[20+0] = probe.ICMPv4TimeExceeded
	copy(outer[20+8:], orig)
	return fakeFrame{data: outer, addr: &net.IPAddr{IP: from}}
}

func testConfig(host string, maxHops, probesPerHop int, timeout time.Duration) Config {
	return Config{
		HostName:        host,
		AddressStyle:    AddressV4,
		MaxHops:         maxHops,
		TimeoutPerProbe: timeout,
		ProbesPerHop:    probesPerHop,
	}
}

// TestEngine_TargetOneHopAway covers spec §8's simplest scenario: the first
// hop's probes are all answered directly by the target.
func TestEngine_TargetOneHopAway(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame {
		id := binary.BigEndian.Uint16(buf[4:6])
		seq := binary.BigEndian.Uint16(buf[6:8])
		return []fakeFrame{echoReplyFrame(id, seq, target)}
	}
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 30, 3, 50*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	final, ok := events[len(events)-1].(FinishedEvent)
	if !ok {
		t.Fatalf("last event is %T, want FinishedEvent", events[len(events)-1])
	}
	if !final.Result.ReachedTarget {
		t.Fatal("expected ReachedTarget = true")
	}
	if final.Result.ActualHops != 1 {
		t.Fatalf("ActualHops = %d, want 1", final.Result.ActualHops)
	}
	for _, p := range final.Result.Hops[0].Probes {
		if p.Kind != Responded {
			t.Fatalf("probe kind = %v, want Responded", p.Kind)
		}
	}
}

// TestEngine_ThreeHopPath covers intermediate Time Exceeded routers followed
// by a final Echo Reply from the target.
func TestEngine_ThreeHopPath(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	router1 := net.ParseIP("198.51.100.1")
	router2 := net.ParseIP("198.51.100.2")

	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame {
		id := binary.BigEndian.Uint16(buf[4:6])
		seq := binary.BigEndian.Uint16(buf[6:8])
		switch ttl {
		case 1:
			return []fakeFrame{timeExceededFrame(id, seq, router1)}
		case 2:
			return []fakeFrame{timeExceededFrame(id, seq, router2)}
		default:
			return []fakeFrame{echoReplyFrame(id, seq, target)}
		}
	}
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 30, 3, 50*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	final := events[len(events)-1].(FinishedEvent)
	if final.Result.ActualHops != 3 {
		t.Fatalf("ActualHops = %d, want 3", final.Result.ActualHops)
	}
	if !final.Result.ReachedTarget {
		t.Fatal("expected ReachedTarget = true")
	}
	if !final.Result.Hops[0].Probes[0].Router.Equal(router1) {
		t.Fatalf("hop 1 router = %v, want %v", final.Result.Hops[0].Probes[0].Router, router1)
	}
	if !final.Result.Hops[1].Probes[0].Router.Equal(router2) {
		t.Fatalf("hop 2 router = %v, want %v", final.Result.Hops[1].Probes[0].Router, router2)
	}
}

// TestEngine_SilentHop covers a hop whose probes all go unanswered: every
// slot must end TimedOut and the run must continue past it.
func TestEngine_SilentHop(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	router2 := net.ParseIP("198.51.100.2")

	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame {
		id := binary.BigEndian.Uint16(buf[4:6])
		seq := binary.BigEndian.Uint16(buf[6:8])
		switch ttl {
		case 1:
			return nil // silent hop
		case 2:
			return []fakeFrame{timeExceededFrame(id, seq, router2)}
		default:
			return []fakeFrame{echoReplyFrame(id, seq, target)}
		}
	}
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 30, 2, 20*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	final := events[len(events)-1].(FinishedEvent)
	if len(final.Result.Hops) < 2 {
		t.Fatalf("expected at least 2 hops, got %d", len(final.Result.Hops))
	}
	for _, p := range final.Result.Hops[0].Probes {
		if p.Kind != TimedOut {
			t.Fatalf("hop 1 probe kind = %v, want TimedOut", p.Kind)
		}
	}
}

// TestEngine_IdentifierMismatchIgnored covers a reply carrying a different
// identifier (e.g. another process's concurrent traceroute): it must be
// discarded rather than matched, leaving the probe to time out.
func TestEngine_IdentifierMismatchIgnored(t *testing.T) {
	target := net.ParseIP("203.0.113.1")

	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame {
		seq := binary.BigEndian.Uint16(buf[6:8])
		return []fakeFrame{echoReplyFrame(0xDEAD, seq, target)}
	}
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 1, 1, 20*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	final := events[len(events)-1].(FinishedEvent)
	if final.Result.ReachedTarget {
		t.Fatal("expected ReachedTarget = false, mismatched identifier must not count")
	}
	if final.Result.Hops[0].Probes[0].Kind != TimedOut {
		t.Fatalf("probe kind = %v, want TimedOut", final.Result.Hops[0].Probes[0].Kind)
	}
}

// TestEngine_MaxHopsOne is the max_hops=1 boundary: exactly one hop runs
// regardless of outcome.
func TestEngine_MaxHopsOne(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame { return nil }
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 1, 1, 10*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := sink.snapshot()
	final := events[len(events)-1].(FinishedEvent)
	if len(final.Result.Hops) != 1 {
		t.Fatalf("len(Hops) = %d, want 1", len(final.Result.Hops))
	}
	if final.Result.ActualHops != 1 {
		t.Fatalf("ActualHops = %d, want 1", final.Result.ActualHops)
	}
}

// TestEngine_StopIsIdempotentAndNotAnError covers Stop's documented contract:
// calling it any number of times before or during a run never panics, and a
// stopped run produces no FinishedEvent.
func TestEngine_StopIsIdempotentAndNotAnError(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame { return nil }
	withFakeSocket(t, sock)

	sink := &collectSink{}
	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 30, 1, 20*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	e.Stop()
	e.Stop()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, ev := range sink.snapshot() {
		if _, ok := ev.(FinishedEvent); ok {
			t.Fatal("Stop before Start must suppress FinishedEvent")
		}
	}
	e.Stop()
}

// TestEngine_DoubleStartIsContractViolation covers the single-use rule.
func TestEngine_DoubleStartIsContractViolation(t *testing.T) {
	target := net.ParseIP("203.0.113.1")
	sock := &fakeSocket{}
	sock.scriptFn = func(buf []byte, dst net.IP, ttl int) []fakeFrame {
		id := binary.BigEndian.Uint16(buf[4:6])
		seq := binary.BigEndian.Uint16(buf[6:8])
		return []fakeFrame{echoReplyFrame(id, seq, target)}
	}
	withFakeSocket(t, sock)

	resolver := fakeResolver{addrs: []net.IP{target}}
	cfg := testConfig("target.example", 1, 1, 20*time.Millisecond)
	e := NewEngine(cfg, resolver, &collectSink{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := e.Start(context.Background()); err != ErrContractViolation {
		t.Fatalf("second Start error = %v, want ErrContractViolation", err)
	}
}

// TestEngine_ResolutionFailureEmitsFailed covers the resolver-error path.
func TestEngine_ResolutionFailureEmitsFailed(t *testing.T) {
	sink := &collectSink{}
	resolver := fakeResolver{err: ErrResolutionFailed}
	cfg := testConfig("unresolvable.example", 30, 3, 20*time.Millisecond)
	e := NewEngine(cfg, resolver, sink)

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	failed, ok := events[0].(FailedEvent)
	if !ok {
		t.Fatalf("event = %T, want FailedEvent", events[0])
	}
	if failed.Kind != ErrorKindResolutionFailed {
		t.Fatalf("Kind = %v, want ErrorKindResolutionFailed", failed.Kind)
	}
}
