package probe

import (
	"testing"
	"time"
)

func TestProbeTable_InsertMatch(t *testing.T) {
	tbl := NewProbeTable()
	now := time.Unix(1000, 0)
	p := &InFlightProbe{Sequence: 1, Hop: 1, ProbeIndex: 0, SentAt: now, Deadline: now.Add(time.Second)}
	tbl.Insert(p)

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	got, ok := tbl.Match(1)
	if !ok {
		t.Fatal("Match() ok = false, want true")
	}
	if got != p {
		t.Error("Match() returned a different probe")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() after Match = %d, want 0", tbl.Len())
	}

	// A second match for the same sequence (late/duplicate response) misses.
	if _, ok := tbl.Match(1); ok {
		t.Error("second Match() ok = true, want false (no double-accounting)")
	}
}

func TestProbeTable_Expire(t *testing.T) {
	tbl := NewProbeTable()
	base := time.Unix(2000, 0)

	tbl.Insert(&InFlightProbe{Sequence: 1, Deadline: base.Add(1 * time.Second)})
	tbl.Insert(&InFlightProbe{Sequence: 2, Deadline: base.Add(2 * time.Second)})
	tbl.Insert(&InFlightProbe{Sequence: 3, Deadline: base.Add(5 * time.Second)})

	expired := tbl.Expire(base.Add(2 * time.Second))
	if len(expired) != 2 {
		t.Fatalf("len(expired) = %d, want 2", len(expired))
	}
	if expired[0].Sequence != 1 || expired[1].Sequence != 2 {
		t.Errorf("Expire() order = [%d, %d], want insertion order [1, 2]", expired[0].Sequence, expired[1].Sequence)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() after Expire = %d, want 1", tbl.Len())
	}

	d, ok := tbl.NextDeadline()
	if !ok || !d.Equal(base.Add(5 * time.Second)) {
		t.Errorf("NextDeadline() = %v, %v, want %v, true", d, ok, base.Add(5*time.Second))
	}
}

func TestProbeTable_NextDeadlineEmpty(t *testing.T) {
	tbl := NewProbeTable()
	if _, ok := tbl.NextDeadline(); ok {
		t.Error("NextDeadline() ok = true for empty table, want false")
	}
}

func TestProbeTable_MatchThenExpireNoDoubleAccounting(t *testing.T) {
	tbl := NewProbeTable()
	now := time.Unix(3000, 0)
	tbl.Insert(&InFlightProbe{Sequence: 9, Deadline: now.Add(time.Second)})

	if _, ok := tbl.Match(9); !ok {
		t.Fatal("Match() ok = false")
	}

	expired := tbl.Expire(now.Add(10 * time.Second))
	if len(expired) != 0 {
		t.Errorf("len(expired) = %d, want 0 (sequence already matched)", len(expired))
	}
}
