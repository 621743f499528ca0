package discordbot

import (
	"testing"
	"time"
)

func TestTrackerKeepsStartOnSameChannelUpdate(t *testing.T) {
	tr := newPresenceTracker()
	t0 := time.Now()
	tr.move("u1", "c1", t0)

	// A mute or stream toggle repeats the channel id.
	prev, ok := tr.move("u1", "c1", t0.Add(30*time.Second))
	if !ok || prev.channelID != "c1" {
		t.Fatalf("expected open interval in c1, got %+v ok=%v", prev, ok)
	}

	prev, ok = tr.move("u1", "", t0.Add(90*time.Second))
	if !ok {
		t.Fatal("leave lost the open interval")
	}
	if !prev.since.Equal(t0) {
		t.Fatalf("interval start moved from %v to %v", t0, prev.since)
	}
}

func TestTrackerMoveClosesInterval(t *testing.T) {
	tr := newPresenceTracker()
	t0 := time.Now()
	tr.move("u1", "c1", t0)

	t1 := t0.Add(time.Minute)
	prev, ok := tr.move("u1", "c2", t1)
	if !ok || prev.channelID != "c1" || !prev.since.Equal(t0) {
		t.Fatalf("channel change did not return the finished c1 interval: %+v", prev)
	}

	prev, _ = tr.move("u1", "", t1.Add(time.Minute))
	if prev.channelID != "c2" || !prev.since.Equal(t1) {
		t.Fatalf("new interval should start in c2 at move time, got %+v", prev)
	}
}

func TestTrackerCutRestartsIntervals(t *testing.T) {
	tr := newPresenceTracker()
	t0 := time.Now()
	tr.move("u1", "c1", t0)
	tr.move("u2", "c2", t0)

	t1 := t0.Add(time.Minute)
	closed := tr.cut(t1)
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed spans, got %d", len(closed))
	}
	if !closed["u1"].since.Equal(t0) {
		t.Fatalf("closed span start = %v, want %v", closed["u1"].since, t0)
	}

	prev, ok := tr.move("u1", "", t1.Add(time.Minute))
	if !ok || !prev.since.Equal(t1) {
		t.Fatalf("interval should restart at cut time, got %+v ok=%v", prev, ok)
	}
}
