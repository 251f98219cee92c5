package client

import (
	"sync"
	"testing"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(evtType string, payload interface{}) error {
	r.mu.Lock()
	r.events = append(r.events, evtType)
	r.mu.Unlock()
	return nil
}

func (r *recordingEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func TestTypingSender_DebouncesWithinWindow(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewTypingSender(rec, time.Hour) // window never elapses in-test
	conv := groupConv("room-1")

	s.Keystroke(conv)
	s.Keystroke(conv)
	s.Keystroke(conv)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != protocol.TypeTypingStart {
		t.Fatalf("events = %v, want single typing:start", got)
	}
}

func TestTypingSender_StopEmitsOnce(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewTypingSender(rec, time.Hour)

	s.Keystroke(groupConv("room-1"))
	s.Stop()
	s.Stop() // second stop owes nothing

	got := rec.snapshot()
	want := []string{protocol.TypeTypingStart, protocol.TypeTypingStop}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestTypingSender_IdleEmitsStop(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewTypingSender(rec, 20*time.Millisecond)

	s.Keystroke(groupConv("room-1"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := rec.snapshot()
		if len(got) == 2 {
			if got[1] != protocol.TypeTypingStop {
				t.Fatalf("events = %v, want idle typing:stop", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no typing:stop after idle window; events = %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTypingSender_SwitchingConversationStopsFirst(t *testing.T) {
	rec := &recordingEmitter{}
	s := NewTypingSender(rec, time.Hour)

	s.Keystroke(groupConv("room-1"))
	s.Keystroke(groupConv("room-2"))

	got := rec.snapshot()
	want := []string{protocol.TypeTypingStart, protocol.TypeTypingStop, protocol.TypeTypingStart}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTypingTracker_LastSenderWins(t *testing.T) {
	tr := NewTypingTracker(time.Hour)

	tr.Start("room-1", "Bob")
	tr.Start("room-1", "Carol")
	if got := tr.Typist("room-1"); got != "Carol" {
		t.Fatalf("Typist = %q, want Carol", got)
	}

	// A stop from the displaced sender must not clear Carol's indicator.
	tr.Stop("room-1", "Bob")
	if got := tr.Typist("room-1"); got != "Carol" {
		t.Fatalf("Typist after displaced stop = %q, want Carol", got)
	}

	tr.Stop("room-1", "Carol")
	if got := tr.Typist("room-1"); got != "" {
		t.Fatalf("Typist after stop = %q, want empty", got)
	}

	if got := tr.Typist("room-2"); got != "" {
		t.Fatalf("Typist for untouched conversation = %q, want empty", got)
	}
}

func TestTypingTracker_IndicatorExpires(t *testing.T) {
	tr := NewTypingTracker(20 * time.Millisecond)
	tr.Start("room-1", "Bob")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if tr.Typist("room-1") == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("indicator never expired without a stop event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
