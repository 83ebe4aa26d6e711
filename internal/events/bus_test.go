package events

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	bus := NewBus(16, nil)
	for i := 1; i <= 5; i++ {
		seq := bus.Publish(TypeTaskSubmitted, "t1", nil)
		if seq != uint64(i) {
			t.Fatalf("publish %d allocated sequence %d", i, seq)
		}
	}
}

func TestConcurrentPublishersProduceGapFreeSequence(t *testing.T) {
	bus := NewBus(1024, nil)
	const workers, perWorker = 8, 100

	var wg sync.WaitGroup
	seqs := make(chan uint64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seqs <- bus.Publish(TypeTaskDecision, "t", nil)
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, workers*perWorker)
	for s := range seqs {
		if seen[s] {
			t.Fatalf("sequence %d allocated twice", s)
		}
		seen[s] = true
	}
	for s := uint64(1); s <= workers*perWorker; s++ {
		if !seen[s] {
			t.Fatalf("sequence %d never allocated", s)
		}
	}
}

func TestSubscribeReplaysBufferThenLiveEvents(t *testing.T) {
	bus := NewBus(16, nil)
	bus.Publish(TypeTaskSubmitted, "t1", nil)
	bus.Publish(TypeUISurface, "t1", nil)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(TypeUIPatch, "t1", nil)

	want := []uint64{1, 2, 3}
	for _, expect := range want {
		env := <-ch
		if env.Sequence != expect {
			t.Fatalf("received sequence %d, want %d", env.Sequence, expect)
		}
	}
}

func TestSubscriberObservesStrictlyIncreasingSequences(t *testing.T) {
	bus := NewBus(8, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 6; i++ {
		bus.Publish(TypeTaskDecision, "t", nil)
	}

	var last uint64
	for i := 0; i < 6; i++ {
		env := <-ch
		if env.Sequence <= last {
			t.Fatalf("sequence went from %d to %d", last, env.Sequence)
		}
		last = env.Sequence
	}
}

func TestRingWrapKeepsNewestEnvelopes(t *testing.T) {
	bus := NewBus(4, nil)
	for i := 0; i < 10; i++ {
		bus.Publish(TypeTaskDecision, "t", nil)
	}

	recent := bus.Recent(0)
	if len(recent) != 4 {
		t.Fatalf("recent returned %d envelopes, want 4", len(recent))
	}
	for i, env := range recent {
		if want := uint64(7 + i); env.Sequence != want {
			t.Errorf("recent[%d].Sequence = %d, want %d", i, env.Sequence, want)
		}
	}
	if bus.Wraps() != 6 {
		t.Errorf("Wraps() = %d, want 6", bus.Wraps())
	}
}

func TestRecentClampsLimit(t *testing.T) {
	bus := NewBus(8, nil)
	for i := 0; i < 3; i++ {
		bus.Publish(TypeTaskDecision, "t", nil)
	}

	if got := len(bus.Recent(100)); got != 3 {
		t.Errorf("Recent(100) returned %d, want 3", got)
	}
	if got := len(bus.Recent(2)); got != 2 {
		t.Errorf("Recent(2) returned %d, want 2", got)
	}
	got := bus.Recent(2)
	if got[len(got)-1].Sequence != 3 {
		t.Errorf("Recent must return newest last, got final sequence %d", got[len(got)-1].Sequence)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := NewBus(4, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the subscriber channel beyond capacity without draining.
	for i := 0; i < cap(ch)+10; i++ {
		bus.Publish(TypeTaskDecision, "t", nil)
	}

	// The channel must have been closed by the bus.
	var closed bool
	for {
		if _, ok := <-ch; !ok {
			closed = true
			break
		}
	}
	if !closed {
		t.Fatal("slow subscriber channel was not closed")
	}

	// Re-subscribing replays the current ring.
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()
	if env := <-ch2; env.Sequence == 0 {
		t.Fatal("re-subscribe did not replay buffered envelopes")
	}
}

func TestEnvelopeMarshalsCamelCaseTaskID(t *testing.T) {
	raw, err := json.Marshal(Envelope{
		Sequence: 7, Type: TypeTaskDone, TaskID: "t1", At: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"taskId":"t1"`) {
		t.Errorf("envelope JSON = %s, want a taskId field", raw)
	}

	raw, err = json.Marshal(Envelope{Sequence: 8, Type: TypeTelemetryCircuit, At: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "taskId") {
		t.Errorf("task-less envelope JSON = %s, want taskId omitted", raw)
	}
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	bus := NewBus(4, nil)
	ch, _ := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel still open after Close")
	}
	if seq := bus.Publish(TypeTaskDecision, "t", nil); seq != 0 {
		t.Errorf("publish after close allocated sequence %d", seq)
	}
}
