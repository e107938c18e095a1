package jobqueue

import (
	"testing"

	"fieldmap/internal/tile"
)

func k(x uint32) tile.Key {
	return tile.NewKey("src", x, 0, 3, tile.Params{TextScale: 1})
}

func TestAddDeduplicates(t *testing.T) {
	q := New(nil)
	for i := 0; i < 5; i++ {
		q.Add(tile.NewJob(k(1)))
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}

	job, ok := q.Pop()
	if !ok || job.Key != k(1) {
		t.Fatalf("pop = %v, %v", job, ok)
	}

	// resubmission while in flight
	if q.Add(tile.NewJob(k(1))) {
		t.Error("in-flight key was queued again")
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty")
	}

	q.Done(k(1))
	if !q.Add(tile.NewJob(k(1))) {
		t.Error("key should be accepted after Done")
	}
}

func TestPriorityOrder(t *testing.T) {
	centre := uint32(5)
	q := New(PrioritizerFunc(func(key tile.Key) float64 {
		d := float64(key.Tile.X) - float64(centre)
		return d * d
	}))
	for _, x := range []uint32{0, 9, 5, 3, 6} {
		q.Add(tile.NewJob(k(x)))
	}

	var got []uint32
	for {
		job, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, job.Key.Tile.X)
	}
	if got[0] != 5 {
		t.Errorf("first = %d, want centre tile", got[0])
	}
	if got[len(got)-1] != 0 {
		t.Errorf("last = %d, want farthest tile", got[len(got)-1])
	}
}

func TestRequestScheduleReprioritizes(t *testing.T) {
	centre := uint32(0)
	q := New(PrioritizerFunc(func(key tile.Key) float64 {
		d := float64(key.Tile.X) - float64(centre)
		return d * d
	}))
	q.Add(tile.NewJob(k(0)))
	q.Add(tile.NewJob(k(8)))

	centre = 8
	q.RequestSchedule()

	select {
	case <-q.Ready():
	default:
		t.Fatal("RequestSchedule did not signal")
	}

	job, _ := q.Pop()
	if job.Key != k(8) {
		t.Errorf("first after reschedule = %v", job.Key)
	}
}

func TestRequestScheduleEmptyDoesNotSignal(t *testing.T) {
	q := New(nil)
	q.RequestSchedule()
	select {
	case <-q.Ready():
		t.Error("empty queue signalled")
	default:
	}
}

func TestClearAndRetain(t *testing.T) {
	q := New(nil)
	for x := uint32(0); x < 6; x++ {
		q.Add(tile.NewJob(k(x)))
	}

	dropped := q.Retain(func(key tile.Key) bool { return key.Tile.X%2 == 0 })
	if dropped != 3 || q.Len() != 3 {
		t.Fatalf("dropped %d, len %d", dropped, q.Len())
	}
	for _, key := range q.Keys() {
		if key.Tile.X%2 != 0 {
			t.Errorf("odd key %v retained", key)
		}
	}

	q.Add(tile.NewJob(k(1)))
	if q.Len() != 4 {
		t.Errorf("dropped key should be accepted again, len = %d", q.Len())
	}

	q.Clear()
	if q.Len() != 0 {
		t.Errorf("len = %d after clear", q.Len())
	}
	if _, ok := q.Pop(); ok {
		t.Error("pop after clear")
	}
}
