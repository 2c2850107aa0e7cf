package progress

import (
	"context"
	"fmt"
	"time"
)

type countingSink struct {
	total int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit emits one event and flushes it with Close.
func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{MaxBatch: 1, FlushInterval: time.Second}, nil, sink)

	hub.Emit(Event{JobID: "job-1", TS: time.Unix(0, 0), Stage: StageJobStart})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	fmt.Println("events delivered:", sink.total)
	// Output: events delivered: 1
}
