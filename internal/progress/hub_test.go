package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	evt := Event{JobID: "job-1", TS: time.Unix(100, 0), Stage: stage}
	switch stage {
	case StageReportDone:
		evt.URL = "https://data.eastmoney.com/report/zw_industry.jshtml?infocode=A1"
		evt.Status = "saved"
	case StageJobDone:
		evt.Status = "succeeded"
	}
	return evt
}

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, FlushInterval: time.Minute}, nil, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageListingDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterInterval(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 10, FlushInterval: 20 * time.Millisecond}, nil, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Minute}, nil, sink)

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageReportDone))
	hub.Emit(sampleEvent(StageJobDone))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	var total int
	for _, b := range sink.Batches() {
		total += len(b)
	}
	require.Equal(t, 3, total)
	require.True(t, sink.Closed())

	before := len(sink.Batches())
	hub.Emit(sampleEvent(StageJobStart))
	require.Len(t, sink.Batches(), before)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, zap.NewNop(), sink)
	hub.Emit(Event{Stage: StageJobStart})
	hub.Emit(Event{JobID: "job-1", TS: time.Now(), Stage: StageReportDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubEmitDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Positive(t, hub.Dropped())
}

func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("boom")}
	ok := &stubSink{}
	hub := NewHub(Config{MaxBatch: 1}, nil, failing, ok)
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, ok.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Event)
		stage   Stage
		wantErr bool
	}{
		{name: "job start", stage: StageJobStart},
		{name: "report done", stage: StageReportDone},
		{name: "job done", stage: StageJobDone},
		{name: "missing job id", stage: StageJobStart, mutate: func(e *Event) { e.JobID = "" }, wantErr: true},
		{name: "missing timestamp", stage: StageJobStart, mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: true},
		{name: "report without url", stage: StageReportDone, mutate: func(e *Event) { e.URL = "" }, wantErr: true},
		{name: "report without status", stage: StageReportDone, mutate: func(e *Event) { e.Status = "" }, wantErr: true},
		{name: "job done without status", stage: StageJobDone, mutate: func(e *Event) { e.Status = "" }, wantErr: true},
		{name: "unknown stage", stage: "FETCH", wantErr: true},
		{name: "negative duration", stage: StageJobDone, mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := sampleEvent(tt.stage)
			if tt.mutate != nil {
				tt.mutate(&evt)
			}
			err := evt.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
