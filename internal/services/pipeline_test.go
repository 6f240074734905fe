package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/events"
	"github.com/tbourn/go-chat-store/internal/payload"
)

// ---------- test helpers ----------

type fakeStorage struct {
	mu     sync.Mutex
	calls  int
	stored []*domain.Message
	fail   func(call int, m *domain.Message) error
}

func (f *fakeStorage) Store(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(f.calls, m); err != nil {
			return err
		}
	}
	f.stored = append(f.stored, m.Clone())
	return nil
}

func (f *fakeStorage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStorage) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.stored))
	for i, m := range f.stored {
		out[i] = m.ID
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func inbound(id, room, content string) payload.Payload {
	return payload.Payload{
		payload.KeyID:       id,
		payload.KeyContent:  content,
		payload.KeySenderID: "alice",
		payload.KeyRoomID:   room,
	}
}

// newManualPipeline never ticks on its own; tests drive it with
// ProcessNext/ProcessQueue.
func newManualPipeline(t *testing.T, cfg PipelineConfig) (*Pipeline, *fakeStorage, *eventLog) {
	t.Helper()
	if cfg.ProcessInterval == 0 {
		cfg.ProcessInterval = time.Hour
	}
	st := &fakeStorage{}
	bus := events.NewBus()
	el := &eventLog{}
	bus.Subscribe(el.handle)

	p := NewPipeline(cfg, WithPipelineEvents(bus), WithPipelineStorage(st))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(p.Close)
	return p, st, el
}

// ---------- inbound ----------

func TestProcessIncoming_NotInitialized(t *testing.T) {
	p := NewPipeline(PipelineConfig{ProcessingEnabled: true})
	if got := p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal); got != ResultFailed {
		t.Fatalf("result = %v; want failed", got)
	}
	if err := p.StartProcessing(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("StartProcessing = %v; want ErrNotInitialized", err)
	}
}

func TestProcessIncoming_PriorityOrder(t *testing.T) {
	p, st, _ := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	ctx := context.Background()

	for _, in := range []struct {
		id  string
		pri domain.Priority
	}{
		{"M1", domain.PriorityNormal},
		{"M2", domain.PriorityCritical},
		{"M3", domain.PriorityNormal},
		{"M4", domain.PriorityLow},
		{"M5", domain.PriorityHigh},
	} {
		if got := p.ProcessIncoming(ctx, inbound(in.id, "R", "hi"), in.pri); got != ResultQueued {
			t.Fatalf("%s: result = %v; want queued", in.id, got)
		}
	}
	if p.Status() != StatusProcessing {
		t.Fatalf("status = %v; want processing", p.Status())
	}

	var queued []string
	for _, q := range p.QueuedPayloads() {
		queued = append(queued, q.ID())
	}
	want := "M2,M5,M1,M3,M4"
	if got := strings.Join(queued, ","); got != want {
		t.Fatalf("queue order = %s; want %s", got, want)
	}

	if n := p.ProcessQueue(); n != 5 {
		t.Fatalf("ProcessQueue = %d; want 5", n)
	}
	if got := strings.Join(st.IDs(), ","); got != want {
		t.Fatalf("drain order = %s; want %s", got, want)
	}
	st2 := p.Statistics()
	if st2.Processed != 5 || st2.Success != 5 || st2.QueueSize != 0 {
		t.Fatalf("stats = %+v", st2)
	}
}

func TestProcessIncoming_ValidationFailure(t *testing.T) {
	p, st, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	bad := payload.Payload{payload.KeyContent: "x", payload.KeyRoomID: "r"}

	if got := p.ProcessIncoming(context.Background(), bad, domain.PriorityNormal); got != ResultFailed {
		t.Fatalf("result = %v; want failed", got)
	}
	if p.QueueSize() != 0 || st.Calls() != 0 {
		t.Fatalf("invalid payload must not be queued or stored")
	}
	if len(el.kinds(events.ValidationFailed)) != 1 {
		t.Fatalf("expected one validation-failed event")
	}
	if s := p.Statistics(); s.Failed != 1 || s.Retried != 0 || s.FailedSize != 0 {
		t.Fatalf("validation failure must not be retried: %+v", s)
	}
}

func TestProcessIncoming_Filtered(t *testing.T) {
	p, st, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	p.SetFilter(FilterFunc(func(in payload.Payload) bool {
		return !strings.Contains(in[payload.KeyContent].(string), "spam")
	}))

	if got := p.ProcessIncoming(context.Background(), inbound("m1", "r", "buy spam"), domain.PriorityNormal); got != ResultFiltered {
		t.Fatalf("result = %v; want filtered", got)
	}
	if got := p.ProcessIncoming(context.Background(), inbound("m2", "r", "hello"), domain.PriorityNormal); got != ResultQueued {
		t.Fatalf("result = %v; want queued", got)
	}
	p.ProcessQueue()
	if ids := st.IDs(); len(ids) != 1 || ids[0] != "m2" {
		t.Fatalf("stored = %v; want [m2]", ids)
	}
	if len(el.kinds(events.MessageFiltered)) != 1 {
		t.Fatalf("expected one filtered event")
	}
	if s := p.Statistics(); s.Filtered != 1 || s.Success != 1 || s.Processed != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestProcessIncoming_QueueFull(t *testing.T) {
	p, _, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true, QueueCapacity: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if got := p.ProcessIncoming(ctx, inbound(fmt.Sprintf("m%d", i), "r", "x"), domain.PriorityNormal); got != ResultQueued {
			t.Fatalf("result = %v; want queued", got)
		}
	}
	if got := p.ProcessIncoming(ctx, inbound("m3", "r", "x"), domain.PriorityCritical); got != ResultRejected {
		t.Fatalf("result = %v; want rejected", got)
	}
	if len(el.kinds(events.QueueFull)) != 1 || p.QueueSize() != 2 {
		t.Fatalf("expected a queue-full event and an unchanged queue")
	}
}

func TestProcessIncoming_Disabled(t *testing.T) {
	p, st, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: false})
	ctx := context.Background()

	if got := p.ProcessIncoming(ctx, inbound("m1", "r", "x"), domain.PriorityNormal); got != ResultQueued {
		t.Fatalf("result = %v; want queued", got)
	}
	// not validated while disabled
	bad := payload.Payload{payload.KeyID: "bad", payload.KeyContent: "x"}
	if got := p.ProcessIncoming(ctx, bad, domain.PriorityHigh); got != ResultQueued {
		t.Fatalf("result = %v; want queued", got)
	}
	if p.Status() != StatusIdle {
		t.Fatalf("disabled pipeline must not start processing, status = %v", p.Status())
	}
	if st.Calls() != 0 {
		t.Fatalf("nothing should be stored yet")
	}

	p.ProcessQueue()
	if ids := st.IDs(); len(ids) != 1 || ids[0] != "m1" {
		t.Fatalf("stored = %v", ids)
	}
	if evs := el.kinds(events.ValidationFailed); len(evs) != 1 || evs[0].MessageID != "bad" {
		t.Fatalf("validation events = %+v", evs)
	}
}

func TestStartProcessing_DisabledWorkerDoesNotDrain(t *testing.T) {
	p, st, _ := newManualPipeline(t, PipelineConfig{ProcessingEnabled: false, ProcessInterval: time.Millisecond})

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal)
	if err := p.StartProcessing(); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if st.Calls() != 0 || p.QueueSize() != 1 {
		t.Fatalf("disabled worker drained: calls=%d queue=%d", st.Calls(), p.QueueSize())
	}

	p.SetProcessingEnabled(true)
	waitFor(t, 2*time.Second, func() bool { return st.Calls() == 1 })
	if p.QueueSize() != 0 {
		t.Fatalf("queue = %d after enabling", p.QueueSize())
	}
}

func TestProcessIncoming_AssignsStableID(t *testing.T) {
	p, st, _ := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	in := payload.Payload{payload.KeyContent: "x", payload.KeySenderID: "a", payload.KeyRoomID: "r"}
	p.ProcessIncoming(context.Background(), in, domain.PriorityHigh)
	if _, ok := in[payload.KeyID]; ok {
		t.Fatalf("caller payload must not be mutated")
	}
	queued := p.QueuedPayloads()
	if len(queued) != 1 || queued[0].ID() == "" {
		t.Fatalf("queued payload has no id: %v", queued)
	}
	p.ProcessQueue()
	if ids := st.IDs(); len(ids) != 1 || ids[0] != queued[0].ID() {
		t.Fatalf("stored id %v; want %s", ids, queued[0].ID())
	}
	if st.stored[0].Priority != domain.PriorityHigh {
		t.Fatalf("message priority = %v; want high", st.stored[0].Priority)
	}
}

// ---------- hooks ----------

func TestTransformerAndProcessors(t *testing.T) {
	p, st, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	p.SetTransformer(TransformerFunc(func(in payload.Payload) payload.Payload {
		in[payload.KeyContent] = strings.ToUpper(in[payload.KeyContent].(string))
		delete(in, payload.KeyID)
		return in
	}))

	var mu sync.Mutex
	var seen []string
	p.AddProcessor(ProcessorFunc(func(context.Context, *domain.Message) error { panic("boom") }))
	p.AddProcessor(ProcessorFunc(func(context.Context, *domain.Message) error { return errors.New("notify failed") }))
	p.AddProcessor(ProcessorFunc(func(_ context.Context, m *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Content)
		return nil
	}))

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "hello"), domain.PriorityNormal)
	res, ok := p.ProcessNext()
	if !ok || res != ResultSuccess {
		t.Fatalf("ProcessNext = %v, %v; want success", res, ok)
	}
	if len(seen) != 1 || seen[0] != "HELLO" {
		t.Fatalf("processor saw %v", seen)
	}
	if ids := st.IDs(); len(ids) != 1 || ids[0] != "m1" || st.stored[0].Content != "HELLO" {
		t.Fatalf("stored = %+v", st.stored)
	}
	if len(el.kinds(events.ProcessorError)) != 2 {
		t.Fatalf("expected two processor errors")
	}
}

// ---------- retries ----------

func TestRetryBound(t *testing.T) {
	st := &fakeStorage{fail: func(int, *domain.Message) error { return errors.New("database is locked") }}
	bus := events.NewBus()
	el := &eventLog{}
	bus.Subscribe(el.handle)

	p := NewPipeline(PipelineConfig{
		ProcessingEnabled: true,
		MaxRetries:        3,
		ProcessInterval:   time.Millisecond,
		RetryInterval:     5 * time.Millisecond,
	}, WithPipelineEvents(bus), WithPipelineStorage(st))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal)
	waitFor(t, 5*time.Second, func() bool { return len(el.kinds(events.PermanentFailure)) == 1 })

	if n := st.Calls(); n != 4 {
		t.Fatalf("attempts = %d; want 4", n)
	}
	if p.FailedCount() != 0 {
		t.Fatalf("failed set not emptied")
	}
	if n := len(el.kinds(events.RetryScheduled)); n != 3 {
		t.Fatalf("retry events = %d; want 3", n)
	}
	s := p.Statistics()
	if s.Processed != 1 || s.Failed != 1 || s.Retried != 3 {
		t.Fatalf("stats = %+v", s)
	}
	time.Sleep(30 * time.Millisecond)
	if n := st.Calls(); n != 4 {
		t.Fatalf("attempts after permanent failure = %d; want 4", n)
	}
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	p, st, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true, RetryInterval: time.Hour})
	st.fail = func(call int, _ *domain.Message) error {
		if call == 1 {
			return errors.New("disk I/O error")
		}
		return nil
	}

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal)
	if res, _ := p.ProcessNext(); res != ResultQueued {
		t.Fatalf("first attempt = %v; want queued for retry", res)
	}
	if p.FailedCount() != 1 {
		t.Fatalf("failed set size = %d", p.FailedCount())
	}
	if n := p.RetryFailed(); n != 1 {
		t.Fatalf("RetryFailed = %d", n)
	}
	if p.FailedCount() != 0 || st.Calls() != 2 {
		t.Fatalf("retry did not run: failed=%d calls=%d", p.FailedCount(), st.Calls())
	}
	evs := el.kinds(events.MessageProcessed)
	if len(evs) != 1 || evs[0].Result != "success" {
		t.Fatalf("exactly one terminal outcome expected, got %+v", evs)
	}
}

func TestStructuralStorageFailureNotRetried(t *testing.T) {
	p, st, _ := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	st.fail = func(int, *domain.Message) error { return storeErr("store", ErrAlreadyExists) }

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal)
	if res, _ := p.ProcessNext(); res != ResultFailed {
		t.Fatalf("result = %v; want failed", res)
	}
	if p.FailedCount() != 0 {
		t.Fatalf("duplicate id must not be retried")
	}
}

// ---------- outbound ----------

func TestProcessOutgoing(t *testing.T) {
	p, st, _ := newManualPipeline(t, PipelineConfig{})
	m := newMsg("out1", "r", "bot", t0, "reply")

	if got := p.ProcessOutgoing(context.Background(), m, domain.PriorityHigh); got != ResultSuccess {
		t.Fatalf("result = %v; want success", got)
	}
	if len(st.stored) != 1 || st.stored[0].ID != "out1" || st.stored[0].Priority != domain.PriorityHigh {
		t.Fatalf("stored = %+v", st.stored)
	}

	st.fail = func(int, *domain.Message) error { return errors.New("unavailable") }
	if got := p.ProcessOutgoing(context.Background(), newMsg("out2", "r", "bot", t0, "x"), domain.PriorityNormal); got != ResultFailed {
		t.Fatalf("result = %v; want failed", got)
	}
	if p.FailedCount() != 0 {
		t.Fatalf("outbound failures are returned, not retried")
	}

	f := p.FormatMessage(m)
	if f.ID() != "out1" || f[payload.KeyContent] != "reply" {
		t.Fatalf("FormatMessage = %v", f)
	}
}

// ---------- state machine ----------

func TestStateMachine(t *testing.T) {
	p, _, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})

	if p.PauseProcessing() {
		t.Fatalf("pause from idle must be rejected")
	}
	if err := p.StartProcessing(); err != nil || p.Status() != StatusProcessing {
		t.Fatalf("StartProcessing: %v, %v", err, p.Status())
	}
	if !p.PauseProcessing() || p.Status() != StatusPaused {
		t.Fatalf("pause failed: %v", p.Status())
	}
	if !p.ResumeProcessing() || p.Status() != StatusProcessing {
		t.Fatalf("resume failed: %v", p.Status())
	}

	p.SetProcessingEnabled(false)
	if p.Status() != StatusPaused || p.ProcessingEnabled() {
		t.Fatalf("disable should pause, status = %v", p.Status())
	}
	p.SetProcessingEnabled(true)
	if p.Status() != StatusProcessing {
		t.Fatalf("enable should resume, status = %v", p.Status())
	}

	p.ProcessIncoming(context.Background(), inbound("m1", "r", "x"), domain.PriorityNormal)
	p.StopProcessing()
	if p.Status() != StatusIdle || p.QueueSize() != 1 {
		t.Fatalf("stop must go idle and keep items, status=%v size=%d", p.Status(), p.QueueSize())
	}
	if n := len(el.kinds(events.ProcessingStatusChanged)); n != 6 {
		t.Fatalf("status change events = %d; want 6", n)
	}
}

func TestStopIsObservedByTicker(t *testing.T) {
	st := &fakeStorage{}
	p := NewPipeline(PipelineConfig{ProcessingEnabled: true, ProcessInterval: time.Millisecond}, WithPipelineStorage(st))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	p.StopProcessing()
	p.SetProcessingEnabled(false)
	for i := 0; i < 3; i++ {
		p.ProcessIncoming(context.Background(), inbound(fmt.Sprintf("m%d", i), "r", "x"), domain.PriorityNormal)
	}
	time.Sleep(20 * time.Millisecond)
	if st.Calls() != 0 || p.QueueSize() != 3 {
		t.Fatalf("stopped pipeline drained: calls=%d size=%d", st.Calls(), p.QueueSize())
	}

	p.SetProcessingEnabled(true)
	if err := p.StartProcessing(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, func() bool { return st.Calls() == 3 })
	waitFor(t, 5*time.Second, func() bool { return p.Status() == StatusIdle })
}

func TestClearQueueAndResetStatistics(t *testing.T) {
	p, _, el := newManualPipeline(t, PipelineConfig{ProcessingEnabled: true})
	for i := 0; i < 3; i++ {
		p.ProcessIncoming(context.Background(), inbound(fmt.Sprintf("m%d", i), "r", "x"), domain.PriorityNormal)
	}
	p.ProcessNext()
	if n := p.ClearQueue(); n != 2 || p.QueueSize() != 0 {
		t.Fatalf("ClearQueue = %d; size = %d", n, p.QueueSize())
	}
	if len(el.kinds(events.QueueEmpty)) != 1 {
		t.Fatalf("expected a queue-empty event")
	}
	p.ResetStatistics()
	if s := p.Statistics(); s.Processed != 0 || s.Success != 0 {
		t.Fatalf("stats not reset: %+v", s)
	}
}

// ---------- end to end ----------

func TestPipelineWithMessageStore_ExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{Path: filepath.Join(t.TempDir(), "p.db"), CacheEnabled: true})
	bus := events.NewBus()
	el := &eventLog{}
	bus.Subscribe(el.handle)

	p := NewPipeline(PipelineConfig{ProcessingEnabled: true, ProcessInterval: time.Millisecond},
		WithPipelineEvents(bus), WithPipelineStorage(store))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	const n = 20
	for i := 0; i < n; i++ {
		in := inbound(fmt.Sprintf("m%02d", i), "room", fmt.Sprintf("msg %d", i))
		if got := p.ProcessIncoming(context.Background(), in, domain.Priority(i%4)); got != ResultQueued {
			t.Fatalf("enqueue %d = %v", i, got)
		}
	}
	waitFor(t, 10*time.Second, func() bool { return p.Statistics().Processed == n })

	seen := map[string]int{}
	for _, e := range el.kinds(events.MessageProcessed) {
		if e.Result != "success" {
			t.Fatalf("unexpected outcome %+v", e)
		}
		seen[e.MessageID]++
	}
	if len(seen) != n {
		t.Fatalf("distinct outcomes = %d; want %d", len(seen), n)
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("%s processed %d times", id, c)
		}
	}
	if cnt, err := store.Count(context.Background(), "room"); err != nil || cnt != n {
		t.Fatalf("stored count = %d, %v", cnt, err)
	}
	got, err := store.Get(context.Background(), "m07")
	if err != nil || got.Content != "msg 7" {
		t.Fatalf("Get = %v, %v", got, err)
	}
}
