package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tbourn/go-chat-store/internal/config"
	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/payload"
	"github.com/tbourn/go-chat-store/internal/services"
)

type lockedStorage struct {
	mu    sync.Mutex
	calls int
}

func (s *lockedStorage) Store(context.Context, *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("database is locked")
}

func (s *lockedStorage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func firstAttempt(t *testing.T) (services.ProcessingResult, *services.Pipeline, *lockedStorage) {
	t.Helper()
	t.Setenv("PROCESS_INTERVAL", "1h")
	t.Setenv("RETRY_INTERVAL", "1h")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	st := &lockedStorage{}
	p := services.NewPipeline(pipelineConfig(cfg.Queue), services.WithPipelineStorage(st))
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(p.Close)

	in := payload.Payload{
		payload.KeyID:       "m1",
		payload.KeyContent:  "hello",
		payload.KeySenderID: "alice",
		payload.KeyRoomID:   "r",
	}
	if res := p.ProcessIncoming(context.Background(), in, domain.PriorityNormal); res != services.ResultQueued {
		t.Fatalf("ProcessIncoming = %v", res)
	}
	res, ok := p.ProcessNext()
	if !ok {
		t.Fatalf("queue empty")
	}
	return res, p, st
}

func TestPipelineConfig_ZeroRetriesFailsOnFirstAttempt(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")

	res, p, st := firstAttempt(t)
	if res != services.ResultFailed {
		t.Fatalf("result = %v; want failed with MAX_RETRIES=0", res)
	}
	if st.Calls() != 1 || p.FailedCount() != 0 {
		t.Fatalf("calls=%d failed=%d; want a single attempt and no retry", st.Calls(), p.FailedCount())
	}
	if s := p.Statistics(); s.Failed != 1 || s.Retried != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineConfig_DefaultRetriesParkFailure(t *testing.T) {
	res, p, st := firstAttempt(t)
	if res != services.ResultQueued {
		t.Fatalf("result = %v; want queued for retry", res)
	}
	if st.Calls() != 1 || p.FailedCount() != 1 {
		t.Fatalf("calls=%d failed=%d", st.Calls(), p.FailedCount())
	}
}

func TestPipelineConfig_PassesQueueSettings(t *testing.T) {
	q := config.QueueConfig{Capacity: 7, MaxRetries: 5, ProcessingEnabled: true}
	got := pipelineConfig(q)
	if got.QueueCapacity != 7 || got.MaxRetries != 5 || !got.ProcessingEnabled {
		t.Fatalf("pipelineConfig = %+v", got)
	}
	if pipelineConfig(config.QueueConfig{}).MaxRetries >= 0 {
		t.Fatalf("zero retries must map to a negative limit")
	}
}
