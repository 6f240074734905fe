// Package services – Pipeline
//
// This file implements Pipeline, the priority-ordered processing pipeline
// for inbound messages. Inbound payloads are validated and filtered on
// arrival, queued by descending priority (FIFO among equals) and drained one
// entry per tick by a single worker goroutine. Each drained entry runs
// validate → filter → transform → processors → persist. Transient failures
// are parked in a failed set and retried on a timer until MaxRetries is
// exhausted.
//
// Concurrency: mu guards the queue, failed set, status and counters and is
// never held across a store round-trip. runMu serializes the processing of
// entries so the drain tick and retry timers never process concurrently.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/events"
	"github.com/tbourn/go-chat-store/internal/metrics"
	"github.com/tbourn/go-chat-store/internal/payload"
)

// ProcessingResult is the outcome of handing a message to the pipeline.
type ProcessingResult int

const (
	ResultSuccess ProcessingResult = iota
	ResultFailed
	ResultFiltered
	ResultQueued
	ResultRejected
)

var processingResultNames = [...]string{"success", "failed", "filtered", "queued", "rejected"}

func (r ProcessingResult) String() string {
	if r >= 0 && int(r) < len(processingResultNames) {
		return processingResultNames[r]
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// ProcessingStatus is the pipeline state.
type ProcessingStatus int

const (
	StatusIdle ProcessingStatus = iota
	StatusProcessing
	StatusPaused
)

func (s ProcessingStatus) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusPaused:
		return "paused"
	default:
		return "idle"
	}
}

// Filter decides whether a payload continues through the pipeline.
type Filter interface {
	Allow(p payload.Payload) bool
}

// Transformer rewrites a payload after filtering. It must not fail; reject
// with a Filter instead.
type Transformer interface {
	Transform(p payload.Payload) payload.Payload
}

// Processor is a side-effect hook run for every message that passes the
// filter. Errors and panics are reported but never change the result.
type Processor interface {
	Process(ctx context.Context, m *domain.Message) error
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(payload.Payload) bool

func (f FilterFunc) Allow(p payload.Payload) bool { return f(p) }

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(payload.Payload) payload.Payload

func (f TransformerFunc) Transform(p payload.Payload) payload.Payload { return f(p) }

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(context.Context, *domain.Message) error

func (f ProcessorFunc) Process(ctx context.Context, m *domain.Message) error { return f(ctx, m) }

// PipelineConfig configures a Pipeline. Non-positive sizes and intervals
// take the defaults. ProcessingEnabled has no default: the zero value leaves
// the worker parked until SetProcessingEnabled(true).
type PipelineConfig struct {
	QueueCapacity     int           // default 1000
	MaxRetries        int           // default 3; negative disables retries
	ProcessInterval   time.Duration // drain tick, default 100ms
	RetryInterval     time.Duration // fixed backoff, default 5s
	ProcessingEnabled bool
}

// Pipeline defaults.
const (
	DefaultQueueCapacity   = 1000
	DefaultMaxRetries      = 3
	DefaultProcessInterval = 100 * time.Millisecond
	DefaultRetryInterval   = 5 * time.Second
)

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = DefaultProcessInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// PipelineStats are the pipeline counters. Processed counts terminal
// outcomes only (success, failed, filtered).
type PipelineStats struct {
	Processed  uint64        `json:"processed"`
	Success    uint64        `json:"success"`
	Failed     uint64        `json:"failed"`
	Filtered   uint64        `json:"filtered"`
	Rejected   uint64        `json:"rejected"`
	Retried    uint64        `json:"retried"`
	QueueSize  int           `json:"queue_size"`
	FailedSize int           `json:"failed_size"`
	Status     string        `json:"status"`
	Enabled    bool          `json:"enabled"`
	Uptime     time.Duration `json:"uptime"`
}

type queueEntry struct {
	payload  payload.Payload
	priority domain.Priority
	retries  int
	retryAt  time.Time
	timer    *time.Timer
}

func (e *queueEntry) id() string { return e.payload.ID() }

// Pipeline is the inbound processing pipeline. Create it with NewPipeline
// and start the worker with Initialize.
type Pipeline struct {
	cfg PipelineConfig
	bus *events.Bus
	log zerolog.Logger
	now func() time.Time

	mu          sync.Mutex
	queue       []*queueEntry
	failed      []*queueEntry
	status      ProcessingStatus
	enabled     bool
	stopped     bool
	initialized bool
	closed      bool
	stats       PipelineStats
	started     time.Time

	hooksMu     sync.RWMutex
	filter      Filter
	transformer Transformer
	processors  []Processor
	storage     Storage

	runMu  sync.Mutex
	retryC chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	ctx    context.Context
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineEvents publishes pipeline events on b.
func WithPipelineEvents(b *events.Bus) PipelineOption {
	return func(p *Pipeline) { p.bus = b }
}

// WithPipelineLogger sets the component logger.
func WithPipelineLogger(l zerolog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithPipelineStorage sets the persistence hook.
func WithPipelineStorage(s Storage) PipelineOption {
	return func(p *Pipeline) { p.storage = s }
}

// NewPipeline returns an uninitialized pipeline.
func NewPipeline(cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
		enabled: cfg.ProcessingEnabled,
		retryC:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize starts the worker goroutine. It stops when ctx is cancelled or
// Close is called.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	if p.closed {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.initialized = true
	p.started = p.now()
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
	p.log.Info().
		Int("queue_capacity", p.cfg.QueueCapacity).
		Int("max_retries", p.cfg.MaxRetries).
		Dur("process_interval", p.cfg.ProcessInterval).
		Dur("retry_interval", p.cfg.RetryInterval).
		Msg("pipeline initialized")
	return nil
}

// Close stops the worker and every pending retry timer. Queued entries are
// kept but no longer processed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.initialized || p.closed {
		p.closed = true
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.initialized = false
	for _, e := range p.failed {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Pipeline) run(parent context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-parent.Done():
			p.cancel()
			return
		case <-ticker.C:
			p.tick()
		case <-p.retryC:
			p.retryDue(false)
		}
	}
}

// tick processes the head entry when the pipeline is Processing and
// processing is enabled.
func (p *Pipeline) tick() {
	p.mu.Lock()
	if p.status != StatusProcessing || !p.enabled {
		p.mu.Unlock()
		return
	}
	if len(p.queue) == 0 {
		changed := p.setStatusLocked(StatusIdle)
		p.mu.Unlock()
		p.bus.Publish(events.Event{Kind: events.QueueEmpty})
		p.publishStatus(changed)
		return
	}
	p.mu.Unlock()
	p.ProcessNext()
}

// ---- registration hooks ----

// SetFilter installs the filter; nil removes it.
func (p *Pipeline) SetFilter(f Filter) {
	p.hooksMu.Lock()
	p.filter = f
	p.hooksMu.Unlock()
}

// SetTransformer installs the transformer; nil removes it.
func (p *Pipeline) SetTransformer(t Transformer) {
	p.hooksMu.Lock()
	p.transformer = t
	p.hooksMu.Unlock()
}

// AddProcessor appends a processor. Processors run in registration order.
func (p *Pipeline) AddProcessor(pr Processor) {
	if pr == nil {
		return
	}
	p.hooksMu.Lock()
	p.processors = append(p.processors, pr)
	p.hooksMu.Unlock()
}

// SetStorage sets the persistence hook. Without storage, processed messages
// are not persisted.
func (p *Pipeline) SetStorage(s Storage) {
	p.hooksMu.Lock()
	p.storage = s
	p.hooksMu.Unlock()
}

func (p *Pipeline) hooks() (Filter, Transformer, []Processor, Storage) {
	p.hooksMu.RLock()
	defer p.hooksMu.RUnlock()
	return p.filter, p.transformer, append([]Processor(nil), p.processors...), p.storage
}

// ---- state machine ----

// setStatusLocked changes the status and reports the new one when it
// changed. Caller holds p.mu.
func (p *Pipeline) setStatusLocked(s ProcessingStatus) (changed *ProcessingStatus) {
	if p.status == s {
		return nil
	}
	p.status = s
	return &s
}

func (p *Pipeline) publishStatus(changed *ProcessingStatus) {
	if changed == nil {
		return
	}
	p.log.Debug().Str("status", changed.String()).Msg("processing status changed")
	p.bus.Publish(events.Event{Kind: events.ProcessingStatusChanged, Status: changed.String()})
}

// Status returns the processing status.
func (p *Pipeline) Status() ProcessingStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// StartProcessing moves Idle or Paused to Processing.
func (p *Pipeline) StartProcessing() error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.stopped = false
	changed := p.setStatusLocked(StatusProcessing)
	p.mu.Unlock()
	p.publishStatus(changed)
	p.kickRetries()
	return nil
}

// PauseProcessing moves Processing to Paused. It reports false in any other
// state.
func (p *Pipeline) PauseProcessing() bool {
	p.mu.Lock()
	if p.status != StatusProcessing {
		p.mu.Unlock()
		return false
	}
	changed := p.setStatusLocked(StatusPaused)
	p.mu.Unlock()
	p.publishStatus(changed)
	return true
}

// ResumeProcessing moves Paused to Processing. It reports false in any other
// state.
func (p *Pipeline) ResumeProcessing() bool {
	p.mu.Lock()
	if p.status != StatusPaused {
		p.mu.Unlock()
		return false
	}
	changed := p.setStatusLocked(StatusProcessing)
	p.mu.Unlock()
	p.publishStatus(changed)
	p.kickRetries()
	return true
}

// StopProcessing returns to Idle from any state. Queued entries stay queued;
// an entry already being processed completes.
func (p *Pipeline) StopProcessing() {
	p.mu.Lock()
	p.stopped = true
	changed := p.setStatusLocked(StatusIdle)
	p.mu.Unlock()
	p.publishStatus(changed)
}

// SetProcessingEnabled toggles processing. Disabling pauses a running
// pipeline; enabling resumes a paused one.
func (p *Pipeline) SetProcessingEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	var changed *ProcessingStatus
	switch {
	case !enabled && p.status == StatusProcessing:
		changed = p.setStatusLocked(StatusPaused)
	case enabled && p.status == StatusPaused:
		changed = p.setStatusLocked(StatusProcessing)
	}
	p.mu.Unlock()
	p.publishStatus(changed)
	if enabled {
		p.kickRetries()
	}
}

// ProcessingEnabled reports the processing flag.
func (p *Pipeline) ProcessingEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// ---- inbound ----

// ProcessIncoming validates, filters and enqueues an inbound payload. The
// result is Queued on success; Failed, Filtered and Rejected are final.
func (p *Pipeline) ProcessIncoming(ctx context.Context, in payload.Payload, priority domain.Priority) ProcessingResult {
	tr := otel.Tracer("services/Pipeline")
	_, span := tr.Start(ctx, "ProcessIncoming",
		trace.WithAttributes(
			attribute.String("priority", priority.String()),
			attribute.String("room.id", in.RoomID()),
		),
	)
	defer span.End()

	p.mu.Lock()
	initialized, enabled := p.initialized, p.enabled
	p.mu.Unlock()
	if !initialized {
		return ResultFailed
	}

	e := &queueEntry{payload: in.Clone(), priority: priority}
	if e.payload == nil {
		e.payload = payload.Payload{}
	}
	if e.id() == "" {
		e.payload[payload.KeyID] = uuid.NewString()
	}
	if _, ok := e.payload[payload.KeyPriority]; !ok {
		e.payload[payload.KeyPriority] = priority.String()
	}
	span.SetAttributes(attribute.String("message.id", e.id()))

	if !enabled {
		return p.enqueue(e, false)
	}

	if err := payload.Validate(e.payload); err != nil {
		p.validationFailed(e, err)
		return ResultFailed
	}
	if f, _, _, _ := p.hooks(); f != nil && !p.allow(f, e.payload) {
		p.filtered(e)
		return ResultFiltered
	}
	return p.enqueue(e, true)
}

// enqueue inserts e before the first entry with strictly lower priority.
func (p *Pipeline) enqueue(e *queueEntry, start bool) ProcessingResult {
	p.mu.Lock()
	if len(p.queue) >= p.cfg.QueueCapacity {
		p.stats.Rejected++
		p.mu.Unlock()
		metrics.PipelineResults.WithLabelValues(ResultRejected.String()).Inc()
		p.log.Warn().Str("message_id", e.id()).Int("capacity", p.cfg.QueueCapacity).Msg("queue full")
		p.bus.Publish(events.Event{Kind: events.QueueFull, MessageID: e.id(), Count: p.cfg.QueueCapacity})
		return ResultRejected
	}

	i := len(p.queue)
	for j, q := range p.queue {
		if q.priority < e.priority {
			i = j
			break
		}
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[i+1:], p.queue[i:])
	p.queue[i] = e
	size := len(p.queue)

	var changed *ProcessingStatus
	if start && p.status == StatusIdle {
		p.stopped = false
		changed = p.setStatusLocked(StatusProcessing)
	}
	p.mu.Unlock()

	metrics.QueueDepth.Set(float64(size))
	p.bus.Publish(events.Event{Kind: events.QueueSizeChanged, Count: size})
	p.publishStatus(changed)
	return ResultQueued
}

// ---- outbound ----

// ProcessOutgoing runs format → transform → processors → persist
// synchronously and returns Success or Failed.
func (p *Pipeline) ProcessOutgoing(ctx context.Context, m *domain.Message, priority domain.Priority) ProcessingResult {
	tr := otel.Tracer("services/Pipeline")
	ctx, span := tr.Start(ctx, "ProcessOutgoing", trace.WithAttributes(attribute.String("priority", priority.String())))
	defer span.End()

	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized || m == nil {
		return ResultFailed
	}

	c := m.Clone()
	c.Priority = priority
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	e := &queueEntry{payload: payload.Format(c), priority: priority}
	span.SetAttributes(attribute.String("message.id", e.id()))

	res, _ := p.process(ctx, e, false)
	return res
}

// FormatMessage converts a message to its outbound payload.
func (p *Pipeline) FormatMessage(m *domain.Message) payload.Payload {
	return payload.Format(m)
}

// ---- draining ----

// ProcessNext removes the head of the queue and processes it. It reports
// false when the queue was empty.
func (p *Pipeline) ProcessNext() (ProcessingResult, bool) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return ResultFailed, false
	}
	e := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	size := len(p.queue)
	p.mu.Unlock()

	metrics.QueueDepth.Set(float64(size))
	p.bus.Publish(events.Event{Kind: events.QueueSizeChanged, Count: size})

	res, _ := p.process(p.workerCtx(), e, true)
	return res, true
}

// ProcessQueue drains the whole queue now and returns how many entries were
// processed.
func (p *Pipeline) ProcessQueue() int {
	n := 0
	for {
		if _, ok := p.ProcessNext(); !ok {
			return n
		}
		n++
	}
}

// RetryFailed retries every entry in the failed set now, regardless of its
// backoff, and returns how many were attempted.
func (p *Pipeline) RetryFailed() int { return p.retryDue(true) }

func (p *Pipeline) kickRetries() {
	select {
	case p.retryC <- struct{}{}:
	default:
	}
}

func (p *Pipeline) retryDue(all bool) int {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	if !all && (p.status == StatusPaused || p.stopped || !p.enabled) {
		p.mu.Unlock()
		return 0
	}
	now := p.now()
	var due []*queueEntry
	keep := p.failed[:0]
	for _, e := range p.failed {
		if all || !e.retryAt.After(now) {
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			due = append(due, e)
			continue
		}
		keep = append(keep, e)
	}
	for i := len(keep); i < len(p.failed); i++ {
		p.failed[i] = nil
	}
	p.failed = keep
	size := len(p.failed)
	p.mu.Unlock()
	metrics.FailedSetSize.Set(float64(size))

	ctx := p.workerCtx()
	for _, e := range due {
		p.process(ctx, e, true)
	}
	return len(due)
}

func (p *Pipeline) workerCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// errTransient marks failures worth retrying.
var errTransient = errors.New("transient processing failure")

// process runs one entry through validate → filter → transform →
// processors → persist. With retry set, transient failures are parked in
// the failed set.
func (p *Pipeline) process(ctx context.Context, e *queueEntry, retry bool) (res ProcessingResult, err error) {
	tr := otel.Tracer("services/Pipeline")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("message.id", e.id()),
			attribute.Int("retry", e.retries),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() { metrics.ProcessDuration.Observe(time.Since(start).Seconds()) }()

	filter, transformer, processors, storage := p.hooks()

	if err := payload.Validate(e.payload); err != nil {
		p.validationFailed(e, err)
		return ResultFailed, err
	}
	if filter != nil && !p.allow(filter, e.payload) {
		p.filtered(e)
		return ResultFiltered, nil
	}

	m, err := p.prepare(transformer, e.payload)
	if err != nil {
		var ve *payload.ValidationError
		if errors.As(err, &ve) {
			p.validationFailed(e, err)
			return ResultFailed, err
		}
		return p.transientFailure(e, err, retry)
	}

	for _, pr := range processors {
		p.runProcessor(ctx, pr, m)
	}

	if storage != nil {
		if err := p.persist(ctx, storage, m); err != nil {
			if ResultOf(err) == AlreadyExists || errors.Is(err, ErrInvalidMessage) {
				p.finishEntry(e, m.RoomID, ResultFailed, err)
				return ResultFailed, err
			}
			span.RecordError(err)
			return p.transientFailure(e, err, retry)
		}
	}

	p.finishEntry(e, m.RoomID, ResultSuccess, nil)
	return ResultSuccess, nil
}

// prepare applies the transformer and parses the result. A panicking
// transformer is reported as a transient failure.
func (p *Pipeline) prepare(t Transformer, in payload.Payload) (m *domain.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: transformer panic: %v", errTransient, rec)
		}
	}()
	out := in.Clone()
	if t != nil {
		out = t.Transform(out)
		if out == nil {
			return nil, &payload.ValidationError{Field: "payload", Reason: "transformer returned nil"}
		}
		// The id is fixed at enqueue so retries never mint a new one.
		out[payload.KeyID] = in.ID()
	}
	return payload.Parse(out)
}

func (p *Pipeline) allow(f Filter, in payload.Payload) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Msg("filter panicked; dropping message")
			ok = false
		}
	}()
	return f.Allow(in.Clone())
}

func (p *Pipeline) runProcessor(ctx context.Context, pr Processor, m *domain.Message) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("processor panic: %v", rec)
			}
		}()
		err = pr.Process(ctx, m.Clone())
	}()
	if err != nil {
		p.log.Warn().Err(err).Str("message_id", m.ID).Msg("processor failed")
		p.bus.Publish(events.Event{Kind: events.ProcessorError, MessageID: m.ID, RoomID: m.RoomID, Err: err})
	}
}

func (p *Pipeline) persist(ctx context.Context, s Storage, m *domain.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: storage panic: %v", errTransient, rec)
		}
	}()
	return s.Store(ctx, m)
}

func (p *Pipeline) transientFailure(e *queueEntry, cause error, retry bool) (ProcessingResult, error) {
	if !retry {
		p.finishEntry(e, e.payload.RoomID(), ResultFailed, cause)
		return ResultFailed, cause
	}

	p.mu.Lock()
	if e.retries >= p.cfg.MaxRetries || p.closed {
		p.mu.Unlock()
		p.log.Error().Err(cause).Str("message_id", e.id()).Int("attempts", e.retries+1).Msg("permanent failure")
		p.bus.Publish(events.Event{Kind: events.PermanentFailure, MessageID: e.id(), RoomID: e.payload.RoomID(), Count: e.retries + 1, Err: cause})
		p.finishEntry(e, e.payload.RoomID(), ResultFailed, cause)
		return ResultFailed, cause
	}
	e.retries++
	e.retryAt = p.now().Add(p.cfg.RetryInterval)
	e.timer = time.AfterFunc(p.cfg.RetryInterval, p.kickRetries)
	p.failed = append(p.failed, e)
	p.stats.Retried++
	size := len(p.failed)
	p.mu.Unlock()

	metrics.PipelineRetries.Inc()
	metrics.FailedSetSize.Set(float64(size))
	p.log.Warn().Err(cause).Str("message_id", e.id()).Int("retry", e.retries).Msg("retry scheduled")
	p.bus.Publish(events.Event{Kind: events.RetryScheduled, MessageID: e.id(), RoomID: e.payload.RoomID(), Count: e.retries, Err: cause})
	return ResultQueued, cause
}

func (p *Pipeline) validationFailed(e *queueEntry, err error) {
	p.log.Debug().Err(err).Str("message_id", e.id()).Msg("validation failed")
	p.bus.Publish(events.Event{Kind: events.ValidationFailed, MessageID: e.id(), RoomID: e.payload.RoomID(), Err: err})
	p.finishEntry(e, e.payload.RoomID(), ResultFailed, err)
}

func (p *Pipeline) filtered(e *queueEntry) {
	p.bus.Publish(events.Event{Kind: events.MessageFiltered, MessageID: e.id(), RoomID: e.payload.RoomID()})
	p.finishEntry(e, e.payload.RoomID(), ResultFiltered, nil)
}

// finishEntry records a terminal outcome.
func (p *Pipeline) finishEntry(e *queueEntry, roomID string, res ProcessingResult, err error) {
	p.mu.Lock()
	p.stats.Processed++
	switch res {
	case ResultSuccess:
		p.stats.Success++
	case ResultFiltered:
		p.stats.Filtered++
	default:
		p.stats.Failed++
	}
	p.mu.Unlock()

	metrics.PipelineResults.WithLabelValues(res.String()).Inc()
	p.bus.Publish(events.Event{
		Kind:      events.MessageProcessed,
		MessageID: e.id(),
		RoomID:    roomID,
		Result:    res.String(),
		Success:   res == ResultSuccess,
		Err:       err,
	})
}

// ---- introspection ----

// Statistics returns a snapshot of the counters.
func (p *Pipeline) Statistics() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.QueueSize = len(p.queue)
	st.FailedSize = len(p.failed)
	st.Status = p.status.String()
	st.Enabled = p.enabled
	if !p.started.IsZero() {
		st.Uptime = p.now().Sub(p.started)
	}
	return st
}

// ResetStatistics zeroes the counters; queue and failed set are untouched.
func (p *Pipeline) ResetStatistics() {
	p.mu.Lock()
	p.stats = PipelineStats{}
	p.started = p.now()
	p.mu.Unlock()
}

// QueueSize returns the number of queued entries.
func (p *Pipeline) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// FailedCount returns the number of entries waiting for retry.
func (p *Pipeline) FailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}

// QueuedPayloads returns copies of the queued payloads in dequeue order.
func (p *Pipeline) QueuedPayloads() []payload.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]payload.Payload, len(p.queue))
	for i, e := range p.queue {
		out[i] = e.payload.Clone()
	}
	return out
}

// ClearQueue drops every queued entry and returns how many were dropped.
func (p *Pipeline) ClearQueue() int {
	p.mu.Lock()
	n := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	if n > 0 {
		metrics.QueueDepth.Set(0)
		p.bus.Publish(events.Event{Kind: events.QueueSizeChanged, Count: 0})
		p.bus.Publish(events.Event{Kind: events.QueueEmpty})
	}
	return n
}
