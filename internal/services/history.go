// Package services – HistoryManager
//
// This file implements HistoryManager, the retention and history policy
// layer over MessageStore. It runs scheduled cleanup (by age, count or
// size, never deleting more than MaxDeletePerCycle messages per cycle),
// exports history in the export package's formats, imports JSON exports and
// provides history search, suggestions and aggregate statistics.
//
// All reads and writes are delegated to the store.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/events"
	"github.com/tbourn/go-chat-store/internal/export"
	"github.com/tbourn/go-chat-store/internal/metrics"
	"github.com/tbourn/go-chat-store/internal/repo"
	"github.com/tbourn/go-chat-store/internal/search"
)

// CleanupStrategy selects what scheduled cleanup removes.
type CleanupStrategy int

const (
	CleanupByAge   CleanupStrategy = iota // older than RetentionDays
	CleanupByCount                        // oldest beyond MaxMessages
	CleanupBySize                         // oldest until under MaxStorageBytes
	CleanupManual                         // never automatic
)

var cleanupStrategyNames = [...]string{"age", "count", "size", "manual"}

func (s CleanupStrategy) String() string {
	if s >= 0 && int(s) < len(cleanupStrategyNames) {
		return cleanupStrategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseCleanupStrategy parses "age", "count", "size" or "manual".
func ParseCleanupStrategy(s string) (CleanupStrategy, error) {
	for i, n := range cleanupStrategyNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return CleanupStrategy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cleanup strategy %q", s)
}

// HistoryConfig configures a HistoryManager.
type HistoryConfig struct {
	Enabled           bool
	RetentionDays     int   // default 365
	MaxMessages       int64 // default 100000
	MaxStorageBytes   int64 // size target for CleanupBySize
	Strategy          CleanupStrategy
	AutoCleanup       bool
	CleanupInterval   time.Duration // default 24h
	MaxDeletePerCycle int           // default 10000
}

// History defaults.
const (
	DefaultRetentionDays     = 365
	DefaultMaxMessages       = 100000
	DefaultCleanupInterval   = 24 * time.Hour
	DefaultMaxDeletePerCycle = 10000

	sizeCleanupBatch = 500
	suggestScanLimit = 1000
	relevantScanMax  = 5000
)

// searchPageSize is how many candidates AdvancedSearch loads per query;
// replaced in tests.
var searchPageSize = 1000

func (c HistoryConfig) withDefaults() HistoryConfig {
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxDeletePerCycle <= 0 {
		c.MaxDeletePerCycle = DefaultMaxDeletePerCycle
	}
	return c
}

// HistoryStats aggregates history across rooms.
type HistoryStats struct {
	TotalMessages      int64           `json:"total_messages"`
	RoomCount          int             `json:"room_count"`
	Rooms              []repo.RoomStat `json:"rooms"`
	Earliest           *time.Time      `json:"earliest,omitempty"`
	Latest             *time.Time      `json:"latest,omitempty"`
	Strategy           string          `json:"strategy"`
	RetentionDays      int             `json:"retention_days"`
	LastCleanup        *time.Time      `json:"last_cleanup,omitempty"`
	LastCleanupDeleted int64           `json:"last_cleanup_deleted"`
}

// SearchOptions refine history search.
type SearchOptions struct {
	CaseSensitive bool
	WholeWords    bool
	Regex         bool
}

// SearchCriteria is the input of AdvancedSearch. Zero fields do not filter.
type SearchCriteria struct {
	Query    string
	RoomID   string
	SenderID string
	Type     *domain.MessageType
	Start    time.Time
	End      time.Time
	Limit    int
	Options  SearchOptions
}

// HistoryManager applies retention policy and serves history queries.
type HistoryManager struct {
	store *MessageStore
	cfg   HistoryConfig
	bus   *events.Bus
	log   zerolog.Logger
	now   func() time.Time

	cleanupMu   sync.Mutex // one cleanup at a time
	mu          sync.Mutex
	lastCleanup time.Time
	lastDeleted int64
	cancel      context.CancelFunc
	done        chan struct{}
}

// HistoryOption customizes a HistoryManager.
type HistoryOption func(*HistoryManager)

// WithHistoryEvents publishes history events on b.
func WithHistoryEvents(b *events.Bus) HistoryOption {
	return func(h *HistoryManager) { h.bus = b }
}

// WithHistoryLogger sets the component logger.
func WithHistoryLogger(l zerolog.Logger) HistoryOption {
	return func(h *HistoryManager) { h.log = l }
}

// WithHistoryClock overrides the time source used for retention cutoffs.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *HistoryManager) { h.now = now }
}

// NewHistoryManager returns a manager over store.
func NewHistoryManager(store *MessageStore, cfg HistoryConfig, opts ...HistoryOption) *HistoryManager {
	h := &HistoryManager{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   log.With().Str("component", "history").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Config returns the effective configuration.
func (h *HistoryManager) Config() HistoryConfig { return h.cfg }

func (h *HistoryManager) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer("services/HistoryManager")
	return tr.Start(ctx, op, trace.WithAttributes(attrs...))
}

// ---- scheduled cleanup ----

// Start runs RunCleanup every CleanupInterval until ctx is cancelled or Stop
// is called. It does nothing when auto cleanup is off or the strategy is
// manual.
func (h *HistoryManager) Start(ctx context.Context) {
	if !h.cfg.Enabled || !h.cfg.AutoCleanup || h.cfg.Strategy == CleanupManual {
		return
	}
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(h.cfg.CleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := h.RunCleanup(ctx); err != nil {
					h.log.Error().Err(err).Msg("scheduled cleanup failed")
				}
			}
		}
	}()
	h.log.Info().
		Str("strategy", h.cfg.Strategy.String()).
		Dur("interval", h.cfg.CleanupInterval).
		Msg("scheduled cleanup started")
}

// Stop halts scheduled cleanup and waits for a running cycle to finish.
func (h *HistoryManager) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// RunCleanup applies the configured strategy once and returns how many
// messages were deleted. At most MaxDeletePerCycle messages are removed.
func (h *HistoryManager) RunCleanup(ctx context.Context) (n int64, err error) {
	if !h.cfg.Enabled {
		return 0, ErrHistoryDisabled
	}
	ctx, span := h.startSpan(ctx, "RunCleanup", attribute.String("strategy", h.cfg.Strategy.String()))
	defer span.End()

	h.cleanupMu.Lock()
	defer h.cleanupMu.Unlock()

	limit := int64(h.cfg.MaxDeletePerCycle)
	switch h.cfg.Strategy {
	case CleanupByAge:
		cutoff := h.now().AddDate(0, 0, -h.cfg.RetentionDays)
		n, err = h.store.DeleteOldest(ctx, "", cutoff, int(limit))
	case CleanupByCount:
		n, err = h.cleanupByCount(ctx, limit)
	case CleanupBySize:
		n, err = h.cleanupBySize(ctx, limit)
	case CleanupManual:
		return 0, nil
	}

	h.mu.Lock()
	h.lastCleanup = h.now()
	h.lastDeleted = n
	h.mu.Unlock()

	if n > 0 {
		metrics.CleanupDeleted.WithLabelValues(h.cfg.Strategy.String()).Add(float64(n))
	}
	span.SetAttributes(attribute.Int64("deleted", n))
	h.log.Info().Err(err).Str("strategy", h.cfg.Strategy.String()).Int64("deleted", n).Msg("cleanup finished")
	h.bus.Publish(events.Event{
		Kind:    events.CleanupCompleted,
		Result:  h.cfg.Strategy.String(),
		Count:   int(n),
		Success: err == nil,
		Err:     err,
	})
	return n, err
}

func (h *HistoryManager) cleanupByCount(ctx context.Context, limit int64) (int64, error) {
	total, err := h.store.Count(ctx, "")
	if err != nil {
		return 0, err
	}
	excess := min(total-h.cfg.MaxMessages, limit)
	if excess <= 0 {
		return 0, nil
	}
	return h.store.DeleteOldest(ctx, "", time.Time{}, int(excess))
}

func (h *HistoryManager) cleanupBySize(ctx context.Context, limit int64) (int64, error) {
	target := h.cfg.MaxStorageBytes
	if target <= 0 {
		target = h.store.MaxStorageBytes()
	}
	if target <= 0 {
		return 0, nil
	}

	var deleted int64
	for deleted < limit {
		used, err := h.store.UsedBytes(ctx)
		if err != nil {
			return deleted, err
		}
		if used <= target {
			break
		}
		n, err := h.store.DeleteOldest(ctx, "", time.Time{}, int(min(sizeCleanupBatch, limit-deleted)))
		deleted += n
		if err != nil {
			return deleted, err
		}
		if n == 0 {
			break
		}
	}
	if deleted > 0 {
		if err := h.store.Compact(ctx); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// ---- export / import ----

// Export writes the history of roomID ("" for every room) between start and
// end (zero for unbounded) to path. An empty format is inferred from the
// file extension. The file is written atomically.
func (h *HistoryManager) Export(ctx context.Context, roomID, path string, format export.Format, start, end time.Time) (n int, err error) {
	ctx, span := h.startSpan(ctx, "Export", attribute.String("room.id", roomID), attribute.String("path", path))
	defer span.End()
	defer func() {
		h.bus.Publish(events.Event{Kind: events.ExportCompleted, RoomID: roomID, Path: path, Count: n, Success: err == nil, Err: err})
	}()

	if !h.cfg.Enabled {
		return 0, ErrHistoryDisabled
	}
	if format == "" {
		if format, err = export.FormatFromPath(path); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err = h.ExportTo(ctx, tmp, roomID, format, start, end)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	h.log.Info().Str("room_id", roomID).Str("path", path).Int("messages", n).Msg("history exported")
	return n, nil
}

// ExportTo renders the selected history to w and returns the message count.
func (h *HistoryManager) ExportTo(ctx context.Context, w io.Writer, roomID string, format export.Format, start, end time.Time) (int, error) {
	msgs, err := h.store.Find(ctx, repo.MessageFilter{RoomID: roomID, Start: start, End: end, Order: repo.Ascending})
	if err != nil {
		return 0, err
	}
	meta := export.Meta{RoomID: roomID, ExportedAt: h.now(), Start: start, End: end}
	if err := export.Write(w, format, meta, msgs); err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			return 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return 0, err
	}
	return len(msgs), nil
}

// Import stores every message of a JSON export. Only JSON is supported; the
// batch is all-or-nothing.
func (h *HistoryManager) Import(ctx context.Context, path string) (n int, err error) {
	ctx, span := h.startSpan(ctx, "Import", attribute.String("path", path))
	defer span.End()
	defer func() {
		h.bus.Publish(events.Event{Kind: events.ImportCompleted, Path: path, Count: n, Success: err == nil, Err: err})
	}()

	if !h.cfg.Enabled {
		return 0, ErrHistoryDisabled
	}
	if f, ferr := export.FormatFromPath(path); ferr != nil || f != export.JSON {
		return 0, fmt.Errorf("%w: import supports json only", ErrUnsupportedFormat)
	}
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return h.ImportFrom(ctx, file)
}

// ImportFrom stores every message decoded from a JSON export read from r.
func (h *HistoryManager) ImportFrom(ctx context.Context, r io.Reader) (int, error) {
	msgs, err := export.DecodeJSON(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := h.store.StoreBatch(ctx, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// ---- statistics ----

// Statistics returns per-room counts and time spans plus totals.
func (h *HistoryManager) Statistics(ctx context.Context) (HistoryStats, error) {
	ctx, span := h.startSpan(ctx, "Statistics")
	defer span.End()

	rooms, err := h.store.RoomStats(ctx)
	if err != nil {
		return HistoryStats{}, err
	}
	st := HistoryStats{
		Rooms:         rooms,
		RoomCount:     len(rooms),
		Strategy:      h.cfg.Strategy.String(),
		RetentionDays: h.cfg.RetentionDays,
	}
	for _, r := range rooms {
		st.TotalMessages += r.Count
		if r.Count == 0 {
			continue
		}
		if st.Earliest == nil || r.Earliest.Before(*st.Earliest) {
			e := r.Earliest
			st.Earliest = &e
		}
		if st.Latest == nil || r.Latest.After(*st.Latest) {
			l := r.Latest
			st.Latest = &l
		}
	}
	h.mu.Lock()
	if !h.lastCleanup.IsZero() {
		t := h.lastCleanup
		st.LastCleanup = &t
	}
	st.LastCleanupDeleted = h.lastDeleted
	h.mu.Unlock()
	return st, nil
}

// RoomEarliest returns the timestamp of the oldest message in a room.
func (h *HistoryManager) RoomEarliest(ctx context.Context, roomID string) (time.Time, error) {
	m, err := h.store.FirstMessage(ctx, roomID)
	if err != nil {
		return time.Time{}, err
	}
	return m.Timestamp, nil
}

// RoomLatest returns the timestamp of the newest message in a room.
func (h *HistoryManager) RoomLatest(ctx context.Context, roomID string) (time.Time, error) {
	m, err := h.store.LastMessage(ctx, roomID)
	if err != nil {
		return time.Time{}, err
	}
	return m.Timestamp, nil
}

// ---- search ----

var folder = cases.Fold()

// matcher compiles query under opts into a content predicate.
func matcher(query string, opts SearchOptions) (func(string) bool, error) {
	switch {
	case opts.Regex || opts.WholeWords:
		pattern := query
		if !opts.Regex {
			pattern = `\b` + regexp.QuoteMeta(query) + `\b`
		}
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		return re.MatchString, nil
	case opts.CaseSensitive:
		return func(s string) bool { return strings.Contains(s, query) }, nil
	default:
		q := folder.String(query)
		return func(s string) bool { return strings.Contains(folder.String(s), q) }, nil
	}
}

// prefilter is the LIKE substring usable to narrow candidates in the
// database. LIKE folds ASCII case only, so non-ASCII and regex queries scan.
func prefilter(query string, opts SearchOptions) string {
	if opts.Regex || !isASCII(query) {
		return ""
	}
	return query
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// SearchHistory returns up to limit messages (newest first) whose content
// matches query under opts. An empty roomID searches every room.
func (h *HistoryManager) SearchHistory(ctx context.Context, query, roomID string, opts SearchOptions, limit int) ([]domain.Message, error) {
	return h.AdvancedSearch(ctx, SearchCriteria{Query: query, RoomID: roomID, Limit: limit, Options: opts})
}

// AdvancedSearch combines content matching with room, sender, type and time
// filters. Results are newest first.
func (h *HistoryManager) AdvancedSearch(ctx context.Context, c SearchCriteria) ([]domain.Message, error) {
	ctx, span := h.startSpan(ctx, "AdvancedSearch",
		attribute.String("room.id", c.RoomID),
		attribute.Bool("regex", c.Options.Regex),
	)
	defer span.End()

	f := repo.MessageFilter{
		RoomID:   c.RoomID,
		SenderID: c.SenderID,
		Type:     c.Type,
		Start:    c.Start,
		End:      c.End,
		Limit:    c.Limit,
		Order:    repo.Descending,
	}
	if c.Query == "" {
		return h.store.Find(ctx, f)
	}

	match, err := matcher(c.Query, c.Options)
	if err != nil {
		return nil, err
	}
	f.Query = prefilter(c.Query, c.Options)
	f.Limit = searchPageSize
	var out []domain.Message
	seen := make(map[string]struct{})
	for {
		page, err := h.store.Find(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			// rows inserted mid-scan shift the pages
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			if match(m.Content) {
				out = append(out, m)
				if c.Limit > 0 && len(out) == c.Limit {
					return out, nil
				}
			}
		}
		if len(page) < f.Limit {
			return out, nil
		}
		f.Offset += len(page)
	}
}

// Suggestions returns words from recent messages that complete prefix.
func (h *HistoryManager) Suggestions(ctx context.Context, roomID, prefix string, limit int) ([]string, error) {
	msgs, err := h.store.Find(ctx, repo.MessageFilter{RoomID: roomID, Limit: suggestScanLimit, Order: repo.Descending})
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(msgs))
	for i := range msgs {
		texts[i] = msgs[i].Content
	}
	return search.Suggest(texts, prefix, limit), nil
}

// SearchRelevant ranks recent messages of roomID by similarity to query and
// returns the best k.
func (h *HistoryManager) SearchRelevant(ctx context.Context, roomID, query string, k int) ([]search.Result, error) {
	ctx, span := h.startSpan(ctx, "SearchRelevant", attribute.String("room.id", roomID), attribute.Int("k", k))
	defer span.End()

	msgs, err := h.store.Find(ctx, repo.MessageFilter{RoomID: roomID, Limit: relevantScanMax, Order: repo.Descending})
	if err != nil {
		return nil, err
	}
	docs := make([]search.Doc, len(msgs))
	for i := range msgs {
		docs[i] = search.Doc{ID: msgs[i].ID, Text: msgs[i].Content}
	}
	return search.NewIndex(docs).TopK(query, k), nil
}

// ---- clearing & maintenance ----

// ClearRoomHistory deletes every message of a room.
func (h *HistoryManager) ClearRoomHistory(ctx context.Context, roomID string) (int64, error) {
	if !h.cfg.Enabled {
		return 0, ErrHistoryDisabled
	}
	return h.store.DeleteRoomMessages(ctx, roomID)
}

// ClearAllHistory deletes every message of every room.
func (h *HistoryManager) ClearAllHistory(ctx context.Context) (int64, error) {
	if !h.cfg.Enabled {
		return 0, ErrHistoryDisabled
	}
	rooms, err := h.store.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rooms {
		n, err := h.store.DeleteRoomMessages(ctx, r)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CheckIntegrity verifies the underlying database.
func (h *HistoryManager) CheckIntegrity(ctx context.Context) error { return h.store.CheckIntegrity(ctx) }

// Repair runs the store maintenance sequence.
func (h *HistoryManager) Repair(ctx context.Context) error { return h.store.Repair(ctx) }

// Compact reclaims unused space.
func (h *HistoryManager) Compact(ctx context.Context) error { return h.store.Compact(ctx) }

// RebuildIndexes rebuilds the database indexes.
func (h *HistoryManager) RebuildIndexes(ctx context.Context) error { return h.store.RebuildIndexes(ctx) }

// BackupToDir writes a timestamped backup into dir and returns its path.
func (h *HistoryManager) BackupToDir(ctx context.Context, dir string) (string, error) {
	path := filepath.Join(dir, BackupFileName(h.now()))
	if err := h.store.Backup(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}
