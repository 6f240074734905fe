// Package services – MessageStore
//
// This file implements MessageStore, the durable, cache-accelerated message
// store. It owns the SQLite handle, keeps the LRU cache coherent with the
// database (read-through on miss, write-through on store/update, invalidate
// on delete) and publishes lifecycle events on the event bus.
//
// Every public method is OpenTelemetry-instrumented and recorded in the
// chatcore_store_* Prometheus metrics. Errors are *StoreError values carrying
// an OperationResult.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-store/internal/cache"
	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/events"
	"github.com/tbourn/go-chat-store/internal/metrics"
	"github.com/tbourn/go-chat-store/internal/repo"
)

// Storage is the persistence hook used by the pipeline.
type Storage interface {
	Store(ctx context.Context, m *domain.Message) error
}

// StorageStatus is the lifecycle state of the store.
type StorageStatus int

const (
	StorageUninitialized StorageStatus = iota
	StorageReady
	StorageBusy
	StorageError
)

func (s StorageStatus) String() string {
	switch s {
	case StorageReady:
		return "ready"
	case StorageBusy:
		return "busy"
	case StorageError:
		return "error"
	default:
		return "uninitialized"
	}
}

// StoreConfig configures OpenMessageStore.
type StoreConfig struct {
	Path            string           // SQLite file
	CacheEnabled    bool             // keep an LRU mirror
	CacheCapacity   int              // defaults to cache.DefaultCapacity
	MaxStorageBytes int64            // 0 disables the size limit
	Tracing         bool             // GORM OpenTelemetry plugin
	GormLogger      logger.Interface // nil uses GORM's default
}

// StoreStats is a snapshot of store state.
type StoreStats struct {
	Status         string  `json:"status"`
	SchemaVersion  int     `json:"schema_version"`
	TotalMessages  int64   `json:"total_messages"`
	Rooms          int     `json:"rooms"`
	FileBytes      int64   `json:"file_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	MaxBytes       int64   `json:"max_bytes"`
	AvailableBytes int64   `json:"available_bytes"` // -1 when unlimited
	CacheEnabled   bool    `json:"cache_enabled"`
	CacheSize      int     `json:"cache_size"`
	CacheCapacity  int     `json:"cache_capacity"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
}

// MessageStore is the persistent message store. It is safe for concurrent
// use; Restore and Close wait for in-flight operations to finish.
type MessageStore struct {
	cfg StoreConfig

	mu     sync.RWMutex // guards db and status; held shared by every operation
	db     *gorm.DB
	status StorageStatus

	// cacheMu orders cache writes against the database: mutations hold it
	// exclusively across the write and the cache update, read-through holds
	// it shared across the read and the Put. Taken before mu.
	cacheMu sync.RWMutex
	cache   *cache.MessageCache // nil when disabled
	bus     *events.Bus
	log     zerolog.Logger
	now     func() time.Time

	// rev moves on every mutation and database swap. Seeded from the wall
	// clock so values do not repeat across restarts.
	rev atomic.Uint64
}

// StoreOption customizes a MessageStore.
type StoreOption func(*MessageStore)

// WithStoreEvents publishes store events on b.
func WithStoreEvents(b *events.Bus) StoreOption {
	return func(s *MessageStore) { s.bus = b }
}

// WithStoreLogger sets the component logger.
func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *MessageStore) { s.log = l }
}

// WithStoreClock overrides the time source (read receipts, cleanup cutoffs).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *MessageStore) { s.now = now }
}

// OpenMessageStore opens the database file, applies migrations and prepares
// the cache.
func OpenMessageStore(ctx context.Context, cfg StoreConfig, opts ...StoreOption) (*MessageStore, error) {
	s := &MessageStore{
		cfg: cfg,
		log: log.With().Str("component", "store").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	s.rev.Store(uint64(time.Now().UnixNano()))
	if cfg.CacheEnabled {
		capacity := cfg.CacheCapacity
		if capacity <= 0 {
			capacity = cache.DefaultCapacity
		}
		c, err := cache.New(capacity)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}

	db, err := s.openDB(ctx)
	if err != nil {
		s.status = StorageError
		return nil, storeErr("open", err)
	}
	s.db = db
	s.status = StorageReady
	s.log.Info().Str("path", cfg.Path).Bool("cache", cfg.CacheEnabled).Msg("message store ready")
	return s, nil
}

func (s *MessageStore) openDB(ctx context.Context) (*gorm.DB, error) {
	var opts []repo.OpenOption
	if s.cfg.GormLogger != nil {
		opts = append(opts, repo.WithLogger(s.cfg.GormLogger))
	}
	if s.cfg.Tracing {
		opts = append(opts, repo.WithTracing())
	}
	db, err := repo.OpenSQLite(s.cfg.Path, opts...)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx, db); err != nil {
		_ = repo.Close(db)
		return nil, err
	}
	return db, nil
}

// Close releases the database handle. Further calls fail with ErrNotReady.
func (s *MessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := repo.Close(s.db)
	s.db = nil
	s.status = StorageUninitialized
	return err
}

// Status returns the current storage status.
func (s *MessageStore) Status() StorageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Path returns the database file path.
func (s *MessageStore) Path() string { return s.cfg.Path }

// Cache returns the LRU mirror, or nil when caching is disabled.
func (s *MessageStore) Cache() *cache.MessageCache { return s.cache }

// withDB runs fn with the live handle while holding the shared lock.
func (s *MessageStore) withDB(fn func(db *gorm.DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil || s.status != StorageReady {
		return ErrNotReady
	}
	return fn(s.db)
}

// mutate runs fn like withDB while holding cacheMu exclusively, so no
// read-through can cache a row fn is changing.
func (s *MessageStore) mutate(fn func(db *gorm.DB) error) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	defer s.rev.Add(1)
	return s.withDB(fn)
}

// Revision returns a token that changes whenever stored data may have
// changed: any write, delete, read receipt or restore. HTTP ETags fold it in.
func (s *MessageStore) Revision() uint64 { return s.rev.Load() }

func (s *MessageStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer("services/MessageStore")
	return tr.Start(ctx, op, trace.WithAttributes(attrs...))
}

// finish records metrics, span status and a storage-error event for op.
func (s *MessageStore) finish(span trace.Span, op string, start time.Time, errp *error) {
	defer span.End()
	err := *errp
	res := ResultOf(err)
	metrics.ObserveStoreOp(op, res.String(), start)
	if err == nil || res == NotFound {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, res.String())
	s.log.Warn().Err(err).Str("op", op).Str("result", res.String()).Msg("store operation failed")
	s.bus.Publish(events.Event{Kind: events.StorageError, Result: res.String(), Err: err})
}

func normalize(m *domain.Message) (*domain.Message, error) {
	if m == nil {
		return nil, ErrInvalidMessage
	}
	c := m.Clone()
	c.Timestamp = c.Timestamp.UTC()
	if c.EditedTimestamp != nil {
		t := c.EditedTimestamp.UTC()
		c.EditedTimestamp = &t
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return c, nil
}

func (s *MessageStore) checkCapacity(ctx context.Context, db *gorm.DB) error {
	if s.cfg.MaxStorageBytes <= 0 {
		return nil
	}
	used, err := repo.UsedBytes(ctx, db)
	if err != nil {
		return err
	}
	if used >= s.cfg.MaxStorageBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, used, s.cfg.MaxStorageBytes)
	}
	return nil
}

// Store persists a new message. The stored copy is cached.
func (s *MessageStore) Store(ctx context.Context, m *domain.Message) (err error) {
	ctx, span := s.startSpan(ctx, "Store")
	defer s.finish(span, "store", time.Now(), &err)

	c, err := normalize(m)
	if err != nil {
		return storeErr("store", err)
	}
	span.SetAttributes(attribute.String("message.id", c.ID), attribute.String("room.id", c.RoomID))

	err = s.mutate(func(db *gorm.DB) error {
		if err := s.checkCapacity(ctx, db); err != nil {
			return err
		}
		if err := repo.InsertMessage(ctx, db, c); err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Put(c)
		}
		return nil
	})
	if err != nil {
		return storeErr("store", err)
	}
	s.bus.Publish(events.Event{Kind: events.MessageStored, MessageID: c.ID, RoomID: c.RoomID, Success: true})
	return nil
}

// StoreBatch persists all messages in one transaction: either every message
// is stored or none is.
func (s *MessageStore) StoreBatch(ctx context.Context, ms []*domain.Message) (err error) {
	ctx, span := s.startSpan(ctx, "StoreBatch", attribute.Int("batch.size", len(ms)))
	defer s.finish(span, "store_batch", time.Now(), &err)

	rows := make([]domain.Message, 0, len(ms))
	for _, m := range ms {
		c, err := normalize(m)
		if err != nil {
			return storeErr("store_batch", err)
		}
		rows = append(rows, *c)
	}

	err = s.mutate(func(db *gorm.DB) error {
		if err := s.checkCapacity(ctx, db); err != nil {
			return err
		}
		if err := repo.InsertMessages(ctx, db, rows); err != nil {
			return err
		}
		if s.cache != nil {
			for i := range rows {
				s.cache.Put(&rows[i])
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("store_batch", err)
	}
	for i := range rows {
		s.bus.Publish(events.Event{Kind: events.MessageStored, MessageID: rows[i].ID, RoomID: rows[i].RoomID, Success: true})
	}
	return nil
}

// Get returns a message by id, from the cache when present.
func (s *MessageStore) Get(ctx context.Context, id string) (m *domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("message.id", id))
	defer s.finish(span, "get", time.Now(), &err)

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	err = s.withDB(func(db *gorm.DB) error {
		if s.cache != nil {
			if c, ok := s.cache.Get(id); ok {
				metrics.ObserveCacheLookup(true)
				m = c
				return nil
			}
			metrics.ObserveCacheLookup(false)
		}
		got, err := repo.GetMessage(ctx, db, id)
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Put(got)
		}
		m = got
		return nil
	})
	if err != nil {
		return nil, storeErr("get", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", s.cache != nil && s.cache.Contains(id)))
	return m, nil
}

// RoomMessages returns a page of a room's history.
func (s *MessageStore) RoomMessages(ctx context.Context, roomID string, limit, offset int, order repo.Order) (out []domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "RoomMessages",
		attribute.String("room.id", roomID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)
	defer s.finish(span, "room_messages", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		out, err = repo.ListRoomMessages(ctx, db, roomID, limit, offset, order)
		return err
	})
	return out, storeErr("room_messages", err)
}

// ByTimeRange returns a room's messages with start <= timestamp <= end,
// oldest first.
func (s *MessageStore) ByTimeRange(ctx context.Context, roomID string, start, end time.Time, limit int) ([]domain.Message, error) {
	return s.Find(ctx, repo.MessageFilter{RoomID: roomID, Start: start, End: end, Limit: limit, Order: repo.Ascending})
}

// Search returns messages whose content contains query, newest first. An
// empty roomID searches every room.
func (s *MessageStore) Search(ctx context.Context, query, roomID string, limit int) ([]domain.Message, error) {
	return s.Find(ctx, repo.MessageFilter{Query: query, RoomID: roomID, Limit: limit, Order: repo.Descending})
}

// Find returns messages matching f.
func (s *MessageStore) Find(ctx context.Context, f repo.MessageFilter) (out []domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "Find",
		attribute.String("room.id", f.RoomID),
		attribute.Int("limit", f.Limit),
	)
	defer s.finish(span, "find", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		out, err = repo.FindMessages(ctx, db, f)
		return err
	})
	return out, storeErr("find", err)
}

// Update overwrites a stored message. A message never leaves an absorbing
// status (see domain.CanTransition).
func (s *MessageStore) Update(ctx context.Context, m *domain.Message) (err error) {
	ctx, span := s.startSpan(ctx, "Update")
	defer s.finish(span, "update", time.Now(), &err)

	c, err := normalize(m)
	if err != nil {
		return storeErr("update", err)
	}
	span.SetAttributes(attribute.String("message.id", c.ID))

	err = s.mutate(func(db *gorm.DB) error {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			cur, err := repo.GetMessage(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			if !domain.CanTransition(cur.Status, c.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, c.Status)
			}
			return repo.UpdateMessage(ctx, tx, c)
		})
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Put(c)
		}
		return nil
	})
	if err != nil {
		return storeErr("update", err)
	}
	s.bus.Publish(events.Event{Kind: events.MessageUpdated, MessageID: c.ID, RoomID: c.RoomID, Success: true})
	return nil
}

// Delete removes a message and its read receipts.
func (s *MessageStore) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "Delete", attribute.String("message.id", id))
	defer s.finish(span, "delete", time.Now(), &err)

	err = s.mutate(func(db *gorm.DB) error {
		if err := repo.DeleteMessage(ctx, db, id); err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Remove(id)
		}
		return nil
	})
	if err != nil {
		return storeErr("delete", err)
	}
	s.bus.Publish(events.Event{Kind: events.MessageDeleted, MessageID: id, Success: true})
	return nil
}

// DeleteRoomMessages removes every message of a room.
func (s *MessageStore) DeleteRoomMessages(ctx context.Context, roomID string) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "DeleteRoomMessages", attribute.String("room.id", roomID))
	defer s.finish(span, "delete_room", time.Now(), &err)

	err = s.mutate(func(db *gorm.DB) error {
		n, err = repo.DeleteRoomMessages(ctx, db, roomID)
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.RemoveWhere(func(m *domain.Message) bool { return m.RoomID == roomID })
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("delete_room", err)
	}
	s.bus.Publish(events.Event{Kind: events.RoomCleared, RoomID: roomID, Count: int(n), Success: true})
	return n, nil
}

// DeleteBefore removes messages older than cutoff; an empty roomID covers
// every room.
func (s *MessageStore) DeleteBefore(ctx context.Context, roomID string, cutoff time.Time) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "DeleteBefore",
		attribute.String("room.id", roomID),
		attribute.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
	)
	defer s.finish(span, "delete_before", time.Now(), &err)

	err = s.mutate(func(db *gorm.DB) error {
		n, err = repo.DeleteMessagesBefore(ctx, db, roomID, cutoff)
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.RemoveWhere(func(m *domain.Message) bool {
				return (roomID == "" || m.RoomID == roomID) && m.Timestamp.Before(cutoff)
			})
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("delete_before", err)
	}
	s.bus.Publish(events.Event{Kind: events.RoomCleared, RoomID: roomID, Count: int(n), Success: true})
	return n, nil
}

// DeleteOldest removes at most limit of the oldest messages (optionally only
// those older than before) and returns how many were deleted.
func (s *MessageStore) DeleteOldest(ctx context.Context, roomID string, before time.Time, limit int) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "DeleteOldest", attribute.String("room.id", roomID), attribute.Int("limit", limit))
	defer s.finish(span, "delete_oldest", time.Now(), &err)

	if limit <= 0 {
		return 0, nil
	}
	var ids []string
	err = s.mutate(func(db *gorm.DB) error {
		ids, err = repo.OldestMessageIDs(ctx, db, roomID, before, limit)
		if err != nil {
			return err
		}
		n, err = repo.DeleteMessagesByID(ctx, db, ids)
		if err != nil {
			return err
		}
		if s.cache != nil {
			for _, id := range ids {
				s.cache.Remove(id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("delete_oldest", err)
	}
	for _, id := range ids {
		s.bus.Publish(events.Event{Kind: events.MessageDeleted, MessageID: id, Success: true})
	}
	return n, nil
}

// CleanupOldMessages removes messages older than days days across all rooms.
func (s *MessageStore) CleanupOldMessages(ctx context.Context, days int) (int64, error) {
	return s.DeleteBefore(ctx, "", s.now().AddDate(0, 0, -days))
}

// Count returns the number of messages in a room, or overall for "".
func (s *MessageStore) Count(ctx context.Context, roomID string) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "Count", attribute.String("room.id", roomID))
	defer s.finish(span, "count", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		n, err = repo.CountMessages(ctx, db, roomID)
		return err
	})
	return n, storeErr("count", err)
}

// ListRooms returns the distinct room ids.
func (s *MessageStore) ListRooms(ctx context.Context) (rooms []string, err error) {
	ctx, span := s.startSpan(ctx, "ListRooms")
	defer s.finish(span, "list_rooms", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		rooms, err = repo.ListRooms(ctx, db)
		return err
	})
	return rooms, storeErr("list_rooms", err)
}

// LastMessage returns the newest message of a room.
func (s *MessageStore) LastMessage(ctx context.Context, roomID string) (m *domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "LastMessage", attribute.String("room.id", roomID))
	defer s.finish(span, "last_message", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		m, err = repo.LastMessage(ctx, db, roomID)
		return err
	})
	return m, storeErr("last_message", err)
}

// FirstMessage returns the oldest message of a room.
func (s *MessageStore) FirstMessage(ctx context.Context, roomID string) (m *domain.Message, err error) {
	ctx, span := s.startSpan(ctx, "FirstMessage", attribute.String("room.id", roomID))
	defer s.finish(span, "first_message", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		m, err = repo.FirstMessage(ctx, db, roomID)
		return err
	})
	return m, storeErr("first_message", err)
}

// RoomStats returns count and time span for every room.
func (s *MessageStore) RoomStats(ctx context.Context) (out []repo.RoomStat, err error) {
	ctx, span := s.startSpan(ctx, "RoomStats")
	defer s.finish(span, "room_stats", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		out, err = repo.AllRoomStats(ctx, db)
		return err
	})
	return out, storeErr("room_stats", err)
}

// UnreadCount counts messages in roomID not sent by userID and not yet read
// by userID.
func (s *MessageStore) UnreadCount(ctx context.Context, roomID, userID string) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "UnreadCount", attribute.String("room.id", roomID), attribute.String("user.id", userID))
	defer s.finish(span, "unread_count", time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error {
		n, err = repo.UnreadCount(ctx, db, roomID, userID)
		return err
	})
	return n, storeErr("unread_count", err)
}

// MarkRead records that userID read message id. Repeating it is a no-op.
func (s *MessageStore) MarkRead(ctx context.Context, id, userID string) (err error) {
	ctx, span := s.startSpan(ctx, "MarkRead", attribute.String("message.id", id), attribute.String("user.id", userID))
	defer s.finish(span, "mark_read", time.Now(), &err)

	err = s.mutate(func(db *gorm.DB) error {
		if err := repo.MarkRead(ctx, db, id, userID, s.now()); err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.Update(id, func(m *domain.Message) { m.IsRead = true })
		}
		return nil
	})
	return storeErr("mark_read", err)
}

// MarkRoomRead marks every message in the room not sent by userID as read by
// userID and returns how many receipts were created.
func (s *MessageStore) MarkRoomRead(ctx context.Context, roomID, userID string) (n int64, err error) {
	ctx, span := s.startSpan(ctx, "MarkRoomRead", attribute.String("room.id", roomID), attribute.String("user.id", userID))
	defer s.finish(span, "mark_room_read", time.Now(), &err)

	err = s.mutate(func(db *gorm.DB) error {
		n, err = repo.MarkRoomRead(ctx, db, roomID, userID, s.now())
		if err != nil {
			return err
		}
		if s.cache != nil {
			s.cache.RemoveWhere(func(m *domain.Message) bool {
				return m.RoomID == roomID && m.SenderID != userID && !m.IsRead
			})
		}
		return nil
	})
	return n, storeErr("mark_room_read", err)
}

// PreloadRoom warms the cache with the newest limit messages of a room.
func (s *MessageStore) PreloadRoom(ctx context.Context, roomID string, limit int) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	ms, err := s.RoomMessages(ctx, roomID, limit, 0, repo.Descending)
	if err != nil {
		return 0, err
	}
	// Oldest first so the newest end up most recently used.
	for i := len(ms) - 1; i >= 0; i-- {
		s.cache.Put(&ms[i])
	}
	return len(ms), nil
}

// ClearCache drops every cached message.
func (s *MessageStore) ClearCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

// ---- maintenance ----

// Compact reclaims unused pages (VACUUM).
func (s *MessageStore) Compact(ctx context.Context) error {
	return s.maintain(ctx, "compact", repo.Vacuum)
}

// RebuildIndexes rebuilds every index (REINDEX).
func (s *MessageStore) RebuildIndexes(ctx context.Context) error {
	return s.maintain(ctx, "rebuild_indexes", repo.Reindex)
}

// Analyze refreshes planner statistics (ANALYZE).
func (s *MessageStore) Analyze(ctx context.Context) error {
	return s.maintain(ctx, "analyze", repo.Analyze)
}

func (s *MessageStore) maintain(ctx context.Context, op string, fn func(context.Context, *gorm.DB) error) (err error) {
	ctx, span := s.startSpan(ctx, op)
	defer s.finish(span, op, time.Now(), &err)

	err = s.withDB(func(db *gorm.DB) error { return fn(ctx, db) })
	return storeErr(op, err)
}

// CheckIntegrity runs the SQLite integrity check. A nil error means the
// database is consistent.
func (s *MessageStore) CheckIntegrity(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "CheckIntegrity")
	defer s.finish(span, "check_integrity", time.Now(), &err)

	var problems []string
	err = s.withDB(func(db *gorm.DB) error {
		problems, err = repo.IntegrityCheck(ctx, db)
		return err
	})
	if err != nil {
		return storeErr("check_integrity", err)
	}
	if len(problems) > 0 {
		return storeErr("check_integrity", fmt.Errorf("%w: %v", ErrIntegrity, problems))
	}
	return nil
}

// Maintenance compacts, rebuilds indexes, refreshes statistics and then
// verifies integrity.
func (s *MessageStore) Maintenance(ctx context.Context) error {
	steps := []func(context.Context) error{s.Compact, s.RebuildIndexes, s.Analyze, s.CheckIntegrity}
	var err error
	for _, step := range steps {
		if err = step(ctx); err != nil {
			break
		}
	}
	s.bus.Publish(events.Event{Kind: events.MaintenanceCompleted, Success: err == nil, Err: err})
	return err
}

// Repair runs the maintenance sequence.
func (s *MessageStore) Repair(ctx context.Context) error { return s.Maintenance(ctx) }

// ---- capacity & statistics ----

// UsedBytes returns the bytes occupied by live pages.
func (s *MessageStore) UsedBytes(ctx context.Context) (n int64, err error) {
	err = s.withDB(func(db *gorm.DB) error {
		n, err = repo.UsedBytes(ctx, db)
		return err
	})
	return n, storeErr("used_bytes", err)
}

// AvailableSpace returns the bytes left before the size limit, or -1 when
// no limit is configured.
func (s *MessageStore) AvailableSpace(ctx context.Context) (int64, error) {
	if s.cfg.MaxStorageBytes <= 0 {
		return -1, nil
	}
	used, err := s.UsedBytes(ctx)
	if err != nil {
		return 0, err
	}
	return max(s.cfg.MaxStorageBytes-used, 0), nil
}

// HasEnoughSpace reports whether n more bytes fit under the size limit.
func (s *MessageStore) HasEnoughSpace(ctx context.Context, n int64) bool {
	avail, err := s.AvailableSpace(ctx)
	if err != nil {
		return false
	}
	return avail < 0 || avail >= n
}

// MaxStorageBytes returns the configured size limit (0 = unlimited).
func (s *MessageStore) MaxStorageBytes() int64 { return s.cfg.MaxStorageBytes }

// Statistics returns a snapshot of store state.
func (s *MessageStore) Statistics(ctx context.Context) (st StoreStats, err error) {
	ctx, span := s.startSpan(ctx, "Statistics")
	defer s.finish(span, "statistics", time.Now(), &err)

	st.Status = s.Status().String()
	st.MaxBytes = s.cfg.MaxStorageBytes
	err = s.withDB(func(db *gorm.DB) error {
		var err error
		if st.SchemaVersion, err = repo.StoredSchemaVersion(ctx, db); err != nil {
			return err
		}
		if st.TotalMessages, err = repo.CountMessages(ctx, db, ""); err != nil {
			return err
		}
		rooms, err := repo.ListRooms(ctx, db)
		if err != nil {
			return err
		}
		st.Rooms = len(rooms)
		if st.UsedBytes, err = repo.UsedBytes(ctx, db); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return st, storeErr("statistics", err)
	}
	if fi, statErr := os.Stat(s.cfg.Path); statErr == nil {
		st.FileBytes = fi.Size()
	}
	st.AvailableBytes = -1
	if st.MaxBytes > 0 {
		st.AvailableBytes = max(st.MaxBytes-st.UsedBytes, 0)
	}
	if s.cache != nil {
		st.CacheEnabled = true
		st.CacheSize = s.cache.Len()
		st.CacheCapacity = s.cache.Capacity()
		st.CacheHitRate = s.cache.HitRate()
	}
	return st, nil
}

// IsNotFound reports whether err is a NotFound store result.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) || ResultOf(err) == NotFound }
