// Package events provides the observer bus that replaces ad-hoc callbacks
// between the pipeline, the store and their collaborators. Subscribers
// receive every published Event synchronously, in subscription order.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies an event.
type Kind string

const (
	MessageProcessed        Kind = "message_processed"
	MessageFiltered         Kind = "message_filtered"
	ValidationFailed        Kind = "validation_failed"
	RetryScheduled          Kind = "retry_scheduled"
	PermanentFailure        Kind = "permanent_failure"
	ProcessorError          Kind = "processor_error"
	QueueSizeChanged        Kind = "queue_size_changed"
	QueueFull               Kind = "queue_full"
	QueueEmpty              Kind = "queue_empty"
	ProcessingStatusChanged Kind = "processing_status_changed"

	MessageStored        Kind = "message_stored"
	MessageUpdated       Kind = "message_updated"
	MessageDeleted       Kind = "message_deleted"
	RoomCleared          Kind = "room_cleared"
	StorageError         Kind = "storage_error"
	BackupCompleted      Kind = "backup_completed"
	RestoreCompleted     Kind = "restore_completed"
	MaintenanceCompleted Kind = "maintenance_completed"

	CleanupCompleted Kind = "cleanup_completed"
	ExportCompleted  Kind = "export_completed"
	ImportCompleted  Kind = "import_completed"
)

// Event is a lifecycle notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Time      time.Time
	MessageID string
	RoomID    string
	Result    string // processing or operation result name
	Status    string // processing status name
	Count     int    // queue size, deleted rows, imported rows, ...
	Path      string // backup, restore, export or import file
	Success   bool
	Err       error
}

// Handler receives events.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus. A nil *Bus silently drops events.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber. A panicking handler is logged and
// does not prevent delivery to the others. Publish must not be called while
// holding locks that handlers may need.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("event", string(e.Kind)).
				Msg("event handler panicked")
		}
	}()
	h(e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
