// Package repo implements the data persistence layer for chat messages,
// backed by GORM. This file provides the message queries; every value is
// bound as a parameter.
//
// Overview:
//
//   - InsertMessage / InsertMessages
//     Single insert, and an all-or-nothing batch insert in one transaction.
//
//   - GetMessage / UpdateMessage / DeleteMessage
//     Primary-key access; missing rows surface as ErrNotFound.
//
//   - ListRoomMessages / FindMessages
//     Paged room history and filtered lookups (text, sender, type, window).
//
//   - DeleteRoomMessages / DeleteMessagesBefore / DeleteMessagesByID
//     Bulk removal used by history cleanup; read receipts go first.
//
// Usage:
//
//	msgs, err := repo.ListRoomMessages(ctx, db, "room-1", 50, 0, repo.Descending)
//	if err != nil { ... }
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// Order selects timestamp ordering for room history.
type Order int

const (
	Ascending Order = iota
	Descending
)

// batchSize keeps multi-row statements under SQLite's bound-variable limit.
const batchSize = 200

// MessageFilter narrows FindMessages. Zero fields are ignored.
type MessageFilter struct {
	Query    string // substring of content
	RoomID   string
	SenderID string
	Type     *domain.MessageType
	Start    time.Time // inclusive
	End      time.Time // inclusive
	Limit    int
	Offset   int
	Order    Order
}

// InsertMessage inserts a new message row.
func InsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

// InsertMessages inserts all messages in one transaction.
func InsertMessages(ctx context.Context, db *gorm.DB, ms []domain.Message) error {
	if len(ms) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(ms, batchSize).Error
	})
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessage overwrites every column of the row with m's values.
func UpdateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", m.ID).
		Select("*").
		Omit("id").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message and its read receipts.
func DeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&domain.ReadStatus{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteRoomMessages removes every message of a room and returns how many
// rows were deleted.
func DeleteRoomMessages(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	return deleteWhere(ctx, db, "room_id = ?", roomID)
}

// DeleteMessagesBefore removes messages older than cutoff. An empty roomID
// applies to all rooms.
func DeleteMessagesBefore(ctx context.Context, db *gorm.DB, roomID string, cutoff time.Time) (int64, error) {
	if roomID == "" {
		return deleteWhere(ctx, db, "timestamp < ?", cutoff.UTC())
	}
	return deleteWhere(ctx, db, "room_id = ? AND timestamp < ?", roomID, cutoff.UTC())
}

func deleteWhere(ctx context.Context, db *gorm.DB, cond string, args ...any) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&domain.Message{}).Select("id").Where(cond, args...)
		if err := tx.Where("message_id IN (?)", sub).Delete(&domain.ReadStatus{}).Error; err != nil {
			return err
		}
		res := tx.Where(cond, args...).Delete(&domain.Message{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// OldestMessageIDs returns up to limit ids ordered oldest first. An empty
// roomID covers all rooms; a zero before disables the age bound.
func OldestMessageIDs(ctx context.Context, db *gorm.DB, roomID string, before time.Time, limit int) ([]string, error) {
	q := db.WithContext(ctx).Model(&domain.Message{})
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	if !before.IsZero() {
		q = q.Where("timestamp < ?", before.UTC())
	}
	var ids []string
	err := q.Order("timestamp ASC, id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// DeleteMessagesByID removes the given messages and their read receipts in
// one transaction.
func DeleteMessagesByID(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += batchSize {
			end := min(start+batchSize, len(ids))
			chunk := ids[start:end]
			if err := tx.Where("message_id IN ?", chunk).Delete(&domain.ReadStatus{}).Error; err != nil {
				return err
			}
			res := tx.Where("id IN ?", chunk).Delete(&domain.Message{})
			if res.Error != nil {
				return res.Error
			}
			n += res.RowsAffected
		}
		return nil
	})
	return n, err
}

// ListRoomMessages returns a page of a room's history ordered by timestamp
// (ties broken by id).
func ListRoomMessages(ctx context.Context, db *gorm.DB, roomID string, limit, offset int, order Order) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("room_id = ?", roomID).Order(orderBy(order))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&out).Error
	return out, err
}

// FindMessages returns messages matching f in f.Order. Content matching uses
// LIKE, which is case-insensitive for ASCII only.
func FindMessages(ctx context.Context, db *gorm.DB, f MessageFilter) ([]domain.Message, error) {
	q := db.WithContext(ctx).Model(&domain.Message{})
	if f.Query != "" {
		q = q.Where(`content LIKE ? ESCAPE '\'`, "%"+escapeLike(f.Query)+"%")
	}
	if f.RoomID != "" {
		q = q.Where("room_id = ?", f.RoomID)
	}
	if f.SenderID != "" {
		q = q.Where("sender_id = ?", f.SenderID)
	}
	if f.Type != nil {
		q = q.Where("type = ?", int(*f.Type))
	}
	if !f.Start.IsZero() {
		q = q.Where("timestamp >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		q = q.Where("timestamp <= ?", f.End.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []domain.Message
	err := q.Order(orderBy(f.Order)).Find(&out).Error
	return out, err
}

// CountMessages counts messages in a room, or in all rooms when roomID is "".
func CountMessages(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Message{})
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListRooms returns the distinct room ids, sorted.
func ListRooms(ctx context.Context, db *gorm.DB) ([]string, error) {
	var rooms []string
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Distinct("room_id").
		Order("room_id ASC").
		Pluck("room_id", &rooms).Error
	return rooms, err
}

// LastMessage returns the newest message of a room.
func LastMessage(ctx context.Context, db *gorm.DB, roomID string) (*domain.Message, error) {
	return edgeMessage(ctx, db, roomID, Descending)
}

// FirstMessage returns the oldest message of a room.
func FirstMessage(ctx context.Context, db *gorm.DB, roomID string) (*domain.Message, error) {
	return edgeMessage(ctx, db, roomID, Ascending)
}

func edgeMessage(ctx context.Context, db *gorm.DB, roomID string, order Order) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order(orderBy(order)).
		Limit(1).
		Take(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func orderBy(o Order) clause.OrderBy {
	desc := o == Descending
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "timestamp"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
