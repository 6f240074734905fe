package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// MarkRead records a receipt for (messageID, userID) and sets the message's
// is_read flag. Repeating the call is a no-op. It returns ErrNotFound when
// the message does not exist.
func MarkRead(ctx context.Context, db *gorm.DB, messageID, userID string, at time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Message{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		rs := domain.ReadStatus{MessageID: messageID, UserID: userID, ReadTimestamp: at.UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Message").Create(&rs).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Message{}).
			Where("id = ? AND is_read = ?", messageID, false).
			Update("is_read", true).Error
	})
}

// MarkRoomRead records receipts for every message in the room not sent by
// userID and returns how many receipts were newly created.
func MarkRoomRead(ctx context.Context, db *gorm.DB, roomID, userID string, at time.Time) (int64, error) {
	var created int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`INSERT OR IGNORE INTO read_status (message_id, user_id, read_timestamp)
			 SELECT id, ?, ? FROM messages WHERE room_id = ? AND sender_id <> ?`,
			userID, at.UTC(), roomID, userID,
		)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected
		return tx.Model(&domain.Message{}).
			Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, userID, false).
			Update("is_read", true).Error
	})
	return created, err
}

// UnreadCount counts messages in a room, not sent by userID, for which
// userID has no receipt.
func UnreadCount(ctx context.Context, db *gorm.DB, roomID, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM messages m
		 WHERE m.room_id = ? AND m.sender_id <> ?
		   AND NOT EXISTS (SELECT 1 FROM read_status r WHERE r.message_id = m.id AND r.user_id = ?)`,
		roomID, userID, userID,
	).Scan(&n).Error
	return n, err
}

// ReadReceipts lists the receipts of a message, oldest first.
func ReadReceipts(ctx context.Context, db *gorm.DB, messageID string) ([]domain.ReadStatus, error) {
	var out []domain.ReadStatus
	err := db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("read_timestamp ASC, user_id ASC").
		Find(&out).Error
	return out, err
}
