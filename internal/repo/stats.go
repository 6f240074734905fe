// Package repo implements the data persistence layer for chat messages,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the history manager and the HTTP query adapter.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// RoomStat summarizes one room.
type RoomStat struct {
	RoomID   string    `json:"room_id"`
	Count    int64     `json:"count"`
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// RoomMessagesStats returns the number of messages in a room together with
// the earliest and latest timestamps. When the room is empty both times are
// nil.
func RoomMessagesStats(ctx context.Context, db *gorm.DB, roomID string) (count int64, earliest, latest *time.Time, err error) {
	q := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Message{}).Where("room_id = ?", roomID)
	}

	if err = q().Count(&count).Error; err != nil {
		return 0, nil, nil, err
	}
	if count == 0 {
		return 0, nil, nil, nil
	}

	// Ordered single-row reads (avoid MIN()/MAX() -> TEXT in SQLite)
	var first, last struct{ Timestamp time.Time }
	if err = q().Select("timestamp").Order("timestamp ASC").Limit(1).Scan(&first).Error; err != nil {
		return 0, nil, nil, err
	}
	if err = q().Select("timestamp").Order("timestamp DESC").Limit(1).Scan(&last).Error; err != nil {
		return 0, nil, nil, err
	}
	return count, &first.Timestamp, &last.Timestamp, nil
}

// AllRoomStats returns per-room statistics for every room, sorted by room id.
func AllRoomStats(ctx context.Context, db *gorm.DB) ([]RoomStat, error) {
	var rows []struct {
		RoomID string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("room_id, COUNT(*) AS n").
		Group("room_id").
		Order("room_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]RoomStat, 0, len(rows))
	for _, r := range rows {
		_, earliest, latest, err := RoomMessagesStats(ctx, db, r.RoomID)
		if err != nil {
			return nil, err
		}
		st := RoomStat{RoomID: r.RoomID, Count: r.N}
		if earliest != nil {
			st.Earliest, st.Latest = *earliest, *latest
		}
		out = append(out, st)
	}
	return out, nil
}
