package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRoomMessagesStats_CountError_NoTable(t *testing.T) {
	// Unmigrated in-memory DB so the missing table surfaces as an error.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, _, _, err := RoomMessagesStats(context.Background(), db, "r1"); err == nil {
		t.Fatalf("expected error due to missing messages table")
	}
}

func TestRoomMessagesStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, earliest, latest, err := RoomMessagesStats(ctx, db, "r1")
	if err != nil || n != 0 || earliest != nil || latest != nil {
		t.Fatalf("empty room = %d %v %v %v", n, earliest, latest, err)
	}

	for i, off := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		m := mkMsg(fmt.Sprintf("m%d", i), "r1", "a", t0.Add(off), "c")
		if err := InsertMessage(ctx, db, &m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	n, earliest, latest, err = RoomMessagesStats(ctx, db, "r1")
	if err != nil || n != 3 {
		t.Fatalf("stats = %d, %v", n, err)
	}
	if !earliest.Equal(t0) || !latest.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("earliest=%v latest=%v", earliest, latest)
	}
}

func TestAllRoomStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m := mkMsg(fmt.Sprintf("b%d", i), "beta", "a", t0.Add(time.Duration(i)*time.Minute), "c")
		_ = InsertMessage(ctx, db, &m)
	}
	m := mkMsg("a0", "alpha", "a", t0, "c")
	_ = InsertMessage(ctx, db, &m)

	stats, err := AllRoomStats(ctx, db)
	if err != nil {
		t.Fatalf("AllRoomStats: %v", err)
	}
	if len(stats) != 2 || stats[0].RoomID != "alpha" || stats[1].RoomID != "beta" {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[1].Count != 3 || !stats[1].Latest.Equal(t0.Add(2*time.Minute)) || !stats[1].Earliest.Equal(t0) {
		t.Fatalf("beta = %+v", stats[1])
	}
}
