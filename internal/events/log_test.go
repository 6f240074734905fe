package events

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogTo_Levels(t *testing.T) {
	var buf bytes.Buffer
	h := LogTo(zerolog.New(&buf).Level(zerolog.DebugLevel))

	h(Event{Kind: MessageStored, MessageID: "m1", RoomID: "r1"})
	h(Event{Kind: QueueFull, Count: 10})
	h(Event{Kind: BackupCompleted, Path: "/tmp/b.db", Err: errors.New("disk")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d: %s", len(lines), buf.String())
	}
	for i, want := range []string{
		`"level":"debug","event":"message_stored"`,
		`"level":"warn","event":"queue_full"`,
		`"level":"warn","event":"backup_completed"`,
	} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %s; want %s", i, lines[i], want)
		}
	}
	if !strings.Contains(lines[0], `"message_id":"m1"`) || !strings.Contains(lines[1], `"count":10`) ||
		!strings.Contains(lines[2], `"error":"disk"`) {
		t.Fatalf("missing fields: %s", buf.String())
	}
}
