package export

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-chat-store/internal/domain"
)

var t0 = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func sample() []domain.Message {
	edited := t0.Add(time.Minute)
	return []domain.Message{
		{ID: "m1", Content: "hello <b>world</b>", Type: domain.TypeText, SenderID: "u1", SenderName: "Alice", RoomID: "r1", Timestamp: t0},
		{ID: "m2", Content: "see, \"attached\"", Type: domain.TypeFile, SenderID: "u2", RoomID: "r1",
			Timestamp: t0.Add(time.Second), FileURL: "https://files.example/a.pdf", FileSize: 42, MimeType: "application/pdf",
			IsEdited: true, EditedTimestamp: &edited, Priority: domain.PriorityHigh},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"txt": Text, "TEXT": Text, "htm": HTML, "json": JSON, " csv ": CSV, "xml": XML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
	if f, err := FormatFromPath("/tmp/out.html"); err != nil || f != HTML {
		t.Fatalf("FormatFromPath = %q, %v", f, err)
	}
	if err := Write(&bytes.Buffer{}, Format("pdf"), Meta{}, nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Write unknown format = %v", err)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Text, Meta{RoomID: "r1", ExportedAt: t0}, sample()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Chat history for room r1",
		"2 messages",
		"[2025-03-04 10:30:00] Alice: hello <b>world</b>\n",
		"[2025-03-04 10:30:01] u2: see, \"attached\" (edited) <https://files.example/a.pdf>\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("text export missing %q:\n%s", want, out)
		}
	}
}

func TestWriteHTML_Escapes(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, HTML, Meta{RoomID: "r1", ExportedAt: t0}, sample()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<b>world</b>") {
		t.Fatalf("content must be escaped:\n%s", out)
	}
	for _, want := range []string{"&lt;b&gt;world&lt;/b&gt;", `id="msg-m1"`, `href="https://files.example/a.pdf"`, "(edited)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("html export missing %q", want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, CSV, Meta{}, sample()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(recs) != 3 || recs[0][0] != "id" {
		t.Fatalf("unexpected records: %v", recs)
	}
	if recs[2][9] != `see, "attached"` || recs[2][5] != "file" || recs[2][7] != "high" || recs[2][8] != "true" {
		t.Fatalf("row = %v", recs[2])
	}
}

func TestWriteXML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, XML, Meta{RoomID: "r1", ExportedAt: t0}, sample()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Fatalf("missing xml header")
	}
	var doc xmlHistory
	if err := xml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.RoomID != "r1" || doc.Count != 2 || len(doc.Messages) != 2 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Messages[0].FileURL != "" || doc.Messages[1].FileSize != 42 || doc.Messages[0].Content != "hello <b>world</b>" {
		t.Fatalf("messages = %+v", doc.Messages)
	}
}

func TestJSONExportImportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := sample()
	if err := Write(&buf, JSON, Meta{RoomID: "r1", ExportedAt: t0, Start: t0}, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `"messageCount": 2`) {
		t.Fatalf("missing count:\n%s", buf.String())
	}

	out, err := DecodeJSON(&buf)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d messages", len(out))
	}
	got := out[1]
	if got.ID != "m2" || got.Content != in[1].Content || !got.Timestamp.Equal(in[1].Timestamp) ||
		got.FileSize != 42 || got.MimeType != "application/pdf" || got.Priority != domain.PriorityHigh ||
		!got.IsEdited || got.EditedTimestamp == nil || !got.EditedTimestamp.Equal(*in[1].EditedTimestamp) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeJSON_BareArrayAndErrors(t *testing.T) {
	msgs, err := DecodeJSON(strings.NewReader(`[{"id":"x","content":"hi","senderId":"u","roomId":"r","timestamp":"2025-03-04T10:30:00Z"}]`))
	if err != nil || len(msgs) != 1 || msgs[0].ID != "x" {
		t.Fatalf("bare array = %v, %v", msgs, err)
	}
	if _, err := DecodeJSON(strings.NewReader(`{"messages":[{"content":"no sender","roomId":"r"}]}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := DecodeJSON(strings.NewReader(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
