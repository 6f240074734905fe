// Package export renders room history in the supported export formats
// (plain text, HTML, JSON, CSV, XML) and decodes JSON exports for import.
//
// JSON exports carry messages in the collaborator payload shape produced by
// payload.Format, so an export can be imported back without loss.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/payload"
)

// Format is an export file format.
type Format string

const (
	Text Format = "text"
	HTML Format = "html"
	JSON Format = "json"
	CSV  Format = "csv"
	XML  Format = "xml"
)

// ErrUnsupportedFormat is returned for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ParseFormat accepts a format name or a common alias ("txt", "htm").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt", "plain":
		return Text, nil
	case "html", "htm":
		return HTML, nil
	case "json":
		return JSON, nil
	case "csv":
		return CSV, nil
	case "xml":
		return XML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Meta describes an export.
type Meta struct {
	RoomID     string    // empty for a multi-room export
	ExportedAt time.Time
	Start, End time.Time // zero when unbounded
}

// Write renders msgs to w in format f.
func Write(w io.Writer, f Format, meta Meta, msgs []domain.Message) error {
	if meta.ExportedAt.IsZero() {
		meta.ExportedAt = time.Now().UTC()
	}
	switch f {
	case Text:
		return writeText(w, meta, msgs)
	case HTML:
		return writeHTML(w, meta, msgs)
	case JSON:
		return writeJSON(w, meta, msgs)
	case CSV:
		return writeCSV(w, msgs)
	case XML:
		return writeXML(w, meta, msgs)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// displayName is the sender name, falling back to the sender id.
func displayName(m *domain.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

const stamp = "2006-01-02 15:04:05"

// ---- text ----

func writeText(w io.Writer, meta Meta, msgs []domain.Message) error {
	var b strings.Builder
	if meta.RoomID != "" {
		fmt.Fprintf(&b, "Chat history for room %s\n", meta.RoomID)
	} else {
		b.WriteString("Chat history\n")
	}
	fmt.Fprintf(&b, "Exported at %s UTC, %d messages\n\n", meta.ExportedAt.UTC().Format(stamp), len(msgs))
	for i := range msgs {
		m := &msgs[i]
		fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.UTC().Format(stamp), displayName(m), m.Content)
		if m.IsEdited {
			b.WriteString(" (edited)")
		}
		if m.Type.HasAttachment() && m.FileURL != "" {
			fmt.Fprintf(&b, " <%s>", m.FileURL)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ---- JSON ----

type jsonExport struct {
	RoomID       string            `json:"roomId,omitempty"`
	ExportedAt   time.Time         `json:"exportedAt"`
	Start        *time.Time        `json:"start,omitempty"`
	End          *time.Time        `json:"end,omitempty"`
	MessageCount int               `json:"messageCount"`
	Messages     []payload.Payload `json:"messages"`
}

func optional(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func writeJSON(w io.Writer, meta Meta, msgs []domain.Message) error {
	doc := jsonExport{
		RoomID:       meta.RoomID,
		ExportedAt:   meta.ExportedAt.UTC(),
		Start:        optional(meta.Start),
		End:          optional(meta.End),
		MessageCount: len(msgs),
		Messages:     make([]payload.Payload, len(msgs)),
	}
	for i := range msgs {
		doc.Messages[i] = payload.Format(&msgs[i])
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// DecodeJSON reads a JSON export (or a bare array of payloads) and parses
// every message. Any invalid message fails the whole decode.
func DecodeJSON(r io.Reader) ([]*domain.Message, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var items []payload.Payload
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &items)
	} else {
		var doc struct {
			Messages []payload.Payload `json:"messages"`
		}
		err = json.Unmarshal(raw, &doc)
		items = doc.Messages
	}
	if err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}

	out := make([]*domain.Message, 0, len(items))
	for i, p := range items {
		m, err := payload.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
