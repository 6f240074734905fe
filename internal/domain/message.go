package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const (
	// MaxContentLength is the maximum message length in characters.
	MaxContentLength = 10000
	// MaxIDLength bounds sender and room identifiers.
	MaxIDLength = 255
)

var (
	ErrMissingID       = errors.New("message id is empty")
	ErrMissingSender   = errors.New("sender id is empty")
	ErrMissingRoom     = errors.New("room id is empty")
	ErrEmptyContent    = errors.New("content is empty")
	ErrContentTooLong  = errors.New("content exceeds maximum length")
	ErrIDTooLong       = errors.New("identifier exceeds maximum length")
	ErrInvalidTime     = errors.New("timestamp is not set")
	ErrInvalidEditTime = errors.New("edited timestamp precedes creation")
	ErrUnknownEnum     = errors.New("unknown type, status or priority")
)

// Validate checks the invariants a message must satisfy before it is
// persisted.
func (m *Message) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return ErrMissingID
	case strings.TrimSpace(m.SenderID) == "":
		return ErrMissingSender
	case strings.TrimSpace(m.RoomID) == "":
		return ErrMissingRoom
	case utf8.RuneCountInString(m.SenderID) > MaxIDLength, utf8.RuneCountInString(m.RoomID) > MaxIDLength:
		return ErrIDTooLong
	case m.Content == "" && !m.Type.HasAttachment():
		return ErrEmptyContent
	case utf8.RuneCountInString(m.Content) > MaxContentLength:
		return ErrContentTooLong
	case m.Timestamp.IsZero():
		return ErrInvalidTime
	case !m.Type.Valid() || !m.Status.Valid() || !m.Priority.Valid():
		return ErrUnknownEnum
	}
	if m.IsEdited && (m.EditedTimestamp == nil || m.EditedTimestamp.Before(m.Timestamp)) {
		return ErrInvalidEditTime
	}
	return nil
}

// Edit replaces the content and marks the message edited. The edit time is
// recorded only on the first edit and never precedes the creation time.
func (m *Message) Edit(content string, at time.Time) {
	m.Content = content
	if m.IsEdited && m.EditedTimestamp != nil {
		return
	}
	at = at.UTC()
	if at.Before(m.Timestamp) {
		at = m.Timestamp
	}
	m.IsEdited = true
	m.EditedTimestamp = &at
}

// Clone returns a deep copy of m. Maps and nested JSON values are copied so
// the clone can be mutated independently.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.EditedTimestamp != nil {
		t := *m.EditedTimestamp
		c.EditedTimestamp = &t
	}
	c.FileInfo = CopyJSONMap(m.FileInfo)
	c.Properties = CopyJSONMap(m.Properties)
	return &c
}

// CopyJSONMap deep-copies a JSON object.
func CopyJSONMap(src map[string]any) datatypes.JSONMap {
	if src == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(src))
	for k, v := range src {
		out[k] = copyJSONValue(v)
	}
	return out
}

func copyJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(CopyJSONMap(t))
	case datatypes.JSONMap:
		return CopyJSONMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyJSONValue(e)
		}
		return out
	default:
		return v
	}
}
