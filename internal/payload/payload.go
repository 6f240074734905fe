// Package payload is the validation and transform boundary between
// collaborator-facing key/value payloads and domain.Message.
//
// Payload keys use the collaborator wire names (camelCase): id, content,
// type, senderId, senderName, roomId, timestamp, status, priority, isRead,
// isEdited, editedTimestamp, fileUrl, fileSize, mimeType, fileInfo,
// properties. Payloads are converted to typed messages as early as possible;
// everything past Parse works on domain.Message.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// Payload keys.
const (
	KeyID              = "id"
	KeyContent         = "content"
	KeyType            = "type"
	KeySenderID        = "senderId"
	KeySenderName      = "senderName"
	KeyRoomID          = "roomId"
	KeyTimestamp       = "timestamp"
	KeyStatus          = "status"
	KeyPriority        = "priority"
	KeyIsRead          = "isRead"
	KeyIsEdited        = "isEdited"
	KeyEditedTimestamp = "editedTimestamp"
	KeyFileURL         = "fileUrl"
	KeyFileSize        = "fileSize"
	KeyMimeType        = "mimeType"
	KeyFileInfo        = "fileInfo"
	KeyProperties      = "properties"
)

// Payload is an untyped message as exchanged with UI and network
// collaborators.
type Payload map[string]any

// ValidationError reports a structurally invalid payload. It is never
// retried by the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Clone returns a copy of p whose nested maps and slices are independent.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return Payload(domain.CopyJSONMap(p))
}

// ID returns the payload id, or "" when absent.
func (p Payload) ID() string {
	s, _ := p[KeyID].(string)
	return s
}

// RoomID returns the payload room id, or "" when absent.
func (p Payload) RoomID() string {
	s, _ := p[KeyRoomID].(string)
	return s
}

// Validate checks that content, senderId and roomId are present, that the
// content fits within domain.MaxContentLength characters, and that the
// sender and room identifiers are non-empty and at most domain.MaxIDLength
// characters.
func Validate(p Payload) error {
	if p == nil {
		return invalid("payload", "is nil")
	}
	raw, ok := p[KeyContent]
	if !ok {
		return invalid(KeyContent, "is missing")
	}
	content, ok := raw.(string)
	if !ok {
		return invalid(KeyContent, "must be a string")
	}
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return invalid(KeyContent, fmt.Sprintf("exceeds %d characters", domain.MaxContentLength))
	}
	for _, key := range []string{KeySenderID, KeyRoomID} {
		v, ok := p[key]
		if !ok {
			return invalid(key, "is missing")
		}
		s, ok := v.(string)
		if !ok {
			return invalid(key, "must be a string")
		}
		if strings.TrimSpace(s) == "" {
			return invalid(key, "is empty")
		}
		if utf8.RuneCountInString(s) > domain.MaxIDLength {
			return invalid(key, fmt.Sprintf("exceeds %d characters", domain.MaxIDLength))
		}
	}
	mt := domain.TypeText
	if v, ok := p[KeyType]; ok {
		t, err := asMessageType(v)
		if err != nil {
			return invalid(KeyType, err.Error())
		}
		mt = t
	}
	if content == "" && !mt.HasAttachment() {
		return invalid(KeyContent, "is empty")
	}
	return nil
}

// Parse validates p and converts it to a message. Optional fields get
// defaults: a fresh UUID id, the current UTC time, status Pending and
// priority Normal. An id present in the payload is preserved.
func Parse(p Payload) (*domain.Message, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	m := &domain.Message{
		ID:       uuid.NewString(),
		Content:  p[KeyContent].(string),
		SenderID: p[KeySenderID].(string),
		RoomID:   p[KeyRoomID].(string),
		Status:   domain.StatusPending,
		Priority: domain.PriorityNormal,
	}
	if id, ok := p[KeyID].(string); ok && strings.TrimSpace(id) != "" {
		m.ID = id
	}
	if v, ok := p[KeyType]; ok {
		m.Type, _ = asMessageType(v)
	}
	if s, ok := p[KeySenderName].(string); ok {
		m.SenderName = s
	}

	ts, err := optTime(p, KeyTimestamp)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		now := time.Now().UTC()
		ts = &now
	}
	m.Timestamp = *ts

	if v, ok := p[KeyStatus]; ok {
		s, err := asEnum(v, domain.ParseStatus)
		if err != nil {
			return nil, invalid(KeyStatus, err.Error())
		}
		m.Status = s
	}
	if v, ok := p[KeyPriority]; ok {
		pr, err := asEnum(v, domain.ParsePriority)
		if err != nil {
			return nil, invalid(KeyPriority, err.Error())
		}
		m.Priority = pr
	}
	m.IsRead = asBool(p[KeyIsRead])
	m.IsEdited = asBool(p[KeyIsEdited])
	if m.EditedTimestamp, err = optTime(p, KeyEditedTimestamp); err != nil {
		return nil, err
	}
	if m.IsEdited && m.EditedTimestamp == nil {
		t := m.Timestamp
		m.EditedTimestamp = &t
	}

	if s, ok := p[KeyFileURL].(string); ok {
		m.FileURL = s
	}
	if v, ok := p[KeyFileSize]; ok {
		n, err := asInt(v)
		if err != nil || n < 0 {
			return nil, invalid(KeyFileSize, "must be a non-negative integer")
		}
		m.FileSize = n
	}
	if s, ok := p[KeyMimeType].(string); ok {
		m.MimeType = s
	}
	if m.FileInfo, err = optMap(p, KeyFileInfo); err != nil {
		return nil, err
	}
	if m.Properties, err = optMap(p, KeyProperties); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, invalid("message", err.Error())
	}
	return m, nil
}

// Format is the inverse of Parse. Attachment types additionally carry the
// file metadata keys.
func Format(m *domain.Message) Payload {
	if m == nil {
		return nil
	}
	p := Payload{
		KeyID:         m.ID,
		KeyContent:    m.Content,
		KeyType:       m.Type.String(),
		KeySenderID:   m.SenderID,
		KeySenderName: m.SenderName,
		KeyRoomID:     m.RoomID,
		KeyTimestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
		KeyStatus:     m.Status.String(),
		KeyPriority:   m.Priority.String(),
		KeyIsRead:     m.IsRead,
		KeyIsEdited:   m.IsEdited,
	}
	if m.EditedTimestamp != nil {
		p[KeyEditedTimestamp] = m.EditedTimestamp.UTC().Format(time.RFC3339Nano)
	}
	if m.Type.HasAttachment() {
		p[KeyFileURL] = m.FileURL
		p[KeyFileSize] = m.FileSize
		p[KeyMimeType] = m.MimeType
		if m.FileInfo != nil {
			p[KeyFileInfo] = map[string]any(domain.CopyJSONMap(m.FileInfo))
		}
	}
	if len(m.Properties) > 0 {
		p[KeyProperties] = map[string]any(domain.CopyJSONMap(m.Properties))
	}
	return p
}

// ---- coercion helpers ----

func asMessageType(v any) (domain.MessageType, error) {
	t, err := asEnum(v, domain.ParseMessageType)
	if err == nil && !t.Valid() {
		err = fmt.Errorf("unknown value %v", v)
	}
	return t, err
}

// asEnum accepts an enum as a name or a number (int, float64 from JSON, ...).
func asEnum[T ~int](v any, parse func(string) (T, error)) (T, error) {
	switch t := v.(type) {
	case T:
		return t, nil
	case string:
		return parse(t)
	default:
		n, err := asInt(v)
		if err != nil {
			var zero T
			return zero, err
		}
		return parse(strconv.FormatInt(n, 10))
	}
}

func asInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

func optTime(p Payload, key string) (*time.Time, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil, invalid(key, "is zero")
		}
		u := t.UTC()
		return &u, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, invalid(key, "must be an RFC 3339 timestamp")
		}
		u := parsed.UTC()
		return &u, nil
	default:
		return nil, invalid(key, "must be an RFC 3339 timestamp")
	}
}

func optMap(p Payload, key string) (datatypes.JSONMap, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		return domain.CopyJSONMap(t), nil
	case datatypes.JSONMap:
		return domain.CopyJSONMap(t), nil
	case Payload:
		return domain.CopyJSONMap(t), nil
	case map[string]string:
		out := make(datatypes.JSONMap, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, nil
	default:
		return nil, invalid(key, "must be an object")
	}
}
