package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType classifies a message.
type MessageType int

const (
	TypeText MessageType = iota
	TypeEmoji
	TypeFile
	TypeImage
	TypeVideo
	TypeAudio
	TypeSystem
	TypeNotification
	TypeJoin
	TypeLeave
)

var messageTypeNames = [...]string{
	"text", "emoji", "file", "image", "video", "audio",
	"system", "notification", "join", "leave",
}

func (t MessageType) String() string {
	if t >= 0 && int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool { return t >= 0 && int(t) < len(messageTypeNames) }

// HasAttachment reports whether messages of this type carry file metadata
// and may have empty content.
func (t MessageType) HasAttachment() bool {
	switch t {
	case TypeFile, TypeImage, TypeVideo, TypeAudio:
		return true
	}
	return false
}

// ParseMessageType accepts a type name (case-insensitive) or its numeric value.
func ParseMessageType(s string) (MessageType, error) {
	i, err := parseEnum(s, messageTypeNames[:])
	if err != nil {
		return TypeText, fmt.Errorf("message type: %w", err)
	}
	return MessageType(i), nil
}

func (t MessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MessageType) UnmarshalText(b []byte) error {
	v, err := ParseMessageType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Status is the delivery lifecycle of a message:
// Pending -> Sending -> Sent -> Delivered -> Read, or Failed, or Deleted.
type Status int

const (
	StatusPending Status = iota
	StatusSending
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
	StatusDeleted
)

var statusNames = [...]string{
	"pending", "sending", "sent", "delivered", "read", "failed", "deleted",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s >= 0 && int(s) < len(statusNames) }

// ParseStatus accepts a status name (case-insensitive) or its numeric value.
func ParseStatus(s string) (Status, error) {
	i, err := parseEnum(s, statusNames[:])
	if err != nil {
		return StatusPending, fmt.Errorf("status: %w", err)
	}
	return Status(i), nil
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// CanTransition reports whether a message may move from one status to
// another. Read is the end of the linear progression; Failed and Deleted are
// absorbing, except that anything may be deleted.
func CanTransition(from, to Status) bool {
	switch {
	case from == to:
		return true
	case to == StatusDeleted:
		return true
	case from == StatusDeleted, from == StatusFailed:
		return false
	case to == StatusFailed:
		return true
	default:
		return to > from
	}
}

// Priority orders queued messages; higher values are processed first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return "priority(" + strconv.Itoa(int(p)) + ")"
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p >= 0 && int(p) < len(priorityNames) }

// ParsePriority accepts a priority name (case-insensitive) or its numeric value.
func ParsePriority(s string) (Priority, error) {
	i, err := parseEnum(s, priorityNames[:])
	if err != nil {
		return PriorityNormal, fmt.Errorf("priority: %w", err)
	}
	return Priority(i), nil
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func parseEnum(s string, names []string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	if i, err := strconv.Atoi(s); err == nil && i >= 0 && i < len(names) {
		return i, nil
	}
	return 0, fmt.Errorf("unknown value %q", s)
}
