// Package domain defines the persistence models for chat messages, per-user
// read receipts, and store metadata. These types are mapped with GORM onto
// the embedded SQLite schema and form the core data layer of the message
// store.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Message is the canonical chat message record.
//
// Fields:
//   - ID: stable identifier (UUID when generated locally), immutable.
//   - Content: message body, at most MaxContentLength characters.
//   - Type: kind of message (text, file, join, ...), stored in column "type".
//   - SenderID / SenderName / RoomID: routing and display data.
//   - Timestamp: creation time, stored in UTC.
//   - Status / Priority: delivery lifecycle and processing priority.
//   - IsRead / IsEdited / EditedTimestamp: read and edit markers.
//   - FileURL / FileSize / MimeType / FileInfo: attachment metadata.
//   - Properties: open key/value map for collaborator extensions.
type Message struct {
	ID              string            `json:"id"               gorm:"type:text;primaryKey"`
	Content         string            `json:"content"          gorm:"type:text;not null"`
	Type            MessageType       `json:"type"             gorm:"column:type;not null"`
	SenderID        string            `json:"sender_id"        gorm:"type:text;not null;index:idx_messages_sender_id"`
	SenderName      string            `json:"sender_name"      gorm:"type:text"`
	RoomID          string            `json:"room_id"          gorm:"type:text;not null;index:idx_messages_room_id;index:idx_messages_room_timestamp,priority:1"`
	Timestamp       time.Time         `json:"timestamp"        gorm:"not null;index:idx_messages_timestamp;index:idx_messages_room_timestamp,priority:2"`
	Status          Status            `json:"status"           gorm:"not null"`
	Priority        Priority          `json:"priority"         gorm:"not null"`
	IsRead          bool              `json:"is_read"          gorm:"not null"`
	IsEdited        bool              `json:"is_edited"        gorm:"not null"`
	EditedTimestamp *time.Time        `json:"edited_timestamp,omitempty"`
	FileURL         string            `json:"file_url,omitempty"  gorm:"type:text"`
	FileSize        int64             `json:"file_size,omitempty" gorm:"not null"`
	MimeType        string            `json:"mime_type,omitempty" gorm:"type:text"`
	FileInfo        datatypes.JSONMap `json:"file_info,omitempty"`
	Properties      datatypes.JSONMap `json:"properties,omitempty"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ReadStatus records that a user has read a message. The composite primary
// key makes repeated mark-read calls idempotent.
type ReadStatus struct {
	MessageID     string    `json:"message_id"     gorm:"type:text;primaryKey"`
	UserID        string    `json:"user_id"        gorm:"type:text;primaryKey;index:idx_read_status_user"`
	ReadTimestamp time.Time `json:"read_timestamp" gorm:"not null"`

	// Message is the read message; receipts are removed with it.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for ReadStatus.
func (ReadStatus) TableName() string { return "read_status" }

// Metadata is a key/value row used for store bookkeeping such as the schema
// version.
type Metadata struct {
	Key   string `gorm:"type:text;primaryKey"`
	Value string `gorm:"type:text"`
}

// TableName returns the database table name for Metadata.
func (Metadata) TableName() string { return "metadata" }
