// Package handlers exposes the message core over HTTP.
//
// Handlers are transport-thin: they parse and bound inputs, call the store,
// pipeline or history manager through the narrow interfaces below, and
// translate results into JSON (or export files). No business rule lives here.
//
// Endpoints (mounted under the API base path by the router):
//
//	GET  /rooms                      list rooms
//	GET  /rooms/:id/messages         page through a room (ETag aware)
//	GET  /rooms/:id/unread           unread count for X-User-ID
//	POST /rooms/:id/read             mark a room read for X-User-ID
//	GET  /rooms/:id/export           download history (text|html|json|csv|xml)
//	POST /messages                   submit a payload to the pipeline
//	GET  /messages/:id               fetch one message
//	POST /messages/:id/read          mark a message read for X-User-ID
//	DELETE /messages/:id             delete a message
//	GET  /search                     history search
//	GET  /search/relevant            ranked search within a room
//	GET  /suggest                    word completions
//	GET  /stats                      store, pipeline and history statistics
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/export"
	"github.com/tbourn/go-chat-store/internal/payload"
	"github.com/tbourn/go-chat-store/internal/repo"
	"github.com/tbourn/go-chat-store/internal/search"
	"github.com/tbourn/go-chat-store/internal/services"
)

//
// Service contracts (context-aware)
//

// MessageStore is the subset of the persistent store used by the API.
type MessageStore interface {
	Get(ctx context.Context, id string) (*domain.Message, error)
	RoomMessages(ctx context.Context, roomID string, limit, offset int, order repo.Order) ([]domain.Message, error)
	Count(ctx context.Context, roomID string) (int64, error)
	ListRooms(ctx context.Context) ([]string, error)
	LastMessage(ctx context.Context, roomID string) (*domain.Message, error)
	UnreadCount(ctx context.Context, roomID, userID string) (int64, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkRoomRead(ctx context.Context, roomID, userID string) (int64, error)
	Delete(ctx context.Context, id string) error
	Statistics(ctx context.Context) (services.StoreStats, error)
	Revision() uint64
}

// Pipeline accepts inbound payloads.
type Pipeline interface {
	ProcessIncoming(ctx context.Context, in payload.Payload, priority domain.Priority) services.ProcessingResult
	Statistics() services.PipelineStats
}

// History serves search, export and aggregate statistics.
type History interface {
	AdvancedSearch(ctx context.Context, c services.SearchCriteria) ([]domain.Message, error)
	Suggestions(ctx context.Context, roomID, prefix string, limit int) ([]string, error)
	SearchRelevant(ctx context.Context, roomID, query string, k int) ([]search.Result, error)
	ExportTo(ctx context.Context, w io.Writer, roomID string, format export.Format, start, end time.Time) (int, error)
	Statistics(ctx context.Context) (services.HistoryStats, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. history may be nil, in which case the
// search, export and history statistics endpoints answer 503.
type Handlers struct {
	store    MessageStore
	pipeline Pipeline
	history  History
}

// New constructs and returns a Handlers instance bound to the given services.
func New(store MessageStore, pipeline Pipeline, history History) *Handlers {
	return &Handlers{store: store, pipeline: pipeline, history: history}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse contains a page of room messages.
type ListMessagesResponse struct {
	RoomID     string           `json:"room_id"`
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ListRoomsResponse lists known rooms.
type ListRoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// UnreadResponse is the unread counter of one user in one room.
type UnreadResponse struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Unread int64  `json:"unread"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// SubmitResponse reports what the pipeline did with a payload.
type SubmitResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// SearchResponse wraps search hits.
type SearchResponse struct {
	Query    string           `json:"query"`
	Count    int              `json:"count"`
	Messages []domain.Message `json:"messages"`
}

// RelevantResponse wraps ranked hits.
type RelevantResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// SuggestResponse lists completions of a prefix.
type SuggestResponse struct {
	Prefix      string   `json:"prefix"`
	Suggestions []string `json:"suggestions"`
}

// StatsResponse aggregates the statistics of every component.
type StatsResponse struct {
	Store    services.StoreStats    `json:"store"`
	Pipeline services.PipelineStats `json:"pipeline"`
	History  *services.HistoryStats `json:"history,omitempty"`
}
