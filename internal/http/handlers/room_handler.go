// Room HTTP handlers.
//
// Rooms are implicit: a room exists as long as it holds at least one message.
// Listing a room's messages supports weak ETags derived from the message
// count and the newest timestamp, so pollers get 304s while nothing changed.
package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-store/internal/export"
	"github.com/tbourn/go-chat-store/internal/http/middleware"
	"github.com/tbourn/go-chat-store/internal/repo"
	"github.com/tbourn/go-chat-store/internal/services"
	"github.com/tbourn/go-chat-store/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var exportContentTypes = map[export.Format]string{
	export.Text: "text/plain; charset=utf-8",
	export.HTML: "text/html; charset=utf-8",
	export.JSON: "application/json; charset=utf-8",
	export.CSV:  "text/csv; charset=utf-8",
	export.XML:  "application/xml; charset=utf-8",
}

var exportExtensions = map[export.Format]string{
	export.Text: "txt",
	export.HTML: "html",
	export.JSON: "json",
	export.CSV:  "csv",
	export.XML:  "xml",
}

// requireUser returns the caller's user id or answers 400.
func requireUser(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusBadRequest, ErrCodeMissingUser, "X-User-ID header required")
		return "", false
	}
	return uid, true
}

// parseTimeParam parses an RFC 3339 timestamp or a date (YYYY-MM-DD); empty
// yields the zero time.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}

// ListRooms returns every room that holds messages.
func (h *Handlers) ListRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	ok(c, http.StatusOK, ListRoomsResponse{Rooms: rooms})
}

// ListRoomMessages returns a page of a room's messages, oldest first unless
// order=desc.
func (h *Handlers) ListRoomMessages(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")

	rev := h.store.Revision()
	total, err := h.store.Count(ctx, roomID)
	if err != nil {
		failErr(c, err)
		return
	}

	var ts int64
	if last, err := h.store.LastMessage(ctx, roomID); err == nil && last != nil {
		ts = last.Timestamp.UnixNano()
	} else if err != nil && !services.IsNotFound(err) {
		failErr(c, err)
		return
	}
	etag := fmt.Sprintf(`W/"room:%s:%d:%d:%x"`, roomID, total, ts, rev)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page := utils.ClampPage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	order := repo.Ascending
	if strings.EqualFold(c.Query("order"), "desc") {
		order = repo.Descending
	}

	items, err := h.store.RoomMessages(ctx, roomID, page.PageSize, page.Offset(), order)
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := page.TotalPages(total)
	ok(c, http.StatusOK, ListMessagesResponse{
		RoomID:   roomID,
		Messages: items,
		Pagination: Pagination{
			Page:       page.Page,
			PageSize:   page.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page.Page < totalPages,
		},
	})
}

// UnreadCount returns how many messages of the room the caller has not read.
func (h *Handlers) UnreadCount(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	roomID := c.Param("id")
	n, err := h.store.UnreadCount(c.Request.Context(), roomID, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UnreadResponse{RoomID: roomID, UserID: uid, Unread: n})
}

// MarkRoomRead marks every message of the room read for the caller.
func (h *Handlers) MarkRoomRead(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	n, err := h.store.MarkRoomRead(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Marked: n})
}

// ExportRoom renders the room's history in the requested format
// (format=text|html|json|csv|xml, default json) limited to [since, until].
// The export is rendered fully before the first byte is sent so that
// failures still produce a JSON error.
func (h *Handlers) ExportRoom(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "history disabled")
		return
	}
	roomID := c.Param("id")

	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.JSON)))
	if err != nil {
		failErr(c, err)
		return
	}
	since, err := parseTimeParam(c.Query("since"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	until, err := parseTimeParam(c.Query("until"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "until must not be before since")
		return
	}

	var buf bytes.Buffer
	n, err := h.history.ExportTo(c.Request.Context(), &buf, roomID, format, since, until)
	if err != nil {
		failErr(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, safeFileName(roomID), exportExtensions[format]))
	c.Header("X-Export-Count", fmt.Sprint(n))
	c.Data(http.StatusOK, exportContentTypes[format], buf.Bytes())
}

// safeFileName keeps letters, digits, dash and underscore.
func safeFileName(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if out == "" {
		return "history"
	}
	return out
}
