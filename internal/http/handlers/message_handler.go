// Message HTTP handlers.
//
// Inbound messages are not written synchronously: POST /messages validates
// the payload at the edge and hands it to the processing pipeline, which
// persists it asynchronously. The response therefore reports the pipeline
// outcome (202 queued, 200 filtered) together with the assigned id, which
// the client can poll with GET /messages/:id.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/http/middleware"
	"github.com/tbourn/go-chat-store/internal/payload"
	"github.com/tbourn/go-chat-store/internal/services"
)

const (
	// queueRetryAfter is the Retry-After hint, in seconds, for a full queue.
	queueRetryAfter = "1"

	resultReplayed = "replayed"
)

// submitPriority resolves the priority from the query string, then the
// payload, then the default.
func submitPriority(c *gin.Context, p payload.Payload) (domain.Priority, error) {
	if q := strings.TrimSpace(c.Query("priority")); q != "" {
		return domain.ParsePriority(q)
	}
	if v, found := p[payload.KeyPriority]; found && v != nil {
		return domain.ParsePriority(fmt.Sprint(v))
	}
	return domain.PriorityNormal, nil
}

// SubmitMessage accepts a message payload (collaborator wire keys: content,
// senderId, roomId, type, ...) and enqueues it. A missing senderId is taken
// from X-User-ID. A missing id is derived from the Idempotency-Key when one
// was sent (a retry of a stored message answers 200 "replayed") and
// generated otherwise.
func (h *Handlers) SubmitMessage(c *gin.Context) {
	var p payload.Payload
	if err := c.ShouldBindJSON(&p); err != nil || p == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON object")
		return
	}
	if _, found := p[payload.KeySenderID]; !found {
		if uid := middleware.UserID(c); uid != "" {
			p[payload.KeySenderID] = uid
		}
	}
	if err := payload.Validate(p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidMessage, err.Error())
		return
	}
	priority, err := submitPriority(c, p)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()
	id := p.ID()
	if id == "" {
		if key, found := middleware.GetIdempotencyKey(c); found {
			id = middleware.IdempotentID(middleware.UserID(c), key)
			if prev, err := h.store.Get(ctx, id); err == nil && prev != nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, SubmitResponse{ID: id, Result: resultReplayed})
				return
			}
		} else {
			id = uuid.NewString()
		}
		p[payload.KeyID] = id
	}

	res := h.pipeline.ProcessIncoming(ctx, p, priority)
	switch res {
	case services.ResultQueued, services.ResultSuccess:
		ok(c, http.StatusAccepted, SubmitResponse{ID: id, Result: res.String()})
	case services.ResultFiltered:
		ok(c, http.StatusOK, SubmitResponse{ID: id, Result: res.String()})
	case services.ResultRejected:
		c.Header("Retry-After", queueRetryAfter)
		fail(c, http.StatusServiceUnavailable, ErrCodeQueueFull, "processing queue is full")
	default:
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "message could not be accepted")
	}
}

// GetMessage returns one message by id.
func (h *Handlers) GetMessage(c *gin.Context) {
	m, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// MarkMessageRead marks one message read for the caller.
func (h *Handlers) MarkMessageRead(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	if err := h.store.MarkRead(c.Request.Context(), c.Param("id"), uid); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// DeleteMessage removes a message and its read receipts.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
