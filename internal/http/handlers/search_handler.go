// Search and statistics HTTP handlers.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-store/internal/domain"
	"github.com/tbourn/go-chat-store/internal/services"
	"github.com/tbourn/go-chat-store/internal/utils"
)

const (
	defaultSearchLimit  = 50
	maxSearchLimit      = 500
	defaultSuggestLimit = 10
	defaultRelevantK    = 5
)

// boundedLimit reads the "limit" query parameter clamped to [1, max].
func boundedLimit(c *gin.Context, def, max int) int {
	n := utils.AtoiDefault(c.Query("limit"), def)
	if n < 1 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}

// Search runs an advanced history search.
//
// Query parameters: q, room, sender, type, since, until, limit and the
// match flags case, whole and regex (booleans).
func (h *Handlers) Search(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "history disabled")
		return
	}

	crit := services.SearchCriteria{
		Query:    c.Query("q"),
		RoomID:   strings.TrimSpace(c.Query("room")),
		SenderID: strings.TrimSpace(c.Query("sender")),
		Limit:    boundedLimit(c, defaultSearchLimit, maxSearchLimit),
		Options: services.SearchOptions{
			CaseSensitive: queryBool(c, "case"),
			WholeWords:    queryBool(c, "whole"),
			Regex:         queryBool(c, "regex"),
		},
	}
	if raw := c.Query("type"); raw != "" {
		mt, err := domain.ParseMessageType(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		crit.Type = &mt
	}
	var err error
	if crit.Start, err = parseTimeParam(c.Query("since")); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if crit.End, err = parseTimeParam(c.Query("until")); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	msgs, err := h.history.AdvancedSearch(c.Request.Context(), crit)
	if err != nil {
		failErr(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: crit.Query, Count: len(msgs), Messages: msgs})
}

// SearchRelevant ranks a room's recent messages by similarity to q.
func (h *Handlers) SearchRelevant(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "history disabled")
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	room := strings.TrimSpace(c.Query("room"))
	if q == "" || room == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q and room are required")
		return
	}
	res, err := h.history.SearchRelevant(c.Request.Context(), room, q, boundedLimit(c, defaultRelevantK, maxSearchLimit))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RelevantResponse{Query: q, Results: res})
}

// Suggest completes a word prefix from recent messages.
func (h *Handlers) Suggest(c *gin.Context) {
	if h.history == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "history disabled")
		return
	}
	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prefix is required")
		return
	}
	words, err := h.history.Suggestions(c.Request.Context(), strings.TrimSpace(c.Query("room")), prefix, boundedLimit(c, defaultSuggestLimit, maxSearchLimit))
	if err != nil {
		failErr(c, err)
		return
	}
	if words == nil {
		words = []string{}
	}
	ok(c, http.StatusOK, SuggestResponse{Prefix: prefix, Suggestions: words})
}

// Stats reports store, pipeline and (when enabled) history statistics.
func (h *Handlers) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.store.Statistics(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := StatsResponse{Store: st, Pipeline: h.pipeline.Statistics()}
	if h.history != nil {
		hs, err := h.history.Statistics(ctx)
		if err != nil {
			failErr(c, err)
			return
		}
		resp.History = &hs
	}
	ok(c, http.StatusOK, resp)
}
