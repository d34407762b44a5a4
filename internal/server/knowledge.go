package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"support-agent/internal/domain"
	"support-agent/internal/knowledge"
	"support-agent/internal/usecase"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type searchResponse struct {
	Query   string               `json:"query"`
	Results []domain.ScoredEntry `json:"results"`
}

// SearchKnowledgeBase returns the best scoring entries for a query.
// GET /v1/knowledge-base/search?query=&limit=
func (h *Handler) SearchKnowledgeBase(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return badRequest(c, "missing_query")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	results := h.kb.Search(query)
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []domain.ScoredEntry{}
	}
	return c.JSON(http.StatusOK, searchResponse{Query: query, Results: results})
}

// ListEntries returns every entry.
// GET /v1/knowledge-base
func (h *Handler) ListEntries(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"entries": h.kb.Entries()})
}

// AddEntry stores a new entry.
// POST /v1/knowledge-base
func (h *Handler) AddEntry(c echo.Context) error {
	var entry domain.FAQEntry
	if err := c.Bind(&entry); err != nil {
		return badRequest(c, "invalid_body")
	}
	if err := h.kb.Add(entry); err != nil {
		if errors.Is(err, knowledge.ErrDuplicateEntry) {
			return c.JSON(http.StatusConflict, errorResponse{Error: string(usecase.ErrorConflict), Reason: "duplicate_entry"})
		}
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": strings.TrimSpace(entry.ID), "status": "created"})
}

// RemoveEntry deletes an entry.
// DELETE /v1/knowledge-base/:entry_id
func (h *Handler) RemoveEntry(c echo.Context) error {
	if err := h.kb.Remove(c.Param("entry_id")); err != nil {
		if errors.Is(err, knowledge.ErrEntryNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "entry_not_found"})
		}
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
