package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

const (
	defaultLookupLimit = 50
	maxLookupLimit     = 500
	historyTimeout     = 3 * time.Second
)

// HistoryHandler exposes read-only lookup history endpoints.
type HistoryHandler struct {
	repo    History
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the history store and logger.
func NewHistoryHandler(repo History, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListLookups handles GET /api/lookups?status=&limit=&offset=. It returns
// {"lookups": [...]} on success, 400 for invalid filters, 503 when no history
// store is configured, or 500 if the store fails.
func (h *HistoryHandler) ListLookups(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "lookup history unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultLookupLimit, maxLookupLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rows, err := h.repo.ListLookups(ctx, property.LookupFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list lookups failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list lookups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lookups": rows})
}

// GetLookup handles GET /api/lookups/{lookup_id}. It returns {"lookup": {...}},
// 400 for malformed IDs, or 404 when the lookup is unknown.
func (h *HistoryHandler) GetLookup(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "lookup history unavailable")
		return
	}
	id := chi.URLParam(r, "lookup_id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid lookup_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.repo.GetLookup(ctx, id)
	if err != nil {
		if errors.Is(err, property.ErrLookupNotFound) {
			writeError(w, http.StatusNotFound, "lookup not found")
			return
		}
		h.logger.Error("get lookup failed", zap.String("lookup_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lookup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lookup": rec})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (property.LookupStatus, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "success":
		return property.StatusSuccess, nil
	case "error", "failed":
		return property.StatusError, nil
	default:
		return "", errors.New("invalid status")
	}
}
