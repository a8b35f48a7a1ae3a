package server

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/cache"
	"github.com/HarshitKumar9030/jetvein/internal/gate"
	"github.com/HarshitKumar9030/jetvein/pkg/apierr"
)

type addHistoryRequest struct {
	SearchTerm string `json:"searchTerm"`
}

// historyUser returns the signed-in user ID. It writes the error response
// and reports false when the request cannot touch history.
func (s *Server) historyUser(ctx *fasthttp.RequestCtx) (string, bool) {
	claims, ok := gate.Session(ctx)
	if !ok {
		apierr.WriteUnauthorized(ctx)
		return "", false
	}
	if s.deps.Cache == nil {
		writeStoreConfigError(ctx)
		return "", false
	}
	return claims.UserID(), true
}

func (s *Server) handleGetHistory(ctx *fasthttp.RequestCtx) {
	userID, ok := s.historyUser(ctx)
	if !ok {
		return
	}

	limit := cache.DefaultHistoryLimit
	if raw := ctx.QueryArgs().Peek("limit"); len(raw) > 0 {
		if n, err := strconv.Atoi(string(raw)); err == nil && n > 0 {
			limit = n
		}
	}

	entries := s.deps.Cache.GetSearchHistory(ctx, userID, limit)
	if entries == nil {
		entries = []cache.SearchEntry{}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"history":   entries,
		"total":     len(entries),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleAddHistory(ctx *fasthttp.RequestCtx) {
	userID, ok := s.historyUser(ctx)
	if !ok {
		return
	}

	var req addHistoryRequest
	if !decodeBody(ctx, &req) {
		return
	}
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Search term is required", apierr.CodeValidation)
		return
	}

	if err := s.deps.Cache.AddSearchHistory(ctx, userID, term); err != nil {
		s.deps.Metrics.RecordHistoryWrite("error")
		s.log.WarnContext(ctx, "search_history_write_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		apierr.WriteError(ctx, fasthttp.StatusServiceUnavailable, apierr.APIError{
			Error:   "Failed to save search history",
			Code:    apierr.CodeStoreUnavailable,
			Message: "Please try again later",
		})
		return
	}
	s.deps.Metrics.RecordHistoryWrite("ok")

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success":   true,
		"message":   "Search term added to history",
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleClearHistory(ctx *fasthttp.RequestCtx) {
	userID, ok := s.historyUser(ctx)
	if !ok {
		return
	}

	if err := s.deps.Cache.ClearSearchHistory(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "search_history_clear_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		apierr.WriteError(ctx, fasthttp.StatusServiceUnavailable, apierr.APIError{
			Error:   "Failed to clear search history",
			Code:    apierr.CodeStoreUnavailable,
			Message: "Please try again later",
		})
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success":   true,
		"message":   "Search history cleared",
		"timestamp": s.timestamp(),
	})
}
