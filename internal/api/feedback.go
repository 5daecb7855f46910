package api

import (
	"net/http"
	"strconv"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/storage"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

type feedbackRequest struct {
	Query     string         `json:"query" validate:"required"`
	DocID     string         `json:"doc_id" validate:"required"`
	IsHelpful *bool          `json:"is_helpful" validate:"required"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if !decode(w, r, &req) {
			return
		}

		fb := storage.Feedback{
			Query:     req.Query,
			DocID:     req.DocID,
			IsHelpful: *req.IsHelpful,
			Metadata:  req.Metadata,
		}
		if _, err := deps.Feedback.RecordFeedback(r.Context(), fb); err != nil {
			deps.Logger.Error("recording feedback", "doc_id", req.DocID, "error", err)
			writeErr(w, err)
			return
		}

		if req.SessionID != "" {
			err := deps.Sessions.Update(req.SessionID, map[string]any{
				"last_feedback": map[string]any{
					"query":      req.Query,
					"doc_id":     req.DocID,
					"is_helpful": *req.IsHelpful,
				},
			})
			if err != nil && !apperr.Is(err, apperr.KindSessionNotFound) {
				deps.Logger.Warn("attaching feedback to session", "session_id", req.SessionID, "error", err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Feedback recorded",
		})
	}
}

func handleFeedbackStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Feedback.AggregateStats(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleRecentFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRecentLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, string(apperr.KindInvalid), "limit must be a positive integer")
				return
			}
			limit = min(n, maxRecentLimit)
		}
		items, err := deps.Feedback.RecentFeedback(r.Context(), limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		if items == nil {
			items = []storage.Feedback{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": items})
	}
}
