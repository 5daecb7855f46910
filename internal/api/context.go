package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newSessionID() string { return uuid.NewString() }

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Sessions.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleInitContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Sessions.Initialize(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleClearContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		cleared := deps.Sessions.Clear(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "success",
			"session_id": id,
			"cleared":    cleared,
		})
	}
}

func handleEnrich(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		var data map[string]any
		if !decode(w, r, &data) {
			return
		}
		if err := deps.Search.Enrich(id, data); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Context enriched",
		})
	}
}

func handleCompress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		compressed, err := deps.Sessions.Compress(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, compressed)
	}
}
