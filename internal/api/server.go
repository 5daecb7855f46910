package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/scout/internal/agent"
	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/notify"
	"github.com/kalambet/scout/internal/reranking"
	"github.com/kalambet/scout/internal/session"
	"github.com/kalambet/scout/internal/storage"
	"github.com/kalambet/scout/internal/websearch"
)

const maxRequestBodySize = 1 << 20 // 1MB

const welcomeMessage = "Welcome to the B2B Sales Intelligence API with ReAct Architecture and Feedback System"

// Pipeline answers a query within a session.
type Pipeline interface {
	Run(ctx context.Context, sessionID, query string) (agent.Answer, error)
}

// Ranker ranks documents without running the pipeline.
type Ranker interface {
	Rank(ctx context.Context, query string, topK int) ([]reranking.Ranked, error)
}

// FeedbackStore persists feedback. Implemented by storage.Store.
type FeedbackStore interface {
	RecordFeedback(ctx context.Context, fb storage.Feedback) (int64, error)
	AggregateStats(ctx context.Context) (storage.FeedbackStats, error)
	RecentFeedback(ctx context.Context, limit int) ([]storage.Feedback, error)
}

// Sessions is the session store surface the API exposes.
type Sessions interface {
	Get(id string) (session.Context, error)
	Initialize(id string) (session.Context, error)
	Update(id string, partial map[string]any) error
	Compress(id string) (map[string]any, error)
	Clear(id string) bool
	Len() int
}

// Searcher runs external searches and context enrichment.
type Searcher interface {
	Search(ctx context.Context, query, sessionID string) (websearch.Results, error)
	Enrich(sessionID string, data map[string]any) error
}

// Deps holds the collaborators of the HTTP surface.
type Deps struct {
	Pipeline     Pipeline
	Ranker       Ranker
	Feedback     FeedbackStore
	Sessions     Sessions
	Search       Searcher
	Hub          *notify.Hub
	WriteTimeout time.Duration
	NewID        func() string
	Logger       *slog.Logger
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewHandler returns the chi router serving the HTTP and websocket API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = newSessionID
	}

	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth(deps))
	r.Post("/chat", handleChat(deps))
	r.Post("/feedback", handleFeedback(deps))
	r.Get("/feedback/stats", handleFeedbackStats(deps))
	r.Get("/feedback/recent", handleRecentFeedback(deps))

	r.Get("/context/{sessionID}", handleGetContext(deps))
	r.Post("/context/{sessionID}", handleInitContext(deps))
	r.Delete("/context/{sessionID}", handleClearContext(deps))
	r.Post("/enrich/{sessionID}", handleEnrich(deps))
	r.Post("/compress/{sessionID}", handleCompress(deps))
	r.Get("/ws/{sessionID}", handleWebSocket(deps))

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": welcomeMessage})
}

// handleHealth reports liveness plus the number of live session contexts and
// of sessions with at least one websocket listener.
func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Sessions != nil {
			resp["sessions"] = deps.Sessions.Len()
		}
		if deps.Hub != nil {
			resp["listening_sessions"] = deps.Hub.Sessions()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type chatRequest struct {
	Query     string `json:"query" validate:"required"`
	SessionID string `json:"session_id"`
	WebSearch bool   `json:"web_search"`
}

type chatResponse struct {
	agent.Answer
	SessionID string `json:"session_id"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decode(w, r, &req) {
			return
		}
		if req.SessionID == "" {
			req.SessionID = deps.NewID()
		}

		if req.WebSearch {
			if _, err := deps.Search.Search(r.Context(), req.Query, req.SessionID); err != nil {
				writeErr(w, err)
				return
			}
		}

		ans, err := deps.Pipeline.Run(r.Context(), req.SessionID, req.Query)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Answer: ans, SessionID: req.SessionID})
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, string(apperr.KindInvalid), "invalid request body: %v", err)
		return false
	}
	if reflect.Indirect(reflect.ValueOf(v)).Kind() != reflect.Struct {
		return true
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, string(apperr.KindInvalid), "%s", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s is %s", fe.Field(), fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindSessionNotFound:
		return http.StatusNotFound
	case apperr.KindOracle, apperr.KindExternalSearch, apperr.KindRetrieval:
		return http.StatusBadGateway
	case apperr.KindIndexLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	httpError(w, statusFor(kind), string(kind), "%s", err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
