package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"clipstitch/internal/event"
	"clipstitch/internal/logging"
	"clipstitch/internal/metrics"
	"clipstitch/internal/services"
	"clipstitch/internal/tracks"
	"clipstitch/internal/workflow"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxEventBytes bounds a submitted clip event.
const maxEventBytes = 1 << 20

// Dependencies are the services the HTTP layer exposes.
type Dependencies struct {
	Scheduler *workflow.Scheduler
	Tracks    *tracks.Registry
	Metrics   *metrics.Pipeline
	// RateLimitPerMinute caps POST /api/clips per client IP; zero disables it.
	RateLimitPerMinute int
}

type server struct {
	deps   Dependencies
	orch   *workflow.Orchestrator
	logger *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies, logger *slog.Logger) http.Handler {
	s := &server{
		deps:   deps,
		orch:   deps.Scheduler.Orchestrator(),
		logger: logging.NewComponentLogger(logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/clips", func(r chi.Router) {
			r.With(rateLimit(deps.RateLimitPerMinute)).Post("/", s.handleSubmit)
			r.Get("/", s.handleListClips)
			r.Get("/{clipID}", s.handleClip)
			r.Get("/{clipID}/history", s.handleHistory)
			r.Get("/{clipID}/segments/{index}", s.handleSegmentHistory)
		})
		r.Route("/episodes/{episodeID}/tracks", func(r chi.Router) {
			r.Post("/", s.handleRegisterTrack)
			r.Get("/", s.handleListTracks)
		})
	})
	return r
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:     "too many clip submissions, try again later",
				Kind:      "rate_limited",
				RequestID: requestIDFrom(r),
			})
		}),
	)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := services.RequestIDFromContext(r.Context())
	return id
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", services.ErrValidation, err))
		return
	}
	if len(data) > maxEventBytes {
		s.writeError(w, r, fmt.Errorf("%w: event exceeds %d bytes", services.ErrValidation, maxEventBytes))
		return
	}
	input, err := event.Decode(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.deps.Scheduler.Enqueue(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/clips/"+sub.ClipID)
	writeJSON(w, http.StatusAccepted, FromSubmission(sub))
}

func (s *server) handleListClips(w http.ResponseWriter, r *http.Request) {
	ids, err := s.orch.Clips(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ClipListResponse{Clips: ids})
}

func (s *server) handleClip(w http.ResponseWriter, r *http.Request) {
	clipID := chi.URLParam(r, "clipID")
	history, err := s.orch.History(r.Context(), clipID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := s.orch.Input(r.Context(), clipID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := FromHistory(history)
	writeJSON(w, http.StatusOK, ClipStatus{ClipID: clipID, Current: out[len(out)-1], History: out, Segments: in.Ordered()})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	clipID := chi.URLParam(r, "clipID")
	history, err := s.orch.History(r.Context(), clipID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ClipID: clipID, History: FromHistory(history)})
}

func (s *server) handleSegmentHistory(w http.ResponseWriter, r *http.Request) {
	clipID := chi.URLParam(r, "clipID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 1 {
		s.writeError(w, r, fmt.Errorf("%w: segment index must be a positive integer", services.ErrValidation))
		return
	}
	history, err := s.orch.SegmentHistory(r.Context(), clipID, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ClipID: clipID, History: FromHistory(history)})
}

func (s *server) handleRegisterTrack(w http.ResponseWriter, r *http.Request) {
	var track tracks.Track
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBytes)).Decode(&track); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode track: %v", services.ErrValidation, err))
		return
	}
	episodeID := chi.URLParam(r, "episodeID")
	if track.EpisodeID == "" {
		track.EpisodeID = episodeID
	}
	if track.EpisodeID != episodeID {
		s.writeError(w, r, fmt.Errorf("%w: track episode %q does not match %q", services.ErrValidation, track.EpisodeID, episodeID))
		return
	}
	if err := s.deps.Tracks.Register(r.Context(), track); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

func (s *server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	list, err := s.deps.Tracks.Tracks(r.Context(), episodeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []tracks.Track{}
	}
	writeJSON(w, http.StatusOK, TrackListResponse{EpisodeID: episodeID, Tracks: list})
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Summary())
}

// StatusCode maps an error marker to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldImpact, "the request was not served"),
			logging.String(logging.FieldErrorHint, "check the daemon log for the underlying failure"),
		)
	}
	writeJSON(w, code, ErrorResponse{
		Error:     services.FailureReason(err),
		Kind:      services.Classify(err),
		RequestID: requestIDFrom(r),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
