package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"sendlater/internal/domain"
	"sendlater/internal/render"
	"sendlater/internal/scheduler"
)

// Engine is the part of the scheduler the HTTP surface drives.
type Engine interface {
	Schedule(ctx context.Context, req scheduler.Request) (string, error)
	Cancel(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]domain.Task, error)
	Armed() int
}

type Options struct {
	Renderer *render.Renderer
	// Drift reports ids found inconsistent by the last audit. Optional.
	Drift func() []string
	// Metrics serves /metrics when set.
	Metrics      http.Handler
	EnableDebug  bool
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

type Server struct {
	engine  Engine
	render  *render.Renderer
	drift   func() []string
	maxBody int64
	log     zerolog.Logger
}

func NewServer(engine Engine, opts Options) http.Handler {
	if opts.Renderer == nil {
		opts.Renderer = render.New()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	s := &Server{
		engine:  engine,
		render:  opts.Renderer,
		drift:   opts.Drift,
		maxBody: opts.MaxBodyBytes,
		log:     opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", s.createTask)
		r.Get("/", s.listTasks)
		r.Delete("/{id}", s.cancelTask)
	})

	// Debug routes (pprof)
	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

type healthResp struct {
	Status string   `json:"status"`
	Armed  int      `json:"armed"`
	Drift  []string `json:"drift,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResp{Status: "ok", Armed: s.engine.Armed()}
	if s.drift != nil {
		resp.Drift = s.drift()
	}
	writeJSON(w, http.StatusOK, resp)
}

type attachmentReq struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"` // base64 in JSON
}

type createReq struct {
	Recipient  string         `json:"recipient"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	BodyFormat string         `json:"body_format"`
	FireAt     time.Time      `json:"fire_at"`
	Attachment *attachmentReq `json:"attachment"`
}

type createResp struct {
	ID string `json:"id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createReq
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	if req.FireAt.IsZero() {
		writeError(w, http.StatusBadRequest, "fire_at is required")
		return
	}

	body, err := s.render.Body(render.Format(req.BodyFormat), req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var att *domain.Attachment
	if req.Attachment != nil {
		if req.Attachment.Filename == "" {
			writeError(w, http.StatusBadRequest, "attachment.filename is required")
			return
		}
		att = &domain.Attachment{
			Filename:    req.Attachment.Filename,
			ContentType: req.Attachment.ContentType,
			Content:     req.Attachment.Content,
		}
	}

	id, err := s.engine.Schedule(r.Context(), scheduler.Request{
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Body:       body,
		Attachment: att,
		FireAt:     req.FireAt,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, createResp{ID: id})
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("schedule task")
		writeError(w, http.StatusInternalServerError, "failed to schedule task")
	}
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.engine.Cancel(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	default:
		s.log.Error().Err(err).Str("task_id", id).Msg("cancel task")
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
	}
}

type taskView struct {
	ID         string          `json:"id"`
	Recipient  string          `json:"recipient"`
	Subject    string          `json:"subject"`
	FireAt     string          `json:"fire_at"`
	CreatedAt  string          `json:"created_at"`
	Attachment *attachmentView `json:"attachment,omitempty"`
}

type attachmentView struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.Pending(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list tasks")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{
			ID:        t.ID,
			Recipient: t.Recipient,
			Subject:   t.Subject,
			FireAt:    t.FireAt.UTC().Format(time.RFC3339),
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		}
		if t.Attachment != nil {
			v.Attachment = &attachmentView{
				Filename:    t.Attachment.Filename,
				ContentType: t.Attachment.ContentType,
				Size:        len(t.Attachment.Content),
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
