// Package httpapi serves the turn API over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/session"
	"github.com/castleinc/cveagent/pkg/tool"
)

const maxBody = 1 << 20

type Server struct {
	sessions *session.Manager
	tools    []tool.Spec
	gatherer prometheus.Gatherer
	mcp      http.Handler
	timeout  time.Duration
	log      *zap.Logger
}

type Option func(*Server)

// WithMetrics exposes g at /metrics.
func WithMetrics(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithMCP mounts an MCP streamable HTTP handler at /mcp.
func WithMCP(h http.Handler) Option { return func(s *Server) { s.mcp = h } }

// WithTimeout bounds each request's context.
func WithTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func New(sessions *session.Manager, tools []tool.Spec, opts ...Option) *Server {
	s := &Server{sessions: sessions, tools: tools, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed, traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("POST /api/query", s.withTimeout(s.handleQuery))
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	return otelhttp.NewHandler(mux, "cveagent.http")
}

func (s *Server) withTimeout(h http.HandlerFunc) http.HandlerFunc {
	if s.timeout <= 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}

type toolDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	out := make([]toolDoc, 0, len(s.tools))
	for _, spec := range s.tools {
		out = append(out, toolDoc{Name: spec.Name, Description: spec.Description, Parameters: spec.JSONSchema()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// QueryRequest is the body of POST /api/query. Text is required unless
// Payload names a tool. Without SessionID the turn runs on a one-off session
// that is discarded afterwards; an unknown SessionID is a 404.
type QueryRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text"`
	Format    string          `json:"format,omitempty"`
	Payload   *intent.Payload `json:"payload,omitempty"`
}

// QueryResponse carries the reply. Error is set when the turn was rejected
// or the format did not fit; the rendered document is present either way.
type QueryResponse struct {
	SessionID string `json:"session_id,omitempty"`
	session.Reply
	Error   *errmodel.Error `json:"error,omitempty"`
	TraceID string          `json:"trace_id,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(r, &req); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	var sess *session.Session
	var sessionID string
	if req.SessionID == "" {
		sess = s.sessions.Transient()
		defer sess.Close()
	} else {
		var err error
		if sess, err = s.sessions.Get(req.SessionID); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		sessionID = sess.ID()
	}
	reply, err := sess.ProcessQuery(r.Context(), req.Text, req.Format, req.Payload)
	resp := QueryResponse{SessionID: sessionID, Reply: reply, TraceID: errmodel.TraceID(r)}
	status := http.StatusOK
	if err != nil {
		resp.Error = errmodel.From(err)
		status = errmodel.HTTPStatus(resp.Error)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create("")
	s.log.Debug("session created", zap.String("session", sess.ID()))
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID(), "turns": sess.History()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errmodel.InvalidIntent("empty request body", nil)
		}
		return errmodel.InvalidIntent("malformed JSON body", map[string]any{"reason": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http server shutdown error", zap.Error(err))
			return err
		}
		return nil
	}
}
