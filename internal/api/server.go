package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"shardq/internal/domain"
	"shardq/internal/ports"
	"shardq/internal/usecase"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type pushReq struct {
	ID          string `json:"id"`
	Payload     string `json:"payload"`
	Priority    *int   `json:"priority"`
	DelayMS     int64  `json:"delay_ms"`
	IfNotExists bool   `json:"if_not_exists"`
}

func (p pushReq) message() domain.Message {
	prio := domain.PriorityUnset
	if p.Priority != nil {
		prio = *p.Priority
	}
	return domain.Message{
		ID:       p.ID,
		Payload:  []byte(p.Payload),
		Priority: prio,
		Delay:    time.Duration(p.DelayMS) * time.Millisecond,
	}
}

type batchReq struct {
	Messages []pushReq `json:"messages"`
}

type messageResp struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Payload  string `json:"payload,omitempty"`
}

type unackTimeoutReq struct {
	TimeoutMS int64 `json:"timeout_ms"`
}

type errorBody struct {
	Error string `json:"error"`
}

// HealthFunc reports whether the queue backend is reachable.
type HealthFunc func(ctx context.Context) error

type Server struct {
	router *chi.Mux
	q      ports.QueueDAO
	enq    usecase.Enqueuer
	health HealthFunc
}

func NewServer(q ports.QueueDAO, health HealthFunc) *Server {
	s := &Server{router: chi.NewRouter(), q: q, enq: usecase.Enqueuer{Q: q}, health: health}

	r := s.router
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", s.detail)
		r.Get("/verbose", s.detailVerbose)

		r.Route("/{queue}", func(r chi.Router) {
			r.Delete("/", s.flush)
			r.Get("/size", s.size)
			r.Post("/messages", s.push)
			r.Post("/batch", s.pushBatch)
			r.Post("/pop", s.pop)
			r.Post("/unacks", s.processUnacks)

			r.Route("/messages/{id}", func(r chi.Router) {
				r.Get("/", s.contains)
				r.Delete("/", s.remove)
				r.Post("/ack", s.ack)
				r.Put("/unack-timeout", s.setUnackTimeout)
				r.Post("/reset", s.resetOffset)
			})
		})
	})

	return s
}

// Handler returns the router wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		requestIDHandler,
		realIPHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		}),
		recoverHandler,
		corsHandler,
	)
}

// Run serves on port until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// pop may block for its timeout
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	log.Info().Msg("Server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) detail(w http.ResponseWriter, r *http.Request) {
	d, err := s.q.QueuesDetail(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) detailVerbose(w http.ResponseWriter, r *http.Request) {
	d, err := s.q.QueuesDetailVerbose(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) size(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	n, err := s.q.Size(r.Context(), queue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": queue, "size": n})
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Flush(r.Context(), chi.URLParam(r, "queue")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var req pushReq
	if !decode(w, r, &req) {
		return
	}
	queue := chi.URLParam(r, "queue")

	if req.IfNotExists {
		if req.Payload != "" {
			writeError(w, r, fmt.Errorf("%w: payload cannot be combined with if_not_exists", domain.ErrInvalidArgument))
			return
		}
		m := req.message()
		ok, err := s.q.PushIfNotExists(r.Context(), queue, m.ID, m.Priority, m.Delay)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if !ok {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"id": m.ID, "pushed": ok})
		return
	}

	m := req.message()
	id, err := s.enq.After(r.Context(), queue, m, m.Delay)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "pushed": true})
}

func (s *Server) pushBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if !decode(w, r, &req) {
		return
	}
	msgs := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, m.message())
	}
	if err := s.q.PushMessages(r.Context(), chi.URLParam(r, "queue"), msgs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"pushed": len(msgs)})
}

func (s *Server) pop(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	timeoutMS, err := intParam(r, "timeout_ms", -1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	timeout := time.Duration(timeoutMS) * time.Millisecond
	if timeoutMS < 0 {
		timeout = -1
	}

	msgs, err := s.q.PollMessages(r.Context(), chi.URLParam(r, "queue"), count, timeout)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]messageResp, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResp{ID: m.ID, Priority: m.Priority, Payload: string(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) processUnacks(w http.ResponseWriter, r *http.Request) {
	n, err := s.q.ProcessUnacks(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) contains(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.q.ContainsMessage(r.Context(), chi.URLParam(r, "queue"), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"id": id, "exists": ok})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if err := s.q.Remove(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ack(w http.ResponseWriter, r *http.Request) {
	ok, err := s.q.Ack(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acked": ok})
}

func (s *Server) setUnackTimeout(w http.ResponseWriter, r *http.Request) {
	var req unackTimeoutReq
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.q.SetUnackTimeout(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"),
		time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": ok})
}

func (s *Server) resetOffset(w http.ResponseWriter, r *http.Request) {
	ok, err := s.q.ResetOffsetTime(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": ok})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, fmt.Errorf("%w: bad request body: %v", domain.ErrInvalidArgument, err))
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidArgument, name)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
