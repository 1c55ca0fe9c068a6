package api

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/session"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for websocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// Options configures the router
type Options struct {
	JWTSecret    string
	ThreadPolicy chat.ThreadPolicy
	SendRPS      float64
	Logger       *slog.Logger
}

// Router holds the HTTP multiplexer and dependencies
type Router struct {
	mux                  *http.ServeMux
	secret               string
	restHandler          *RestHandler
	realtimeHandler      *RealtimeHandler
	threadsHandler       *ThreadsHandler
	eventsHandler        *ThreadEventsHandler
	notificationsHandler *NotificationsHandler
	log                  *slog.Logger
}

// NewRouter creates a new router with all routes configured
func NewRouter(gw gateway.Gateway, opts Options) *Router {
	log := logger.OrDefault(opts.Logger)

	threads := NewThreadsHandler(gw, opts.ThreadPolicy, opts.SendRPS, log)

	r := &Router{
		mux:                  http.NewServeMux(),
		secret:               opts.JWTSecret,
		restHandler:          NewRestHandler(gw, log),
		realtimeHandler:      NewRealtimeHandler(gw, log),
		threadsHandler:       threads,
		eventsHandler:        NewThreadEventsHandler(threads, gw, log),
		notificationsHandler: NewNotificationsHandler(chat.NewNotifier(gw, log), log),
		log:                  log.With("component", "http"),
	}
	r.setupRoutes()
	return r
}

// authed requires a valid session token
func (r *Router) authed(h http.HandlerFunc) http.Handler {
	return session.Middleware(r.secret, h)
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes() {
	// Health check and metrics
	r.mux.HandleFunc("GET /health", HealthHandler)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Data gateway
	r.mux.Handle("POST /rest/v1/query", r.authed(r.restHandler.Query))
	r.mux.Handle("POST /rest/v1/{collection}", r.authed(r.restHandler.Insert))
	r.mux.Handle("PATCH /rest/v1/{collection}", r.authed(r.restHandler.Update))
	r.mux.Handle("GET /realtime/v1", r.authed(r.realtimeHandler.HandleRealtime))

	// Thread routes
	r.mux.Handle("GET /api/threads", r.authed(r.threadsHandler.List))
	r.mux.Handle("POST /api/threads/ensure", r.authed(r.threadsHandler.Ensure))

	// Message routes
	r.mux.Handle("GET /api/threads/{id}/messages", r.authed(r.threadsHandler.Messages))
	r.mux.Handle("POST /api/threads/{id}/messages", r.authed(r.threadsHandler.Send))

	// SSE events route
	r.mux.Handle("GET /api/threads/{id}/events", r.authed(r.eventsHandler.HandleEvents))

	// Notification routes
	r.mux.Handle("GET /api/notifications", r.authed(r.notificationsHandler.List))
	r.mux.Handle("GET /api/notifications/count", r.authed(r.notificationsHandler.Count))
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	// Add CORS headers for development
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == http.MethodOptions {
		r.log.Debug("CORS preflight", "path", req.URL.Path)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Skip logging for health checks, metrics and long-lived streams
	shouldLog := (strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/rest/")) &&
		!strings.HasSuffix(req.URL.Path, "/events")

	if shouldLog {
		r.log.Debug("request started", "method", req.Method, "path", req.URL.Path)
	}

	// Wrap response writer to capture status code
	wrapped := newResponseWriter(w)
	r.mux.ServeHTTP(wrapped, req)

	if shouldLog {
		r.log.Info("request completed",
			"method", req.Method, "path", req.URL.Path,
			"status", wrapped.statusCode, "duration", time.Since(start))
	}
}
