package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dogetionary/internal/app"
	"dogetionary/internal/domain"
	"dogetionary/internal/usecase"
)

type ReviewQueue interface {
	State() domain.QueueState
	Peek() (domain.ReviewQuestion, bool)
	Pop() (domain.ReviewQuestion, bool)
	Clear(preserveFirst bool)
	ForceRefresh()
	RefillIfNeeded() int
	StreamAppendToPriorityQueue(triggeringWord string, questions []domain.ReviewQuestion, cb usecase.StreamCallbacks) uuid.UUID
	ActiveSearchGroups() int
}

type VideoCoordinator interface {
	State(videoID int64) domain.DownloadState
	FetchVideo(ctx context.Context, videoID int64) (string, error)
	PreloadVideos(videoIDs []int64)
	Forget()
}

type VideoCache interface {
	Get(videoID int64) (string, bool)
	Entries() []domain.VideoCacheEntry
	PurgeOlderThan(days int) int
	ClearAll() error
	TotalSize() int64
	MaxBytes() int64
}

type QueueSettingsController interface {
	Get() app.QueueSettings
	Update(settings app.QueueSettings) error
}

type Server struct {
	queue          ReviewQueue
	videos         VideoCoordinator
	cache          VideoCache
	settings       QueueSettingsController
	allowedOrigins []string
	fetchTimeout   time.Duration
	logger         *slog.Logger
	handler        http.Handler
	hub            *Hub
	ownsHub        bool
}

type ServerOption func(*Server)

func WithVideos(c VideoCoordinator) ServerOption {
	return func(s *Server) {
		s.videos = c
	}
}

func WithVideoCache(c VideoCache) ServerOption {
	return func(s *Server) {
		s.cache = c
	}
}

func WithQueueSettings(ctrl QueueSettingsController) ServerOption {
	return func(s *Server) {
		s.settings = ctrl
	}
}

// WithHub shares an existing event hub, usually the one the queue and the
// download coordinator publish into.
func WithHub(h *Hub) ServerOption {
	return func(s *Server) {
		s.hub = h
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithFetchTimeout bounds how long POST /videos/{id}/fetch waits. The
// download itself continues in the background after the timeout.
func WithFetchTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.fetchTimeout = d
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(queue ReviewQueue, opts ...ServerOption) *Server {
	s := &Server{
		queue:        queue,
		fetchTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewHub(s.logger)
		s.ownsHub = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/queue/", s.handleQueueAction)
	mux.HandleFunc("/videos/", s.handleVideos)
	mux.HandleFunc("/cache/videos", s.handleVideoCache)
	mux.HandleFunc("/cache/videos/", s.handleVideoCache)
	mux.HandleFunc("/settings/queue", s.handleQueueSettings)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "review-queue",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Hub returns the event hub websocket clients subscribe to.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects websocket clients when the server created its own hub.
func (s *Server) Close() {
	if s.ownsHub {
		s.hub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	var greeting *wsMessage
	if s.queue != nil {
		greeting = &wsMessage{Type: "queue", Data: s.queue.State()}
	}
	s.hub.attach(conn, greeting)
}

type healthResponse struct {
	Status             string    `json:"status"`
	CheckedAt          time.Time `json:"checkedAt"`
	PriorityDepth      int       `json:"priorityDepth"`
	BackgroundDepth    int       `json:"backgroundDepth"`
	ActiveFetches      int       `json:"activeFetches"`
	ActiveSearchGroups int       `json:"activeSearchGroups"`
	WSClients          int       `json:"wsClients"`
	CacheBytes         int64     `json:"cacheBytes,omitempty"`
	Issues             []string  `json:"issues,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{
		Status:    "ok",
		CheckedAt: time.Now().UTC(),
		WSClients: s.hub.ClientCount(),
	}
	if s.queue == nil {
		resp.Status = "degraded"
		resp.Issues = append(resp.Issues, "review queue is not configured")
	} else {
		st := s.queue.State()
		resp.PriorityDepth = len(st.Priority)
		resp.BackgroundDepth = len(st.Background)
		resp.ActiveFetches = st.ActiveFetchCount
		resp.ActiveSearchGroups = s.queue.ActiveSearchGroups()
		if st.LastError != "" {
			resp.Status = "degraded"
			resp.Issues = append(resp.Issues, st.LastError)
		}
	}
	if s.cache != nil {
		resp.CacheBytes = s.cache.TotalSize()
	}
	writeJSON(w, http.StatusOK, resp)
}
