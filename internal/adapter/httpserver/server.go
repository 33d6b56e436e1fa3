package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/adapter/metrics"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/broadcast"
	"github.com/pscheid92/realtydesk/internal/domain"
	"github.com/pscheid92/realtydesk/internal/platform/config"
)

type userLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

type notificationService interface {
	CreateAndDispatch(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
	List(ctx context.Context, userID uuid.UUID, f app.ListFilter) (*app.NotificationPage, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error)
	MarkUnread(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	Delete(ctx context.Context, actorID, id uuid.UUID) error
	DeleteMany(ctx context.Context, actor *domain.User, ids []uuid.UUID) (*app.DeleteResult, error)
}

type assignmentService interface {
	AssignFor(ctx context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error)
	Reassign(ctx context.Context, actor *domain.User, unitID, newAgentID uuid.UUID) (*app.Assignment, error)
	UpdateStatus(ctx context.Context, actor *domain.User, unitID uuid.UUID, status domain.WorkStatus) (*domain.WorkUnit, error)
	ListForAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error)
	Workloads(ctx context.Context, actor *domain.User) ([]domain.AgentWorkload, error)
}

type verificationService interface {
	Submit(ctx context.Context, actor *domain.User) (*domain.User, error)
	Review(ctx context.Context, actor *domain.User, userID uuid.UUID, approved bool, reason string) (*domain.User, error)
}

type streamRejections interface {
	StreamRejected(reason string)
}

type nopRejections struct{}

func (nopRejections) StreamRejected(string) {}

// Streams holds the three independent live-event registries.
type Streams struct {
	Notifications *broadcast.Registry
	Verification  *broadcast.Registry
	AdminAlerts   *broadcast.Registry
}

func (s Streams) all() []*broadcast.Registry {
	return []*broadcast.Registry{s.Notifications, s.Verification, s.AdminAlerts}
}

// Deps carries everything the handlers call into. Optional fields may be nil.
type Deps struct {
	Users         userLookup
	Notifications notificationService
	Assignments   assignmentService
	Verification  verificationService
	Streams       Streams
	HealthChecks  []HealthCheck

	StreamMetrics  streamRejections
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Clock          clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	users         userLookup
	notifications notificationService
	assignments   assignmentService
	verification  verificationService
	streams       Streams

	limits        *ConnectionLimits
	rejections    streamRejections
	streamOptions []broadcast.StreamOption
	upgrader      websocket.Upgrader

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rejections := deps.StreamMetrics
	if rejections == nil {
		rejections = nopRejections{}
	}

	srv := &Server{
		echo:          e,
		config:        cfg,
		users:         deps.Users,
		notifications: deps.Notifications,
		assignments:   deps.Assignments,
		verification:  deps.Verification,
		streams:       deps.Streams,
		limits: NewConnectionLimits(
			int64(cfg.MaxStreamConnections),
			cfg.MaxStreamsPerIP,
			streamConnectRate,
			streamConnectBurst,
		),
		rejections: rejections,
		streamOptions: []broadcast.StreamOption{
			broadcast.WithKeepAlive(cfg.KeepAliveInterval),
			broadcast.WithClock(clock),
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		httpMetrics:    deps.HTTPMetrics,
		metricsHandler: deps.MetricsHandler,
		sessionStore:   setupSessionStore(cfg),
		healthChecks:   deps.HealthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown closes every live stream first so long-lived handlers return and
// the HTTP server can drain.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, r := range s.streams.all() {
		if r != nil {
			r.CloseAll(broadcast.ReasonShutdown)
		}
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys. The auth service writes user_id into the shared cookie.
const (
	sessionName      = "realtydesk-session"
	sessionKeyUserID = "user_id"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
