package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/realtydesk/internal/app"
	"github.com/pscheid92/realtydesk/internal/broadcast"
	"github.com/pscheid92/realtydesk/internal/domain"
	"github.com/pscheid92/realtydesk/internal/platform/config"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockUsers struct {
	users map[uuid.UUID]*domain.User
	err   error
}

func (m *mockUsers) GetByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

type mockNotificationService struct {
	createFn      func(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
	listFn        func(ctx context.Context, userID uuid.UUID, f app.ListFilter) (*app.NotificationPage, error)
	unreadCountFn func(ctx context.Context, userID uuid.UUID) (int, error)
	markReadFn    func(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error)
	markUnreadFn  func(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error)
	markAllReadFn func(ctx context.Context, userID uuid.UUID) (int, error)
	deleteFn      func(ctx context.Context, actorID, id uuid.UUID) error
	deleteManyFn  func(ctx context.Context, actor *domain.User, ids []uuid.UUID) (*app.DeleteResult, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockNotificationService) CreateAndDispatch(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, errNotImplemented
}

func (m *mockNotificationService) List(ctx context.Context, userID uuid.UUID, f app.ListFilter) (*app.NotificationPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, f)
	}
	return nil, errNotImplemented
}

func (m *mockNotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	if m.unreadCountFn != nil {
		return m.unreadCountFn(ctx, userID)
	}
	return 0, errNotImplemented
}

func (m *mockNotificationService) MarkRead(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, actorID, id)
	}
	return nil, errNotImplemented
}

func (m *mockNotificationService) MarkUnread(ctx context.Context, actorID, id uuid.UUID) (*domain.Notification, error) {
	if m.markUnreadFn != nil {
		return m.markUnreadFn(ctx, actorID, id)
	}
	return nil, errNotImplemented
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID)
	}
	return 0, errNotImplemented
}

func (m *mockNotificationService) Delete(ctx context.Context, actorID, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actorID, id)
	}
	return errNotImplemented
}

func (m *mockNotificationService) DeleteMany(ctx context.Context, actor *domain.User, ids []uuid.UUID) (*app.DeleteResult, error) {
	if m.deleteManyFn != nil {
		return m.deleteManyFn(ctx, actor, ids)
	}
	return nil, errNotImplemented
}

type mockAssignmentService struct {
	assignFn       func(ctx context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error)
	reassignFn     func(ctx context.Context, actor *domain.User, unitID, newAgentID uuid.UUID) (*app.Assignment, error)
	updateStatusFn func(ctx context.Context, actor *domain.User, unitID uuid.UUID, status domain.WorkStatus) (*domain.WorkUnit, error)
	listFn         func(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error)
	workloadsFn    func(ctx context.Context, actor *domain.User) ([]domain.AgentWorkload, error)
}

func (m *mockAssignmentService) AssignFor(ctx context.Context, actor *domain.User, kind domain.WorkKind, in domain.WorkInput) (*app.Assignment, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, actor, kind, in)
	}
	return nil, errNotImplemented
}

func (m *mockAssignmentService) Reassign(ctx context.Context, actor *domain.User, unitID, newAgentID uuid.UUID) (*app.Assignment, error) {
	if m.reassignFn != nil {
		return m.reassignFn(ctx, actor, unitID, newAgentID)
	}
	return nil, errNotImplemented
}

func (m *mockAssignmentService) UpdateStatus(ctx context.Context, actor *domain.User, unitID uuid.UUID, status domain.WorkStatus) (*domain.WorkUnit, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, actor, unitID, status)
	}
	return nil, errNotImplemented
}

func (m *mockAssignmentService) ListForAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error) {
	if m.listFn != nil {
		return m.listFn(ctx, agentID, includeClosed)
	}
	return nil, errNotImplemented
}

func (m *mockAssignmentService) Workloads(ctx context.Context, actor *domain.User) ([]domain.AgentWorkload, error) {
	if m.workloadsFn != nil {
		return m.workloadsFn(ctx, actor)
	}
	return nil, errNotImplemented
}

type mockVerificationService struct {
	submitFn func(ctx context.Context, actor *domain.User) (*domain.User, error)
	reviewFn func(ctx context.Context, actor *domain.User, userID uuid.UUID, approved bool, reason string) (*domain.User, error)
}

func (m *mockVerificationService) Submit(ctx context.Context, actor *domain.User) (*domain.User, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, actor)
	}
	return nil, errNotImplemented
}

func (m *mockVerificationService) Review(ctx context.Context, actor *domain.User, userID uuid.UUID, approved bool, reason string) (*domain.User, error) {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, actor, userID, approved, reason)
	}
	return nil, errNotImplemented
}

type recordingRejections struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingRejections) StreamRejected(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingRejections) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

// --- Test helpers ---

const testSessionSecret = "test-secret-key-32-bytes-long!!!"

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	store := sessions.NewCookieStore([]byte(testSessionSecret))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	srv := &Server{
		echo:          echo.New(),
		config:        &config.Config{KeepAliveInterval: time.Hour},
		users:         &mockUsers{},
		notifications: &mockNotificationService{},
		assignments:   &mockAssignmentService{},
		verification:  &mockVerificationService{},
		streams: Streams{
			Notifications: broadcast.NewRegistry(domain.CategoryNotification),
			Verification:  broadcast.NewRegistry(domain.CategoryVerification),
			AdminAlerts:   broadcast.NewRegistry(domain.CategoryAdminAlert),
		},
		limits:     NewConnectionLimits(100, 100, 1000, 1000),
		rejections: nopRejections{},
		streamOptions: []broadcast.StreamOption{
			broadcast.WithKeepAlive(time.Hour),
			broadcast.WithClock(clockwork.NewFakeClock()),
		},
		sessionStore: store,
		startTime:    time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withUsers(users ...*domain.User) func(*Server) {
	return func(s *Server) {
		index := make(map[uuid.UUID]*domain.User, len(users))
		for _, u := range users {
			index[u.ID] = u
		}
		s.users = &mockUsers{users: index}
	}
}

func withNotifications(m *mockNotificationService) func(*Server) {
	return func(s *Server) { s.notifications = m }
}

func withAssignments(m *mockAssignmentService) func(*Server) {
	return func(s *Server) { s.assignments = m }
}

func withVerification(m *mockVerificationService) func(*Server) {
	return func(s *Server) { s.verification = m }
}

func withLimits(l *ConnectionLimits) func(*Server) {
	return func(s *Server) { s.limits = l }
}

func withRejections(r streamRejections) func(*Server) {
	return func(s *Server) { s.rejections = r }
}

func withStreams(streams Streams) func(*Server) {
	return func(s *Server) { s.streams = streams }
}

func newAdmin() *domain.User {
	return &domain.User{ID: uuid.New(), Email: "admin@realtydesk.test", Name: "admin", Role: domain.RoleAdmin, Verified: true}
}

func newAgent() *domain.User {
	return &domain.User{ID: uuid.New(), Email: "agent@realtydesk.test", Name: "agent", Role: domain.RoleAgent, Verified: true}
}

func newClient() *domain.User {
	return &domain.User{ID: uuid.New(), Email: "client@realtydesk.test", Name: "client", Role: domain.RoleClient}
}

// sessionCookie returns a cookie the server accepts as a login for userID.
func sessionCookie(t *testing.T, srv *Server, userID uuid.UUID) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := srv.sessionStore.New(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyUserID] = userID.String()
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

// do sends a request through the full middleware stack. user may be nil.
func do(t *testing.T, srv *Server, user *domain.User, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != nil {
		req.AddCookie(sessionCookie(t, srv, user.ID))
	}

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func dialWebSocket(t *testing.T, url string, cookie *http.Cookie) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	header.Add("Cookie", cookie.String())
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), header)
}
