package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/realtydesk/internal/domain"
)

// --- Mock implementations ---

type mockUserRepo struct {
	getByIDFn            func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	listEligibleAgentsFn func(ctx context.Context) ([]*domain.User, error)
	updateVerificationFn func(ctx context.Context, userID uuid.UUID, status domain.VerificationStatus, verified bool) (*domain.User, error)
}

func (m *mockUserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, userID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) ListEligibleAgents(ctx context.Context) ([]*domain.User, error) {
	if m.listEligibleAgentsFn != nil {
		return m.listEligibleAgentsFn(ctx)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockUserRepo) UpdateVerification(ctx context.Context, userID uuid.UUID, status domain.VerificationStatus, verified bool) (*domain.User, error) {
	if m.updateVerificationFn != nil {
		return m.updateVerificationFn(ctx, userID, status, verified)
	}
	return nil, fmt.Errorf("not implemented")
}

// usersByID serves GetByID from a fixed set.
func usersByID(users ...*domain.User) func(context.Context, uuid.UUID) (*domain.User, error) {
	index := make(map[uuid.UUID]*domain.User, len(users))
	for _, u := range users {
		index[u.ID] = u
	}
	return func(_ context.Context, id uuid.UUID) (*domain.User, error) {
		u, ok := index[id]
		if !ok {
			return nil, domain.ErrUserNotFound
		}
		copied := *u
		return &copied, nil
	}
}

type mockNotificationRepo struct {
	createFn           func(ctx context.Context, in domain.NotificationInput, createdAt time.Time) (*domain.Notification, error)
	getByIDFn          func(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	listFn             func(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, int, error)
	countUnreadFn      func(ctx context.Context, userID uuid.UUID) (int, error)
	setReadFn          func(ctx context.Context, id uuid.UUID, read bool, at time.Time) (*domain.Notification, error)
	markAllReadFn      func(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
	deleteFn           func(ctx context.Context, id uuid.UUID) (bool, error)
	findExistingFn     func(ctx context.Context, ids []uuid.UUID) ([]*domain.Notification, error)
	deleteReadBeforeFn func(ctx context.Context, cutoff time.Time, dryRun bool) (int, error)
}

func (m *mockNotificationRepo) Create(ctx context.Context, in domain.NotificationInput, createdAt time.Time) (*domain.Notification, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in, createdAt)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotificationNotFound
}

func (m *mockNotificationRepo) List(ctx context.Context, userID uuid.UUID, filter domain.NotificationFilter) ([]*domain.Notification, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, filter)
	}
	return nil, 0, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	if m.countUnreadFn != nil {
		return m.countUnreadFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockNotificationRepo) SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) (*domain.Notification, error) {
	if m.setReadFn != nil {
		return m.setReadFn(ctx, id, read, at)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID, at)
	}
	return 0, nil
}

func (m *mockNotificationRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return true, nil
}

func (m *mockNotificationRepo) FindExisting(ctx context.Context, ids []uuid.UUID) ([]*domain.Notification, error) {
	if m.findExistingFn != nil {
		return m.findExistingFn(ctx, ids)
	}
	return nil, nil
}

func (m *mockNotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	if m.deleteReadBeforeFn != nil {
		return m.deleteReadBeforeFn(ctx, cutoff, dryRun)
	}
	return 0, nil
}

type mockWorkUnitRepo struct {
	createFn       func(ctx context.Context, unit domain.WorkUnit) (*domain.WorkUnit, error)
	getByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.WorkUnit, error)
	reassignFn     func(ctx context.Context, id, newAgentID uuid.UUID, at time.Time) (uuid.UUID, error)
	updateStatusFn func(ctx context.Context, id uuid.UUID, status domain.WorkStatus, at time.Time) (*domain.WorkUnit, error)
	listByAgentFn  func(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error)
}

func (m *mockWorkUnitRepo) Create(ctx context.Context, unit domain.WorkUnit) (*domain.WorkUnit, error) {
	if m.createFn != nil {
		return m.createFn(ctx, unit)
	}
	return &unit, nil
}

func (m *mockWorkUnitRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkUnit, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrWorkUnitNotFound
}

func (m *mockWorkUnitRepo) Reassign(ctx context.Context, id, newAgentID uuid.UUID, at time.Time) (uuid.UUID, error) {
	if m.reassignFn != nil {
		return m.reassignFn(ctx, id, newAgentID, at)
	}
	return uuid.Nil, fmt.Errorf("not implemented")
}

func (m *mockWorkUnitRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WorkStatus, at time.Time) (*domain.WorkUnit, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, at)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockWorkUnitRepo) ListByAgent(ctx context.Context, agentID uuid.UUID, includeClosed bool) ([]*domain.WorkUnit, error) {
	if m.listByAgentFn != nil {
		return m.listByAgentFn(ctx, agentID, includeClosed)
	}
	return nil, nil
}

// staticWorkloads serves fixed counts per agent.
type staticWorkloads struct {
	counts map[uuid.UUID]int
	err    error
}

func (w *staticWorkloads) OpenUnitCount(_ context.Context, agentID uuid.UUID) (int, error) {
	return w.counts[agentID], w.err
}

func (w *staticWorkloads) OpenUnitCounts(_ context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make(map[uuid.UUID]int, len(agentIDs))
	for _, id := range agentIDs {
		if n, ok := w.counts[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type mockProperties struct {
	existing map[uuid.UUID]bool
	err      error
}

func (m *mockProperties) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.existing[id], m.err
}

// recordingDispatcher records pushes instead of delivering them.
type recordingDispatcher struct {
	mu         sync.Mutex
	pushes     []recordedPush
	broadcasts []domain.Envelope
}

type recordedPush struct {
	Key      domain.RecipientKey
	Envelope domain.Envelope
}

func (d *recordingDispatcher) Push(key domain.RecipientKey, env domain.Envelope) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes = append(d.pushes, recordedPush{Key: key, Envelope: env})
	return 1
}

func (d *recordingDispatcher) PushBroadcast(env domain.Envelope) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcasts = append(d.broadcasts, env)
	return 1
}

func (d *recordingDispatcher) pushed() []recordedPush {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedPush(nil), d.pushes...)
}

func (d *recordingDispatcher) broadcasted() []domain.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Envelope(nil), d.broadcasts...)
}

// recordingNotifier captures notifications sent by other services.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.NotificationInput
	err  error
}

func (n *recordingNotifier) CreateAndDispatch(_ context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.sent = append(n.sent, in)
	return &domain.Notification{ID: uuid.New(), UserID: in.UserID, Type: in.Type, Title: in.Title, Message: in.Message}, nil
}

func (n *recordingNotifier) inputs() []domain.NotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationInput(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.WorkEvent
	err    error
}

func (p *recordingPublisher) PublishWorkEvent(_ context.Context, event domain.WorkEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []domain.WorkEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.WorkEvent(nil), p.events...)
}

type recordingObserver struct {
	mu         sync.Mutex
	assigned   []domain.WorkKind
	failed     []string
	reassigned []domain.WorkKind
}

func (o *recordingObserver) Assigned(kind domain.WorkKind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assigned = append(o.assigned, kind)
}

func (o *recordingObserver) AssignmentFailed(_ domain.WorkKind, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, reason)
}

func (o *recordingObserver) Reassigned(kind domain.WorkKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reassigned = append(o.reassigned, kind)
}

// --- Fixtures ---

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newAgent(name string, offset int) *domain.User {
	return &domain.User{
		ID:                 uuid.New(),
		Email:              name + "@realtydesk.test",
		Name:               name,
		Role:               domain.RoleAgent,
		Verified:           true,
		VerificationStatus: domain.VerificationApproved,
		CreatedAt:          testEpoch.Add(time.Duration(offset) * time.Hour),
	}
}

func newAdmin() *domain.User {
	return &domain.User{ID: uuid.New(), Email: "admin@realtydesk.test", Name: "admin", Role: domain.RoleAdmin, Verified: true}
}

func newClient() *domain.User {
	return &domain.User{ID: uuid.New(), Email: "client@realtydesk.test", Name: "client", Role: domain.RoleClient, VerificationStatus: domain.VerificationNone}
}
