//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Transaction manager ----

// MockTxManager serializes transactions with one mutex, which is what a
// serializable store would observe for the single-pair scenarios under test.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, nil)
}

// ---- Entitlements ----

type memEntitlementRepo struct {
	mu     sync.Mutex
	data   map[string]*model.Entitlement
	grants int // GrantItem calls that added an item

	GrantItemFunc func(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error
}

var _ repository.EntitlementRepository = (*memEntitlementRepo)(nil)

func newMemEntitlementRepo() *memEntitlementRepo {
	return &memEntitlementRepo{data: map[string]*model.Entitlement{}}
}

func (r *memEntitlementRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	cp.UnlockedItemIDs = slices.Clone(e.UnlockedItemIDs)
	return &cp, nil
}

func (r *memEntitlementRepo) get(userID string) *model.Entitlement {
	e, ok := r.data[userID]
	if !ok {
		e = model.EmptyEntitlement(userID)
		r.data[userID] = e
	}
	return e
}

func (r *memEntitlementRepo) GrantItem(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error {
	if r.GrantItemFunc != nil {
		return r.GrantItemFunc(ctx, tx, userID, itemID, customerID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.get(userID)
	if !slices.Contains(e.UnlockedItemIDs, itemID) {
		e.UnlockedItemIDs = append(e.UnlockedItemIDs, itemID)
		r.grants++
	}
	if customerID != nil {
		e.CustomerID = customerID
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (r *memEntitlementRepo) RevokeItem(ctx context.Context, tx repository.Tx, userID, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.get(userID)
	e.UnlockedItemIDs = slices.DeleteFunc(e.UnlockedItemIDs, func(s string) bool { return s == itemID })
	return nil
}

func (r *memEntitlementRepo) SetSubscriber(ctx context.Context, tx repository.Tx, userID string, subscriber bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).Subscriber = subscriber
	return nil
}

func (r *memEntitlementRepo) items(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.data[userID]; ok {
		return slices.Clone(e.UnlockedItemIDs)
	}
	return nil
}

// ---- Purchases ----

type memPurchaseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Purchase
}

var _ repository.PurchaseRepository = (*memPurchaseRepo)(nil)

func newMemPurchaseRepo() *memPurchaseRepo {
	return &memPurchaseRepo{data: map[string]*model.Purchase{}}
}

func (r *memPurchaseRepo) RecordPaid(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[p.PaymentIntentID]; ok && cur.Status == model.PurchaseRefunded {
		return nil
	}
	cp := *p
	cp.Status = model.PurchasePaid
	r.data[p.PaymentIntentID] = &cp
	return nil
}

func (r *memPurchaseRepo) FindByPaymentIntent(ctx context.Context, tx repository.Tx, pi string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[pi]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPurchaseRepo) MarkRefunded(ctx context.Context, tx repository.Tx, pi string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[pi]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = model.PurchaseRefunded
	return nil
}

// ---- Item purchase pointers ----

type memPointerRepo struct {
	mu   sync.Mutex
	data map[string]*model.ItemPurchase
}

var _ repository.ItemPurchaseRepository = (*memPointerRepo)(nil)

func newMemPointerRepo() *memPointerRepo {
	return &memPointerRepo{data: map[string]*model.ItemPurchase{}}
}

func (r *memPointerRepo) Lock(ctx context.Context, tx repository.Tx, key model.PairKey) error {
	return nil
}

func (r *memPointerRepo) FindByKey(ctx context.Context, tx repository.Tx, key model.PairKey) (*model.ItemPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[key.ID()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPointerRepo) SetCurrent(ctx context.Context, tx repository.Tx, key model.PairKey, pi string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key.ID()] = &model.ItemPurchase{
		UserID: key.UserID, ItemID: key.ItemID,
		CurrentPaymentIntentID: pi, Status: model.PurchasePaid, UpdatedAt: time.Now(),
	}
	return nil
}

func (r *memPointerRepo) MarkRefunded(ctx context.Context, tx repository.Tx, key model.PairKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[key.ID()]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = model.PurchaseRefunded
	return nil
}

// ---- Checkout attempts ----

type memAttemptRepo struct {
	mu   sync.Mutex
	data map[string]*model.CheckoutAttempt
}

var _ repository.CheckoutAttemptRepository = (*memAttemptRepo)(nil)

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{data: map[string]*model.CheckoutAttempt{}}
}

func cloneAttempt(a *model.CheckoutAttempt) *model.CheckoutAttempt {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (r *memAttemptRepo) TransactionalUpsert(ctx context.Context, tx repository.Tx, key model.PairKey, fn repository.UpsertFunc[model.CheckoutAttempt]) (*model.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := cloneAttempt(r.data[key.ID()])
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	r.data[key.ID()] = cloneAttempt(next)
	return next, nil
}

func (r *memAttemptRepo) FindByKey(ctx context.Context, tx repository.Tx, key model.PairKey) (*model.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[key.ID()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (r *memAttemptRepo) MarkOpen(ctx context.Context, tx repository.Tx, key model.PairKey, attemptID, sessionID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[key.ID()]
	if !ok || a.AttemptID != attemptID {
		return nil
	}
	a.SessionID, a.SessionURL, a.Status = &sessionID, &url, model.AttemptOpen
	return nil
}

func (r *memAttemptRepo) SetStatus(ctx context.Context, tx repository.Tx, key model.PairKey, attemptID string, status model.AttemptStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.data[key.ID()]
	if !ok || (attemptID != "" && a.AttemptID != attemptID) {
		return nil
	}
	a.Status = status
	return nil
}

func (r *memAttemptRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.CheckoutAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CheckoutAttempt
	for _, a := range r.data {
		if a.Status == model.AttemptOpen && a.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, cloneAttempt(a))
		}
	}
	return out, nil
}

func (r *memAttemptRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, a := range r.data {
		if a.ExpiresAt.Before(now) {
			delete(r.data, k)
			n++
		}
	}
	return n, nil
}

func (r *memAttemptRepo) get(key model.PairKey) *model.CheckoutAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAttempt(r.data[key.ID()])
}

// ---- Rate limits ----

type memRateLimitRepo struct {
	mu   sync.Mutex
	data map[string]*model.RateLimit
}

var _ repository.RateLimitRepository = (*memRateLimitRepo)(nil)

func newMemRateLimitRepo() *memRateLimitRepo {
	return &memRateLimitRepo{data: map[string]*model.RateLimit{}}
}

func (r *memRateLimitRepo) TransactionalUpsert(ctx context.Context, tx repository.Tx, key model.PairKey, fn repository.UpsertFunc[model.RateLimit]) (*model.RateLimit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cur *model.RateLimit
	if v, ok := r.data[key.RateID()]; ok {
		cp := *v
		cur = &cp
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	cp := *next
	r.data[key.RateID()] = &cp
	return next, nil
}

func (r *memRateLimitRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	return 0, nil
}

func (r *memRateLimitRepo) count(key model.PairKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.data[key.RateID()]; ok {
		return v.Count
	}
	return 0
}

// ---- Event locks ----

type memEventLockRepo struct {
	mu   sync.Mutex
	data map[string]*model.EventLock
}

var _ repository.EventLockRepository = (*memEventLockRepo)(nil)

func newMemEventLockRepo() *memEventLockRepo {
	return &memEventLockRepo{data: map[string]*model.EventLock{}}
}

func (r *memEventLockRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, l *model.EventLock) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[l.EventID]; ok {
		return false, nil
	}
	cp := *l
	r.data[l.EventID] = &cp
	return true, nil
}

func (r *memEventLockRepo) MarkProcessed(ctx context.Context, tx repository.Tx, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.data[eventID]; ok {
		l.Status = model.EventProcessed
		l.ProcessedAt = &at
	}
	return nil
}

func (r *memEventLockRepo) Delete(ctx context.Context, tx repository.Tx, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, eventID)
	return nil
}

func (r *memEventLockRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	return 0, nil
}

func (r *memEventLockRepo) status(eventID string) (model.EventLockStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.data[eventID]
	if !ok {
		return "", false
	}
	return l.Status, true
}

// ---- Episodes and progress ----

type memEpisodeRepo struct {
	mu        sync.Mutex
	episodes  map[string]*model.Episode
	scenes    map[string]*model.Scene
	solutions map[string]*model.Solution
}

var _ repository.EpisodeRepository = (*memEpisodeRepo)(nil)

func newMemEpisodeRepo() *memEpisodeRepo {
	return &memEpisodeRepo{
		episodes:  map[string]*model.Episode{},
		scenes:    map[string]*model.Scene{},
		solutions: map[string]*model.Solution{},
	}
}

func (r *memEpisodeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.episodes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (r *memEpisodeRepo) FindScene(ctx context.Context, tx repository.Tx, episodeID, sceneID string) (*model.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scenes[episodeID+"/"+sceneID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memEpisodeRepo) FindSolution(ctx context.Context, tx repository.Tx, episodeID, sceneID string) (*model.Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.solutions[episodeID+"/"+sceneID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memEpisodeRepo) SaveEpisode(ctx context.Context, tx repository.Tx, ep *model.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ep
	r.episodes[ep.ID] = &cp
	return nil
}

func (r *memEpisodeRepo) SaveScene(ctx context.Context, tx repository.Tx, s *model.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.scenes[s.EpisodeID+"/"+s.ID] = &cp
	return nil
}

func (r *memEpisodeRepo) SaveSolution(ctx context.Context, tx repository.Tx, s *model.Solution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.solutions[s.EpisodeID+"/"+s.SceneID] = &cp
	return nil
}

type memProgressRepo struct {
	mu   sync.Mutex
	data map[string]*model.Progress
}

var _ repository.ProgressRepository = (*memProgressRepo)(nil)

func newMemProgressRepo() *memProgressRepo {
	return &memProgressRepo{data: map[string]*model.Progress{}}
}

func (r *memProgressRepo) Find(ctx context.Context, tx repository.Tx, userID, episodeID string) (*model.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[userID+"/"+episodeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	cp.CompletedSceneIDs = slices.Clone(p.CompletedSceneIDs)
	return &cp, nil
}

func (r *memProgressRepo) Save(ctx context.Context, tx repository.Tx, p *model.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.CompletedSceneIDs = slices.Clone(p.CompletedSceneIDs)
	r.data[p.UserID+"/"+p.EpisodeID] = &cp
	return nil
}

// ---- Notifier ----

type mockNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *mockNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
