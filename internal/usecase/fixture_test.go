//go:build !integration

package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/infra/adapters/payment"
	"puzzlepass/internal/usecase"
)

const (
	testWebhookSecret = "whsec_test"
	testAppBase       = "https://app.puzzlepass.test"
)

// testClock is a settable clock shared by the policy.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	policy   *usecase.CheckoutPolicy
	tm       *MockTxManager
	ents     *memEntitlementRepo
	purch    *memPurchaseRepo
	pointers *memPointerRepo
	attempts *memAttemptRepo
	rates    *memRateLimitRepo
	locks    *memEventLockRepo
	episodes *memEpisodeRepo
	progress *memProgressRepo
	provider *payment.NoopProvider
	notifier *mockNotifier

	entitlements *usecase.EntitlementUseCase
	checkout     *usecase.CheckoutUseCase
	webhook      *usecase.WebhookUseCase
	episode      *usecase.EpisodeUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		clock: clock,
		policy: &usecase.CheckoutPolicy{
			Limit:         5,
			Window:        10 * time.Minute,
			RateLimitTTL:  24 * time.Hour,
			Reuse:         30 * time.Minute,
			CreatingGrace: 2 * time.Minute,
			AttemptTTL:    24 * time.Hour,
			EventTTL:      7 * 24 * time.Hour,
			Redirect: model.RedirectPolicy{
				AppBaseURL:     testAppBase,
				AllowedSchemes: []string{"puzzlepass"},
			},
			Now: clock.Now,
		},
		tm:       NewMockTxManager(),
		ents:     newMemEntitlementRepo(),
		purch:    newMemPurchaseRepo(),
		pointers: newMemPointerRepo(),
		attempts: newMemAttemptRepo(),
		rates:    newMemRateLimitRepo(),
		locks:    newMemEventLockRepo(),
		episodes: newMemEpisodeRepo(),
		progress: newMemProgressRepo(),
		provider: payment.NewNoopProvider(testWebhookSecret),
		notifier: &mockNotifier{},
	}
	logger := newTestLogger()

	f.entitlements = usecase.NewEntitlementUseCase(f.ents, f.purch, f.pointers, f.attempts, f.tm, nil, f.notifier, logger)
	limiter := usecase.NewCheckoutRateLimiter(f.rates, f.tm, f.policy, logger)
	ledger := usecase.NewAttemptLedger(f.attempts, f.tm, f.policy)
	f.checkout = usecase.NewCheckoutUseCase(f.episodes, f.entitlements, limiter, ledger, f.provider, f.policy, logger)
	f.webhook = usecase.NewWebhookUseCase(f.provider, usecase.NewEventLock(f.locks, f.policy, logger), f.entitlements, f.notifier, logger)
	f.episode = usecase.NewEpisodeUseCase(f.episodes, f.progress, f.entitlements, f.policy, logger)

	f.seedEpisode(t, &model.Episode{ID: "ep-2", Title: "The Vault", Published: true, StartSceneID: "s1", StripePriceID: "price_ep2"})
	f.seedEpisode(t, &model.Episode{ID: "ep-1", Title: "Pilot", Published: true, FreePreview: true, StartSceneID: "s1"})
	f.seedEpisode(t, &model.Episode{ID: "ep-draft", Published: false, StartSceneID: "s1", StripePriceID: "price_draft"})
	f.seedEpisode(t, &model.Episode{ID: "ep-noprice", Published: true, StartSceneID: "s1"})
	return f
}

func (f *fixture) seedEpisode(t *testing.T, ep *model.Episode) {
	t.Helper()
	if err := f.episodes.SaveEpisode(context.Background(), nil, ep); err != nil {
		t.Fatalf("seed episode: %v", err)
	}
}

// sessionID extracts the noop session id from its hosted URL.
func sessionID(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

// buyAndPay runs create then marks the session paid provider side.
func (f *fixture) buyAndPay(t *testing.T, caller usecase.Caller, itemID, pi string) *model.CheckoutSession {
	t.Helper()
	res, err := f.checkout.Create(context.Background(), caller, usecase.CreateCheckoutRequest{ItemID: itemID})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	return f.provider.Pay(sessionID(res.URL), pi, "cus_"+caller.UserID)
}

func (f *fixture) completedEvent(id string, sess *model.CheckoutSession) ([]byte, string) {
	return f.provider.SignedEvent(&model.ProviderEvent{ID: id, Type: model.EventCheckoutCompleted, Session: sess})
}

func (f *fixture) refundEvent(id, pi string) ([]byte, string) {
	return f.provider.SignedEvent(&model.ProviderEvent{
		ID: id, Type: model.EventChargeRefunded,
		Charge: &model.Charge{ID: "ch_" + pi, PaymentIntentID: pi, Refunded: true},
	})
}
