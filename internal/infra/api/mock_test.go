//go:build !integration

package api_test

import (
	"context"
	"sync"
	"time"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/usecase"
)

type mockCheckout struct {
	CreateFunc func(ctx context.Context, caller usecase.Caller, req usecase.CreateCheckoutRequest) (*usecase.CreateCheckoutResult, error)
	VerifyFunc func(ctx context.Context, caller usecase.Caller, sessionID string) (*usecase.VerifyResult, error)
}

func (m *mockCheckout) Create(ctx context.Context, caller usecase.Caller, req usecase.CreateCheckoutRequest) (*usecase.CreateCheckoutResult, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, caller, req)
	}
	return &usecase.CreateCheckoutResult{URL: "https://checkout.test/cs_1"}, nil
}

func (m *mockCheckout) Verify(ctx context.Context, caller usecase.Caller, sessionID string) (*usecase.VerifyResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, caller, sessionID)
	}
	return &usecase.VerifyResult{Status: usecase.VerifyPaidUnlocked, ItemID: "ep-2"}, nil
}

type mockEpisodes struct {
	StartFunc  func(ctx context.Context, userID, episodeID string) (*usecase.EpisodeState, error)
	SubmitFunc func(ctx context.Context, userID, episodeID, sceneID string, action model.Action) (*usecase.SubmitResult, error)
}

func (m *mockEpisodes) Start(ctx context.Context, userID, episodeID string) (*usecase.EpisodeState, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, userID, episodeID)
	}
	return &usecase.EpisodeState{CurrentSceneID: "s1"}, nil
}

func (m *mockEpisodes) Submit(ctx context.Context, userID, episodeID, sceneID string, action model.Action) (*usecase.SubmitResult, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, userID, episodeID, sceneID, action)
	}
	next := "s2"
	return &usecase.SubmitResult{NextSceneID: &next}, nil
}

func (m *mockEpisodes) Restart(ctx context.Context, userID, episodeID string) (*usecase.EpisodeState, error) {
	return &usecase.EpisodeState{CurrentSceneID: "s1"}, nil
}

type mockWebhook struct {
	ProcessFunc func(ctx context.Context, payload []byte, signature string) error
	gotSig      string
}

func (m *mockWebhook) Process(ctx context.Context, payload []byte, signature string) error {
	m.gotSig = signature
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, payload, signature)
	}
	return nil
}

type mockThrottler struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func (m *mockThrottler) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
	return m.counts[key] <= limit, nil
}
