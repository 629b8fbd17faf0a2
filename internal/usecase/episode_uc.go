package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
)

type EpisodeState struct {
	CurrentSceneID string `json:"currentSceneId"`
	Completed      bool   `json:"isCompleted"`
}

type SubmitResult struct {
	Completed   bool    `json:"isCompleted"`
	NextSceneID *string `json:"nextSceneId"`
}

// EpisodeUseCase walks a user through an episode's scenes.
type EpisodeUseCase struct {
	episodes     repository.EpisodeRepository
	progress     repository.ProgressRepository
	entitlements *EntitlementUseCase
	policy       *CheckoutPolicy
	log          *zerolog.Logger
}

func NewEpisodeUseCase(episodes repository.EpisodeRepository, progress repository.ProgressRepository, entitlements *EntitlementUseCase, policy *CheckoutPolicy, logger *zerolog.Logger) *EpisodeUseCase {
	return &EpisodeUseCase{episodes: episodes, progress: progress, entitlements: entitlements, policy: policy, log: logger}
}

func (u *EpisodeUseCase) Start(ctx context.Context, userID, episodeID string) (*EpisodeState, error) {
	ep, err := u.accessible(ctx, userID, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.StartSceneID == "" {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Episode missing startSceneId.")
	}
	p, err := u.progress.Find(ctx, nil, userID, episodeID)
	if err == nil {
		cur := p.CurrentSceneID
		if cur == "" {
			cur = ep.StartSceneID
		}
		return &EpisodeState{CurrentSceneID: cur, Completed: p.Completed}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Internal("Could not load progress.", err)
	}
	p = model.NewProgress(userID, ep, u.policy.now())
	if err := u.progress.Save(ctx, nil, p); err != nil {
		return nil, domain.Internal("Could not save progress.", err)
	}
	return &EpisodeState{CurrentSceneID: p.CurrentSceneID}, nil
}

func (u *EpisodeUseCase) Submit(ctx context.Context, userID, episodeID, sceneID string, action model.Action) (*SubmitResult, error) {
	if episodeID == "" || sceneID == "" || action.Type == "" {
		return nil, domain.NewError(domain.CodeInvalidArgument, "Missing episodeId/sceneId/action.")
	}
	if _, err := u.accessible(ctx, userID, episodeID); err != nil {
		return nil, err
	}

	p, err := u.progress.Find(ctx, nil, userID, episodeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Progress not started. Call startEpisode first.")
	}
	if err != nil {
		return nil, domain.Internal("Could not load progress.", err)
	}
	if p.Completed {
		return &SubmitResult{Completed: true}, nil
	}
	if p.CurrentSceneID != sceneID {
		return nil, domain.Errorf(domain.CodeFailedPrecondition, "Not on this scene. Current is %s.", p.CurrentSceneID)
	}

	scene, err := u.episodes.FindScene(ctx, nil, episodeID, sceneID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "Scene not found.")
	}
	if err != nil {
		return nil, domain.Internal("Could not load scene.", err)
	}
	var sol *model.Solution
	if scene.NeedsSolution() {
		sol, err = u.episodes.FindSolution(ctx, nil, episodeID, sceneID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Internal("Could not load solution.", err)
		}
	}
	if err := scene.Check(action, sol); err != nil {
		return nil, err
	}

	p.Advance(scene.NextSceneID, u.policy.now())
	if err := u.progress.Save(ctx, nil, p); err != nil {
		return nil, domain.Internal("Could not save progress.", err)
	}
	if p.Completed {
		logging.With(ctx, u.log).Info().Str("episode_id", episodeID).Msg("episode completed")
		return &SubmitResult{Completed: true}, nil
	}
	next := p.CurrentSceneID
	return &SubmitResult{NextSceneID: &next}, nil
}

func (u *EpisodeUseCase) Restart(ctx context.Context, userID, episodeID string) (*EpisodeState, error) {
	ep, err := u.accessible(ctx, userID, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.StartSceneID == "" {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Episode missing startSceneId.")
	}
	p := model.NewProgress(userID, ep, u.policy.now())
	if err := u.progress.Save(ctx, nil, p); err != nil {
		return nil, domain.Internal("Could not save progress.", err)
	}
	return &EpisodeState{CurrentSceneID: p.CurrentSceneID}, nil
}

// accessible loads a published episode the user may play.
func (u *EpisodeUseCase) accessible(ctx context.Context, userID, episodeID string) (*model.Episode, error) {
	if episodeID == "" {
		return nil, domain.NewError(domain.CodeInvalidArgument, "Missing episodeId.")
	}
	ep, err := u.episodes.FindByID(ctx, nil, episodeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeNotFound, "Episode not found.")
	}
	if err != nil {
		return nil, domain.Internal(fmt.Sprintf("Could not load episode %s.", episodeID), err)
	}
	if !ep.Published {
		return nil, domain.NewError(domain.CodePermissionDenied, "Episode is not published.")
	}
	ent, err := u.entitlements.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ent.CanAccess(ep) {
		return nil, domain.NewError(domain.CodePermissionDenied, "Episode is locked. Purchase required.")
	}
	return ep, nil
}
