package repository

import (
	"context"

	"puzzlepass/internal/domain/model"
)

// EpisodeRepository reads story content.
type EpisodeRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Episode, error)
	FindScene(ctx context.Context, tx Tx, episodeID, sceneID string) (*model.Scene, error)
	FindSolution(ctx context.Context, tx Tx, episodeID, sceneID string) (*model.Solution, error)
	SaveEpisode(ctx context.Context, tx Tx, ep *model.Episode) error
	SaveScene(ctx context.Context, tx Tx, s *model.Scene) error
	SaveSolution(ctx context.Context, tx Tx, s *model.Solution) error
}

// ProgressRepository stores users' walks through episodes.
type ProgressRepository interface {
	Find(ctx context.Context, tx Tx, userID, episodeID string) (*model.Progress, error)
	Save(ctx context.Context, tx Tx, p *model.Progress) error
}
