package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
)

var (
	_ repository.EpisodeRepository  = (*episodeRepo)(nil)
	_ repository.ProgressRepository = (*progressRepo)(nil)
)

type episodeRepo struct {
	pool *pgxpool.Pool
}

func NewEpisodeRepo(pool *pgxpool.Pool) *episodeRepo {
	return &episodeRepo{pool: pool}
}

func (r *episodeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Episode, error) {
	const q = `
SELECT id, title, published, free_preview, start_scene_id, stripe_price_id
  FROM episodes WHERE id = $1;`
	var ep model.Episode
	err := pickRow(ctx, r.pool, tx, q, id).Scan(&ep.ID, &ep.Title, &ep.Published, &ep.FreePreview, &ep.StartSceneID, &ep.StripePriceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find episode: %w", err)
	}
	return &ep, nil
}

func (r *episodeRepo) FindScene(ctx context.Context, tx repository.Tx, episodeID, sceneID string) (*model.Scene, error) {
	const q = `
SELECT episode_id, id, type, title, body, options, next_scene_id
  FROM scenes WHERE episode_id = $1 AND id = $2;`
	var (
		s       model.Scene
		typ     string
		options []byte
	)
	err := pickRow(ctx, r.pool, tx, q, episodeID, sceneID).Scan(&s.EpisodeID, &s.ID, &typ, &s.Title, &s.Body, &options, &s.NextSceneID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find scene: %w", err)
	}
	s.Type = model.SceneType(typ)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &s.Options); err != nil {
			return nil, fmt.Errorf("decode scene options: %w", err)
		}
	}
	return &s, nil
}

func (r *episodeRepo) FindSolution(ctx context.Context, tx repository.Tx, episodeID, sceneID string) (*model.Solution, error) {
	const q = `
SELECT episode_id, scene_id, answer, correct_option_id
  FROM scene_solutions WHERE episode_id = $1 AND scene_id = $2;`
	var s model.Solution
	err := pickRow(ctx, r.pool, tx, q, episodeID, sceneID).Scan(&s.EpisodeID, &s.SceneID, &s.Answer, &s.CorrectOptionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find solution: %w", err)
	}
	return &s, nil
}

func (r *episodeRepo) SaveEpisode(ctx context.Context, tx repository.Tx, ep *model.Episode) error {
	const q = `
INSERT INTO episodes (id, title, published, free_preview, start_scene_id, stripe_price_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  title = $2, published = $3, free_preview = $4, start_scene_id = $5, stripe_price_id = $6;`
	if _, err := execSQL(ctx, r.pool, tx, q, ep.ID, ep.Title, ep.Published, ep.FreePreview, ep.StartSceneID, ep.StripePriceID); err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	return nil
}

func (r *episodeRepo) SaveScene(ctx context.Context, tx repository.Tx, s *model.Scene) error {
	options := s.Options
	if options == nil {
		options = []model.SceneOption{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encode scene options: %w", err)
	}
	const q = `
INSERT INTO scenes (episode_id, id, type, title, body, options, next_scene_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (episode_id, id) DO UPDATE SET
  type = $3, title = $4, body = $5, options = $6, next_scene_id = $7;`
	if _, err := execSQL(ctx, r.pool, tx, q, s.EpisodeID, s.ID, string(s.Type), s.Title, s.Body, raw, s.NextSceneID); err != nil {
		return fmt.Errorf("save scene: %w", err)
	}
	return nil
}

func (r *episodeRepo) SaveSolution(ctx context.Context, tx repository.Tx, s *model.Solution) error {
	const q = `
INSERT INTO scene_solutions (episode_id, scene_id, answer, correct_option_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (episode_id, scene_id) DO UPDATE SET answer = $3, correct_option_id = $4;`
	if _, err := execSQL(ctx, r.pool, tx, q, s.EpisodeID, s.SceneID, s.Answer, s.CorrectOptionID); err != nil {
		return fmt.Errorf("save solution: %w", err)
	}
	return nil
}

type progressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *progressRepo {
	return &progressRepo{pool: pool}
}

func (r *progressRepo) Find(ctx context.Context, tx repository.Tx, userID, episodeID string) (*model.Progress, error) {
	const q = `
SELECT user_id, episode_id, current_scene_id, completed_scene_ids, completed, started_at, updated_at, completed_at
  FROM progress WHERE user_id = $1 AND episode_id = $2;`
	var p model.Progress
	err := pickRow(ctx, r.pool, tx, q, userID, episodeID).Scan(
		&p.UserID, &p.EpisodeID, &p.CurrentSceneID, &p.CompletedSceneIDs, &p.Completed, &p.StartedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return &p, nil
}

func (r *progressRepo) Save(ctx context.Context, tx repository.Tx, p *model.Progress) error {
	done := p.CompletedSceneIDs
	if done == nil {
		done = []string{}
	}
	const q = `
INSERT INTO progress (user_id, episode_id, current_scene_id, completed_scene_ids, completed, started_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, episode_id) DO UPDATE SET
  current_scene_id = $3, completed_scene_ids = $4, completed = $5,
  started_at = $6, updated_at = $7, completed_at = $8;`
	if _, err := execSQL(ctx, r.pool, tx, q, p.UserID, p.EpisodeID, p.CurrentSceneID, done, p.Completed, p.StartedAt, p.UpdatedAt, p.CompletedAt); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}
