// Package catalog loads episode content from YAML and writes it to the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
)

type Catalog struct {
	Episodes []Episode `yaml:"episodes"`
}

type Episode struct {
	ID            string  `yaml:"id"`
	Title         string  `yaml:"title"`
	Published     bool    `yaml:"published"`
	FreePreview   bool    `yaml:"free_preview"`
	StripePriceID string  `yaml:"stripe_price_id"`
	StartSceneID  string  `yaml:"start_scene"`
	Scenes        []Scene `yaml:"scenes"`
}

type Scene struct {
	ID      string              `yaml:"id"`
	Type    model.SceneType     `yaml:"type"`
	Title   string              `yaml:"title"`
	Body    string              `yaml:"body"`
	Options []model.SceneOption `yaml:"options"`
	Next    string              `yaml:"next"`

	// Solution fields, stored apart from the scene.
	Answer        string `yaml:"answer"`
	CorrectOption string `yaml:"correct_option"`
}

func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that scene links resolve and puzzle scenes carry a solution.
func (c *Catalog) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, ep := range c.Episodes {
		if ep.ID == "" {
			errs = append(errs, errors.New("episode without id"))
			continue
		}
		if seen[ep.ID] {
			errs = append(errs, fmt.Errorf("episode %s: duplicate id", ep.ID))
		}
		seen[ep.ID] = true
		if ep.Published && !ep.FreePreview && ep.StripePriceID == "" {
			errs = append(errs, fmt.Errorf("episode %s: paid episode needs stripe_price_id", ep.ID))
		}

		scenes := map[string]bool{}
		for _, s := range ep.Scenes {
			scenes[s.ID] = true
		}
		if len(ep.Scenes) > 0 && ep.StartSceneID == "" {
			ep.StartSceneID = ep.Scenes[0].ID
		}
		if ep.StartSceneID != "" && !scenes[ep.StartSceneID] {
			errs = append(errs, fmt.Errorf("episode %s: start scene %q not found", ep.ID, ep.StartSceneID))
		}
		for _, s := range ep.Scenes {
			if s.Next != "" && !scenes[s.Next] {
				errs = append(errs, fmt.Errorf("episode %s scene %s: next %q not found", ep.ID, s.ID, s.Next))
			}
			switch s.Type {
			case model.SceneStory:
			case model.SceneCodeEntry:
				if s.Answer == "" {
					errs = append(errs, fmt.Errorf("episode %s scene %s: code entry needs answer", ep.ID, s.ID))
				}
			case model.SceneChoice:
				if !hasOption(s.Options, s.CorrectOption) {
					errs = append(errs, fmt.Errorf("episode %s scene %s: correct_option %q is not an option", ep.ID, s.ID, s.CorrectOption))
				}
			default:
				errs = append(errs, fmt.Errorf("episode %s scene %s: unknown type %q", ep.ID, s.ID, s.Type))
			}
		}
	}
	return errors.Join(errs...)
}

func hasOption(opts []model.SceneOption, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

// Apply upserts every episode, scene and solution in one transaction.
func (c *Catalog) Apply(ctx context.Context, tm repository.TransactionManager, repo repository.EpisodeRepository) (int, error) {
	n := 0
	err := tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		n = 0
		for _, ep := range c.Episodes {
			start := ep.StartSceneID
			if start == "" && len(ep.Scenes) > 0 {
				start = ep.Scenes[0].ID
			}
			if err := repo.SaveEpisode(ctx, tx, &model.Episode{
				ID:            ep.ID,
				Title:         ep.Title,
				Published:     ep.Published,
				FreePreview:   ep.FreePreview,
				StartSceneID:  start,
				StripePriceID: ep.StripePriceID,
			}); err != nil {
				return fmt.Errorf("episode %s: %w", ep.ID, err)
			}
			for _, s := range ep.Scenes {
				if err := repo.SaveScene(ctx, tx, &model.Scene{
					EpisodeID:   ep.ID,
					ID:          s.ID,
					Type:        s.Type,
					Title:       s.Title,
					Body:        s.Body,
					Options:     s.Options,
					NextSceneID: s.Next,
				}); err != nil {
					return fmt.Errorf("episode %s scene %s: %w", ep.ID, s.ID, err)
				}
				if s.Type == model.SceneStory {
					continue
				}
				if err := repo.SaveSolution(ctx, tx, &model.Solution{
					EpisodeID:       ep.ID,
					SceneID:         s.ID,
					Answer:          s.Answer,
					CorrectOptionID: s.CorrectOption,
				}); err != nil {
					return fmt.Errorf("episode %s solution %s: %w", ep.ID, s.ID, err)
				}
			}
			n++
		}
		return nil
	})
	return n, err
}
