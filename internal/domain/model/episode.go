package model

import (
	"slices"
	"strings"
	"time"

	"puzzlepass/internal/domain"
)

// Episode is a purchasable item.
type Episode struct {
	ID            string
	Title         string
	Published     bool
	FreePreview   bool
	StartSceneID  string
	StripePriceID string
}

type SceneType string

const (
	SceneStory     SceneType = "story"
	SceneCodeEntry SceneType = "code_entry"
	SceneChoice    SceneType = "choice"
)

type SceneOption struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Scene is a position inside an episode. NextSceneID is empty on the last scene.
type Scene struct {
	EpisodeID   string
	ID          string
	Type        SceneType
	Title       string
	Body        string
	Options     []SceneOption
	NextSceneID string
}

// Solution holds the expected answer of a puzzle scene. It is never sent to clients.
type Solution struct {
	EpisodeID       string
	SceneID         string
	Answer          string
	CorrectOptionID string
}

// Action is what the player submits on a scene.
type Action struct {
	Type     string `json:"type" validate:"required,oneof=continue code choice"`
	Code     string `json:"code,omitempty"`
	OptionID string `json:"optionId,omitempty"`
}

// Check validates action against the scene and its solution.
// sol may be nil for story scenes.
func (s *Scene) Check(a Action, sol *Solution) error {
	switch s.Type {
	case SceneStory:
		if a.Type != "continue" {
			return domain.NewError(domain.CodeInvalidArgument, "Story requires action.type=continue.")
		}
	case SceneCodeEntry:
		if a.Type != "code" {
			return domain.NewError(domain.CodeInvalidArgument, "Code scene requires action.type=code.")
		}
		if sol == nil {
			return domain.NewError(domain.CodeFailedPrecondition, "Missing solution.")
		}
		expected := strings.TrimSpace(sol.Answer)
		if expected == "" || strings.TrimSpace(a.Code) != expected {
			return domain.NewError(domain.CodePermissionDenied, "Wrong code.")
		}
	case SceneChoice:
		if a.Type != "choice" {
			return domain.NewError(domain.CodeInvalidArgument, "Choice scene requires action.type=choice.")
		}
		if sol == nil {
			return domain.NewError(domain.CodeFailedPrecondition, "Missing solution.")
		}
		expected := strings.TrimSpace(sol.CorrectOptionID)
		if expected == "" || strings.TrimSpace(a.OptionID) != expected {
			return domain.NewError(domain.CodePermissionDenied, "Wrong choice.")
		}
	}
	return nil
}

// NeedsSolution reports whether the scene is a puzzle.
func (s *Scene) NeedsSolution() bool {
	return s.Type == SceneCodeEntry || s.Type == SceneChoice
}

// Progress is a user's walk through one episode.
type Progress struct {
	UserID            string
	EpisodeID         string
	CurrentSceneID    string
	CompletedSceneIDs []string
	Completed         bool
	StartedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NewProgress starts (or restarts) an episode at its first scene.
func NewProgress(userID string, ep *Episode, now time.Time) *Progress {
	return &Progress{
		UserID:            userID,
		EpisodeID:         ep.ID,
		CurrentSceneID:    ep.StartSceneID,
		CompletedSceneIDs: []string{},
		StartedAt:         now,
		UpdatedAt:         now,
	}
}

// Advance marks the current scene done and moves to next, completing the
// episode when next is empty.
func (p *Progress) Advance(next string, now time.Time) {
	if !slices.Contains(p.CompletedSceneIDs, p.CurrentSceneID) {
		p.CompletedSceneIDs = append(p.CompletedSceneIDs, p.CurrentSceneID)
	}
	p.UpdatedAt = now
	if next == "" {
		p.Completed = true
		p.CompletedAt = &now
		return
	}
	p.CurrentSceneID = next
}
