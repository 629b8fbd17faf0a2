//go:build !integration

package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"puzzlepass/internal/config"
	"puzzlepass/internal/usecase"
)

func TestNewCheckoutPolicy(t *testing.T) {
	t.Run("should copy checkout settings and the anonymous restriction", func(t *testing.T) {
		// Arrange
		cfg := &config.Config{
			Checkout: config.CheckoutConfig{
				AppBaseURL:     "https://play.puzzlepass.app",
				AllowedSchemes: []string{"puzzlepass"},
				Limit:          3,
				Window:         time.Minute,
				Reuse:          15 * time.Minute,
				CreatingGrace:  20 * time.Second,
				RateLimitTTL:   2 * time.Minute,
				AttemptTTL:     time.Hour,
				EventTTL:       48 * time.Hour,
			},
			Auth: config.AuthConfig{RequireNonAnonCheckout: true},
		}

		// Act
		p := usecase.NewCheckoutPolicy(cfg)

		// Assert
		assert.Equal(t, 3, p.Limit)
		assert.Equal(t, time.Minute, p.Window)
		assert.Equal(t, 15*time.Minute, p.Reuse)
		assert.Equal(t, 20*time.Second, p.CreatingGrace)
		assert.Equal(t, 2*time.Minute, p.RateLimitTTL)
		assert.Equal(t, time.Hour, p.AttemptTTL)
		assert.Equal(t, 48*time.Hour, p.EventTTL)
		assert.Equal(t, "https://play.puzzlepass.app", p.Redirect.AppBaseURL)
		assert.Equal(t, []string{"puzzlepass"}, p.Redirect.AllowedSchemes)
		assert.True(t, p.RequireNonAnonymous)
		assert.Nil(t, p.Now)
	})

	t.Run("should namespace provider idempotency keys by attempt", func(t *testing.T) {
		assert.Equal(t, "pps_attempt_a1", usecase.IdempotencyKey("a1"))
	})
}
