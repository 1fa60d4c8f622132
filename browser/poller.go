// Package browser wraps a Chrome DevTools session behind the small
// surface the spiders need, and implements the scroll convergence
// detector for infinite-scroll pages.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrScrollBudget is returned when the scroll cap was reached before
// the page height converged.
var ErrScrollBudget = errors.New("scroll budget exhausted before page height converged")

// Scroller is the slice of a session the poller drives.
type Scroller interface {
	ScrollBottom(ctx context.Context) error
	ContentHeight(ctx context.Context) (int64, error)
}

// Poller decides when a dynamically-growing page has stopped loading.
// It repeatedly scrolls to the bottom, waits SettleDelay, and reads the
// content height; it stops once the height has been unchanged for
// StabilityChecks consecutive readings. One unchanged reading is not
// enough: a slow batch can produce a false plateau, so any growth
// resets the count.
type Poller struct {
	SettleDelay     time.Duration
	StabilityChecks int
	// MaxScrolls caps the number of scroll commands; zero means no cap,
	// which does not terminate on a page that grows without bound.
	MaxScrolls int
}

// WaitConverged scrolls s until the height is stable. On error the
// caller keeps whatever content has already loaded.
func (p Poller) WaitConverged(ctx context.Context, s Scroller) error {
	checks := p.StabilityChecks
	if checks <= 0 {
		checks = 1
	}

	height, err := s.ContentHeight(ctx)
	if err != nil {
		return err
	}
	slog.Debug("scroll loop starting", slog.Int64("height", height))

	stable := 0
	for scrolls := 0; p.MaxScrolls <= 0 || scrolls < p.MaxScrolls; scrolls++ {
		if err := s.ScrollBottom(ctx); err != nil {
			return err
		}

		select {
		case <-time.After(p.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		current, err := s.ContentHeight(ctx)
		if err != nil {
			return err
		}
		slog.Debug("scroll loop reading", slog.Int64("height", current), slog.Int("stable", stable))

		if current == height {
			stable++
		} else {
			stable = 0
			height = current
		}
		if stable >= checks {
			return nil
		}
	}

	return ErrScrollBudget
}
