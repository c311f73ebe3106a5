package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
)

// DefaultModelTimeout bounds every model round-trip.
const DefaultModelTimeout = 45 * time.Second

// Generate runs one model call bounded by timeout. Failures match
// domain.ErrModelUnavailable.
func Generate(ctx context.Context, timeout time.Duration, model llm.Model, persona llm.Persona, turns []domain.Turn) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(timeout))
	defer cancel()
	resp, err := model.Generate(ctx, persona, turns)
	if err != nil {
		return nil, asModelError(err)
	}
	return resp, nil
}

func countTokens(ctx context.Context, timeout time.Duration, model llm.Model, turns []domain.Turn) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(timeout))
	defer cancel()
	n, err := model.CountTokens(ctx, turns)
	if err != nil {
		return 0, asModelError(err)
	}
	return n, nil
}

// asModelError makes every provider failure, including timeouts, match
// domain.ErrModelUnavailable.
func asModelError(err error) error {
	if errors.Is(err, domain.ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultModelTimeout
	}
	return d
}
