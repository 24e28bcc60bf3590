package app

import (
	"context"
	"errors"
	"fmt"

	"dayline/internal/domain"
	"dayline/internal/repo"
)

// ResolveProfile picks the active user profile: the override when given,
// otherwise the single profile in the workspace.
func ResolveProfile(ctx context.Context, r repo.Repo, userOverride string) (domain.Profile, error) {
	if userOverride != "" {
		p, err := r.GetProfile(ctx, userOverride)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Profile{}, fmt.Errorf("no profile for user %s; run 'dl start' first", userOverride)
			}
			return domain.Profile{}, err
		}
		return p, nil
	}
	p, err := r.SingleProfile(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Profile{}, fmt.Errorf("no profile in workspace; run 'dl start' first")
		}
		return domain.Profile{}, err
	}
	return p, nil
}
