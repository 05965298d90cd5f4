// Package repository resolves the repository a package was fetched from to
// the ID stored on its record.
package repository

import (
	"context"
	"fmt"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// DefaultMainRepositoryKey is the settings key naming the fallback repository.
const DefaultMainRepositoryKey = "main_repository_name"

// Lookup finds repositories by name.
type Lookup interface {
	LookupRepository(ctx context.Context, name string) (int64, bool, error)
}

// Settings reads host settings.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Resolver maps repository names to IDs, falling back to the operator's
// main repository when a package reports an alias the store does not know.
type Resolver struct {
	repos    Lookup
	settings Settings
	mainKey  string
}

// NewResolver creates a Resolver. An empty mainKey uses DefaultMainRepositoryKey.
func NewResolver(repos Lookup, settings Settings, mainKey string) *Resolver {
	if mainKey == "" {
		mainKey = DefaultMainRepositoryKey
	}
	return &Resolver{repos: repos, settings: settings, mainKey: mainKey}
}

// Resolve returns the ID of the named repository, or of the configured main
// repository when name is unknown. Returns addon.ErrRepositoryNotConfigured
// when neither resolves.
func (r *Resolver) Resolve(ctx context.Context, name string) (int64, error) {
	if name != "" {
		id, found, err := r.repos.LookupRepository(ctx, name)
		if err != nil {
			return 0, err
		}
		if found {
			return id, nil
		}
	}

	mainName, ok, err := r.settings.GetSetting(ctx, r.mainKey)
	if err != nil {
		return 0, err
	}
	if !ok || mainName == "" {
		return 0, fmt.Errorf("%w: %q is unknown and setting %s is not set", addon.ErrRepositoryNotConfigured, name, r.mainKey)
	}

	id, found, err := r.repos.LookupRepository(ctx, mainName)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: neither %q nor main repository %q is known", addon.ErrRepositoryNotConfigured, name, mainName)
	}
	return id, nil
}
