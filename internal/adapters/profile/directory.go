// Package profile provides trainer profile sources: an in-process directory
// and an HTTP client for a remote user-management service.
package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/okian/workload/internal/domain/model"
)

// Directory is an in-process trainer profile store.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]model.TrainerProfile
}

// NewDirectory creates a directory holding seed.
func NewDirectory(seed ...model.TrainerProfile) *Directory {
	d := &Directory{profiles: make(map[string]model.TrainerProfile, len(seed))}
	for _, p := range seed {
		_ = d.Upsert(context.Background(), p)
	}
	return d
}

// Upsert stores the identity of p, replacing any previous profile.
func (d *Directory) Upsert(_ context.Context, p model.TrainerProfile) error {
	u := strings.TrimSpace(p.Username)
	if u == "" {
		return model.ErrInvalidUsername
	}
	p = p.IdentityOnly()
	p.Username = u
	if p.Status == "" {
		p.Status = model.StatusActive
	}

	d.mu.Lock()
	d.profiles[u] = p
	d.mu.Unlock()
	return nil
}

// FetchByUsername returns the profile for username.
func (d *Directory) FetchByUsername(_ context.Context, username string) (model.TrainerProfile, error) {
	u := strings.TrimSpace(username)
	if u == "" {
		return model.TrainerProfile{}, model.ErrInvalidUsername
	}

	d.mu.RLock()
	p, ok := d.profiles[u]
	d.mu.RUnlock()
	if !ok {
		return model.TrainerProfile{}, fmt.Errorf("%w: %s", model.ErrTrainerNotFound, u)
	}
	return p, nil
}

// ListTrainers returns every profile ordered by username.
func (d *Directory) ListTrainers(_ context.Context) ([]model.TrainerProfile, error) {
	d.mu.RLock()
	out := make([]model.TrainerProfile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, p)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Len returns the number of stored profiles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.profiles)
}
