package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/profile"
)

// ProfileRepository keeps profiles keyed by patient id with the same version
// rules as the Postgres table.
type ProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
}

// NewProfileRepository creates an empty repository
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{profiles: make(map[string]*profile.Profile)}
}

var _ profile.Repository = (*ProfileRepository)(nil)

func (r *ProfileRepository) Get(_ context.Context, patientID string) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[patientID]
	if !ok {
		return nil, apperrors.NotFound("profile", patientID)
	}
	return p.Clone(), nil
}

func (r *ProfileRepository) Save(_ context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, exists := r.profiles[p.PatientID]
	switch {
	case p.Version == 0 && exists:
		return fmt.Errorf("%w: profile for %s was created concurrently", profile.ErrVersionConflict, p.PatientID)
	case p.Version != 0 && (!exists || cur.Version != p.Version):
		return fmt.Errorf("%w: profile for %s changed since version %d", profile.ErrVersionConflict, p.PatientID, p.Version)
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	r.profiles[p.PatientID] = p.Clone()
	return nil
}
