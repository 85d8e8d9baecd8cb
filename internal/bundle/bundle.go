// Package bundle persists and restores the versioned fitted-state bundle:
// the pipeline's fitted stage states plus the run metadata needed to
// reproduce it.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Bundle is one immutable fitted-state snapshot. Version identifies the
// bundle itself; Pipeline.Version identifies the pipeline definition that
// produced it.
type Bundle struct {
	Version      string                  `json:"version"`
	TenantID     string                  `json:"tenantId"`
	SnapshotDate time.Time               `json:"snapshotDate"`
	Seed         int64                   `json:"seed"`
	ScoreExpr    string                  `json:"scoreExpr"`
	Pipeline     *features.PipelineState `json:"pipeline"`
	CreatedAt    time.Time               `json:"createdAt"`
}

// New snapshots a fitted pipeline into a freshly versioned bundle.
func New(tenantID string, p *features.Pipeline, snapshotDate time.Time, seed int64, scoreExpr string) (*Bundle, error) {
	state, err := p.State()
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Version:      uuid.New().String(),
		TenantID:     tenantID,
		SnapshotDate: snapshotDate,
		Seed:         seed,
		ScoreExpr:    scoreExpr,
		Pipeline:     state,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// BuildPipeline rebuilds a fitted serving pipeline from the bundle.
func (b *Bundle) BuildPipeline() (*features.Pipeline, error) {
	if b.Pipeline == nil {
		return nil, &domain.ConfigurationError{Reason: "bundle carries no pipeline state"}
	}
	p := features.Default()
	if err := p.Restore(b.Pipeline); err != nil {
		return nil, err
	}
	return p, nil
}

// Store persists bundles as repository artifacts.
type Store struct {
	repo domain.Repository
}

// NewStore creates a bundle store over the repository.
func NewStore(repo domain.Repository) *Store {
	return &Store{repo: repo}
}

// Save persists the bundle. Bundles are written once; a refit produces a
// new version rather than mutating an old one.
func (s *Store) Save(ctx context.Context, b *Bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	return s.repo.SaveArtifact(ctx, b.TenantID, &domain.Artifact{
		ID:        uuid.New().String(),
		TenantID:  b.TenantID,
		Kind:      domain.ArtifactPipelineBundle,
		Version:   b.Version,
		Payload:   payload,
		CreatedAt: b.CreatedAt,
	})
}

// Latest loads the most recent bundle for a tenant.
func (s *Store) Latest(ctx context.Context, tenantID string) (*Bundle, error) {
	artifact, err := s.repo.GetLatestArtifact(ctx, tenantID, domain.ArtifactPipelineBundle)
	if err != nil {
		return nil, err
	}
	return Decode(artifact)
}

// Decode unpacks a bundle artifact and validates it is usable by this
// pipeline version.
func Decode(artifact *domain.Artifact) (*Bundle, error) {
	if artifact.Kind != domain.ArtifactPipelineBundle {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("artifact kind %q is not a pipeline bundle", artifact.Kind),
		}
	}
	var b Bundle
	if err := json.Unmarshal(artifact.Payload, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle artifact: %w", err)
	}
	if b.Pipeline == nil {
		return nil, &domain.ConfigurationError{Reason: "bundle carries no pipeline state"}
	}
	if b.Pipeline.Version != features.Version {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("bundle pipeline version %q is incompatible with %q",
				b.Pipeline.Version, features.Version),
		}
	}
	return &b, nil
}
