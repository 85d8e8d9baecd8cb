package label

import (
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Params configure one labeling run. Seed is mandatory: runs must be
// reproducible, so there is no implicit randomness source.
type Params struct {
	SnapshotDate time.Time
	Seed         int64
	Clusters     int
	ScoreExpr    string
}

// Result is the outcome of a labeling run.
type Result struct {
	Profiles    []domain.RFMProfile
	Assignments []int
	Centroids   [][]float64
	Scores      []float64
	HighRisk    int
	Labels      []*domain.RiskLabel
}

// Engine segments customers by RFM behavior and marks the highest-scoring
// segment high risk.
type Engine struct {
	scorer   *scoring.Engine
	clusters int
	seed     int64
	snapshot time.Time
}

// NewEngine validates params and compiles the scoring expression.
func NewEngine(p Params) (*Engine, error) {
	if p.Seed == 0 {
		return nil, &domain.ConfigurationError{
			Reason: "labeling seed is required, runs must be reproducible",
		}
	}
	if p.SnapshotDate.IsZero() {
		return nil, &domain.ConfigurationError{Reason: "snapshot date is required"}
	}
	clusters := p.Clusters
	if clusters == 0 {
		clusters = domain.DefaultClusterCount
	}
	if clusters < 2 {
		return nil, &domain.ConfigurationError{Reason: "at least two segments are required"}
	}

	scorer, err := scoring.New(p.ScoreExpr)
	if err != nil {
		return nil, err
	}

	return &Engine{
		scorer:   scorer,
		clusters: clusters,
		seed:     p.Seed,
		snapshot: p.SnapshotDate,
	}, nil
}

// Run profiles, segments and labels the given transaction population.
// The produced labels carry the given tenant and bundle version.
func (e *Engine) Run(tenantID, bundleVersion string, txs []*domain.Transaction) (*Result, error) {
	profiles, err := BuildRFM(txs, e.snapshot)
	if err != nil {
		return nil, err
	}
	if len(profiles) < e.clusters {
		return nil, &domain.InsufficientDataError{Needed: e.clusters, Got: len(profiles)}
	}

	points := standardize(profiles)
	centroids, assignments, err := kmeans(points, e.clusters, e.seed)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(centroids))
	highRisk := 0
	for c, centroid := range centroids {
		score, err := e.scorer.Score(centroid[0], centroid[1], centroid[2])
		if err != nil {
			return nil, err
		}
		scores[c] = score
		if score > scores[highRisk] {
			highRisk = c
		}
	}

	now := time.Now().UTC()
	labels := make([]*domain.RiskLabel, len(profiles))
	flagged := 0
	for i, p := range profiles {
		seg := assignments[i]
		if seg == highRisk {
			flagged++
		}
		labels[i] = &domain.RiskLabel{
			TenantID:      tenantID,
			CustomerID:    p.CustomerID,
			HighRisk:      seg == highRisk,
			Segment:       seg,
			SegmentScore:  scores[seg],
			BundleVersion: bundleVersion,
			CreatedAt:     now,
		}
	}

	slog.Info("labeling run complete",
		"tenant_id", tenantID,
		"customers", len(profiles),
		"segments", e.clusters,
		"high_risk_segment", highRisk,
		"high_risk_customers", flagged,
	)

	return &Result{
		Profiles:    profiles,
		Assignments: assignments,
		Centroids:   centroids,
		Scores:      scores,
		HighRisk:    highRisk,
		Labels:      labels,
	}, nil
}
