// Package label implements the unsupervised risk labeling engine: customer
// RFM profiling, seeded k-means segmentation and high-risk segment
// selection.
package label

import (
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BuildRFM collapses transactions into one Recency/Frequency/Monetary row
// per customer, measured against the snapshot date. Recency is whole days
// since the customer's latest transaction; a snapshot predating the data is
// a ConfigurationError rather than a silent negative recency.
func BuildRFM(txs []*domain.Transaction, snapshot time.Time) ([]domain.RFMProfile, error) {
	type acc struct {
		last     time.Time
		count    int
		monetary float64
	}

	byCustomer := make(map[string]*acc)
	for _, tx := range txs {
		if tx.CustomerID == "" {
			continue
		}
		a := byCustomer[tx.CustomerID]
		if a == nil {
			a = &acc{}
			byCustomer[tx.CustomerID] = a
		}
		a.count++
		a.monetary += tx.Amount
		if !tx.StartedAt.IsZero() && tx.StartedAt.After(a.last) {
			a.last = tx.StartedAt
		}
	}

	customers := make([]string, 0, len(byCustomer))
	for id := range byCustomer {
		customers = append(customers, id)
	}
	sort.Strings(customers)

	out := make([]domain.RFMProfile, 0, len(customers))
	skipped := 0
	for _, id := range customers {
		a := byCustomer[id]
		if a.last.IsZero() {
			// No usable timestamp for this customer, recency is undefined.
			skipped++
			continue
		}
		days := int(snapshot.Sub(a.last).Hours() / 24)
		if days < 0 {
			return nil, &domain.ConfigurationError{
				Reason: "snapshot date predates customer activity, recency would be negative",
			}
		}
		out = append(out, domain.RFMProfile{
			CustomerID: id,
			Recency:    days,
			Frequency:  a.count,
			Monetary:   a.monetary,
		})
	}

	if skipped > 0 {
		slog.Warn("customers without usable timestamps excluded from labeling",
			"customers", skipped,
		)
	}

	return out, nil
}

// standardize maps each RFM axis to zero mean and unit variance over the
// profiles. A zero-variance axis collapses to zeros so it cannot dominate
// the distance metric.
func standardize(profiles []domain.RFMProfile) [][]float64 {
	n := len(profiles)
	points := make([][]float64, n)
	for i, p := range profiles {
		points[i] = []float64{float64(p.Recency), float64(p.Frequency), p.Monetary}
	}
	if n == 0 {
		return points
	}

	for axis := 0; axis < 3; axis++ {
		vals := make([]float64, n)
		for i := range points {
			vals[i] = points[i][axis]
		}
		mean, std := meanPopStd(vals)
		for i := range points {
			if std == 0 {
				points[i][axis] = 0
				continue
			}
			points[i][axis] = (points[i][axis] - mean) / std
		}
	}
	return points
}
