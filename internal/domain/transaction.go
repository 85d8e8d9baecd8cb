package domain

import (
	"time"
)

// Transaction represents one raw transaction row as delivered by ingestion.
// Ingestion lower-cases source column names, so JSON field names here match
// the raw table schema.
type Transaction struct {
	// Core identifiers
	ID       string `json:"transactionid"`
	TenantID string `json:"tenantId"`

	// Customer identity. Never empty for a valid record.
	CustomerID string `json:"customerid"`

	// Lineage identifiers, dropped before modeling.
	AccountID      string `json:"accountid"`
	BatchID        string `json:"batchid"`
	SubscriptionID string `json:"subscriptionid"`

	// Financial details
	Amount       float64 `json:"amount"`
	Value        float64 `json:"value"`
	CurrencyCode string  `json:"currencycode"`
	CountryCode  string  `json:"countrycode"`

	// Product details
	ProviderID      string `json:"providerid"`
	ChannelID       string `json:"channelid"`
	ProductID       string `json:"productid"`
	ProductCategory string `json:"productcategory"`
	PricingStrategy string `json:"pricingstrategy"`

	// Upstream fraud screening outcome (0/1)
	FraudResult int `json:"fraudresult"`

	// Temporal. StartedAt may be zero when the source timestamp was
	// unparseable; derived temporal features then propagate as missing.
	StartedAt time.Time `json:"transactionstarttime"`
	CreatedAt time.Time `json:"createdAt"`
}

// CustomerProfile holds per-customer behavioral aggregates, recomputed from
// the transaction table and cached between labeling runs.
type CustomerProfile struct {
	CustomerID       string  `json:"customerId"`
	TotalAmount      float64 `json:"totalAmount"`
	AverageAmount    float64 `json:"averageAmount"`
	TransactionCount int64   `json:"transactionCount"`
	AmountStd        float64 `json:"amountStd"`

	// Labeled is true once a labeling run has assigned HighRisk.
	Labeled  bool `json:"labeled"`
	HighRisk bool `json:"highRisk"`
}

// RiskLabel is the proxy target assigned to a customer by the label engine.
type RiskLabel struct {
	TenantID      string    `json:"tenantId"`
	CustomerID    string    `json:"customerId"`
	HighRisk      bool      `json:"highRisk"`
	Segment       int       `json:"segment"`
	SegmentScore  float64   `json:"segmentScore"`
	BundleVersion string    `json:"bundleVersion"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RFMProfile is one customer's Recency/Frequency/Monetary row.
type RFMProfile struct {
	CustomerID string  `json:"customerId"`
	Recency    int     `json:"recency"`
	Frequency  int     `json:"frequency"`
	Monetary   float64 `json:"monetary"`
}

// Artifact is a versioned persisted blob (fitted pipeline bundle, classifier
// coefficients). Artifacts are written once at training time and read many
// times at inference time; there is no partial-update path.
type Artifact struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Kind      string    `json:"kind"`
	Version   string    `json:"version"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Artifact kinds.
const (
	ArtifactPipelineBundle = "pipeline_bundle"
	ArtifactClassifier     = "classifier"
)

// TimestampLayouts are the accepted source timestamp formats, tried in order.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a source timestamp against the accepted layouts.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ParseError{Column: "timestamp", Value: raw}
}
