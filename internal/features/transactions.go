package features

import (
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// TableFromTransactions builds the canonical raw table from stored
// transactions, one row per transaction, columns in source order. A zero
// StartedAt becomes a missing timestamp cell so temporal extraction
// propagates the gap instead of inventing epoch features.
func TableFromTransactions(txs []*domain.Transaction) *frame.Frame {
	n := len(txs)
	f := frame.New(n)

	ids := make([]string, n)
	accounts := make([]string, n)
	batches := make([]string, n)
	subscriptions := make([]string, n)
	customers := make([]string, n)
	currencies := make([]string, n)
	countries := make([]float64, n)
	providers := make([]string, n)
	channels := make([]string, n)
	products := make([]string, n)
	categories := make([]string, n)
	pricing := make([]float64, n)
	amounts := make([]float64, n)
	values := make([]float64, n)
	fraud := make([]float64, n)
	starts := make([]string, n)
	startMiss := make([]bool, n)

	for i, tx := range txs {
		ids[i] = tx.ID
		accounts[i] = tx.AccountID
		batches[i] = tx.BatchID
		subscriptions[i] = tx.SubscriptionID
		customers[i] = tx.CustomerID
		currencies[i] = tx.CurrencyCode
		countries[i] = float64(numericCode(tx.CountryCode))
		providers[i] = tx.ProviderID
		channels[i] = tx.ChannelID
		products[i] = tx.ProductID
		categories[i] = tx.ProductCategory
		pricing[i] = float64(numericCode(tx.PricingStrategy))
		amounts[i] = tx.Amount
		values[i] = tx.Value
		fraud[i] = float64(tx.FraudResult)
		if tx.StartedAt.IsZero() {
			startMiss[i] = true
		} else {
			starts[i] = tx.StartedAt.UTC().Format(time.RFC3339)
		}
	}

	f.Add(ColTransactionID, frame.NewStringColumn(ids, nil))
	f.Add(ColBatchID, frame.NewStringColumn(batches, nil))
	f.Add(ColAccountID, frame.NewStringColumn(accounts, nil))
	f.Add(ColSubscriptionID, frame.NewStringColumn(subscriptions, nil))
	f.Add(ColCustomerID, frame.NewStringColumn(customers, nil))
	f.Add(ColCurrencyCode, frame.NewStringColumn(currencies, nil))
	f.Add(ColCountryCode, frame.NewNumericColumn(countries, nil))
	f.Add(ColProviderID, frame.NewStringColumn(providers, nil))
	f.Add(ColProductID, frame.NewStringColumn(products, nil))
	f.Add(ColProductCategory, frame.NewStringColumn(categories, nil))
	f.Add(ColChannelID, frame.NewStringColumn(channels, nil))
	f.Add(ColAmount, frame.NewNumericColumn(amounts, nil))
	f.Add(ColValue, frame.NewNumericColumn(values, nil))
	f.Add(ColStartTime, frame.NewStringColumn(starts, startMiss))
	f.Add(ColPricingStrategy, frame.NewNumericColumn(pricing, nil))
	f.Add(ColFraudResult, frame.NewNumericColumn(fraud, nil))

	return f
}

// Record shapes one transaction into the field→value form TransformOne
// consumes.
func Record(tx *domain.Transaction) map[string]any {
	var start any
	if !tx.StartedAt.IsZero() {
		start = tx.StartedAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		ColTransactionID:   tx.ID,
		ColBatchID:         tx.BatchID,
		ColAccountID:       tx.AccountID,
		ColSubscriptionID:  tx.SubscriptionID,
		ColCustomerID:      tx.CustomerID,
		ColCurrencyCode:    tx.CurrencyCode,
		ColCountryCode:     numericCode(tx.CountryCode),
		ColProviderID:      tx.ProviderID,
		ColProductID:       tx.ProductID,
		ColProductCategory: tx.ProductCategory,
		ColChannelID:       tx.ChannelID,
		ColAmount:          tx.Amount,
		ColValue:           tx.Value,
		ColStartTime:       start,
		ColPricingStrategy: numericCode(tx.PricingStrategy),
		ColFraudResult:     tx.FraudResult,
	}
}

// numericCode maps a numeric code string (country, pricing strategy) to its
// integer form, falling back to 0 for non-numeric values.
func numericCode(code string) int {
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}
