// Benchmark tool for replaying a transactions CSV against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads raw transaction data (Xente-style columns, with fraud labels)
//   2. Ingests every row through POST /transactions
//   3. Triggers an RFM labeling run and waits for the fitted bundle
//   4. Scores each customer's latest transaction through POST /score
//   5. Reports a confusion matrix of predicted high-risk vs engine labels
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// rawColumns is the ingest payload column order.
var rawColumns = []string{
	"transactionid", "batchid", "accountid", "subscriptionid", "customerid",
	"currencycode", "countrycode", "providerid", "productid",
	"productcategory", "channelid", "amount", "value",
	"transactionstarttime", "pricingstrategy", "fraudresult",
}

// ScoreResponse is the POST /score response format.
type ScoreResponse struct {
	Probability   float64 `json:"probability"`
	HighRisk      bool    `json:"highRisk"`
	BundleVersion string  `json:"bundleVersion"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // label high-risk, scored high-risk
	FalsePositives int64 // label low-risk, scored high-risk
	TrueNegatives  int64 // label low-risk, scored low-risk
	FalseNegatives int64 // label high-risk, scored low-risk

	TotalScored int64
	TotalErrors int64

	ScoringTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to transactions CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to ingest (0 = all)")
	batchSize := flag.Int("batch", 500, "Ingest batch size")
	seed := flag.Int64("seed", 17, "Labeling seed")
	snapshot := flag.String("snapshot", "", "Snapshot date (default: day after newest transaction)")
	workers := flag.Int("workers", 10, "Number of concurrent scoring workers")
	verbose := flag.Bool("verbose", false, "Print each customer result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Transaction Replay                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	records, err := readTransactionsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(records))

	client := &http.Client{Timeout: 30 * time.Second}

	fmt.Printf("\nIngesting in batches of %d...\n", *batchSize)
	ingestStart := time.Now()
	if err := ingest(client, *baseURL, *tenantID, records, *batchSize); err != nil {
		fmt.Printf("ERROR: Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Ingested %d transactions in %v\n", len(records), time.Since(ingestStart).Round(time.Millisecond))

	snapshotDate := *snapshot
	if snapshotDate == "" {
		snapshotDate = defaultSnapshot(records)
	}
	fmt.Printf("\nRunning labeling (snapshot %s, seed %d)...\n", snapshotDate, *seed)
	if err := runLabeling(client, *baseURL, *tenantID, snapshotDate, *seed); err != nil {
		fmt.Printf("ERROR: Labeling failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Labels written")

	if err := ensureModel(client, *baseURL, *tenantID); err != nil {
		fmt.Printf("ERROR: Model setup failed: %v\n", err)
		os.Exit(1)
	}

	latest := latestPerCustomer(records)
	fmt.Printf("\nScoring %d customers with %d workers...\n", len(latest), *workers)
	startTime := time.Now()
	metrics := runScoring(client, *baseURL, *tenantID, latest, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readTransactionsCSV loads the CSV into raw record maps, one per row.
// Column typing (numeric vs string) follows the frame reader's inference.
func readTransactionsCSV(path string, limit int) ([]map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := frame.ReadCSV(file)
	if err != nil {
		return nil, err
	}

	rows := f.Rows()
	if limit > 0 && rows > limit {
		rows = limit
	}

	records := make([]map[string]any, 0, rows)
	for i := 0; i < rows; i++ {
		rec := make(map[string]any, len(rawColumns))
		for _, name := range rawColumns {
			col := f.Col(name)
			if col == nil || col.Missing(i) {
				rec[name] = nil
				continue
			}
			if col.Kind() == frame.Numeric {
				rec[name] = col.Float(i)
			} else {
				rec[name] = col.Str(i)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func cellString(rec map[string]any, name string) string {
	switch v := rec[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func cellFloat(rec map[string]any, name string) float64 {
	if v, ok := rec[name].(float64); ok {
		return v
	}
	return 0
}

func ingest(client *http.Client, baseURL, tenantID string, records []map[string]any, batchSize int) error {
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		batch := make([]map[string]any, 0, end-start)
		for _, rec := range records[start:end] {
			batch = append(batch, map[string]any{
				"transactionid":        cellString(rec, "transactionid"),
				"batchid":              cellString(rec, "batchid"),
				"accountid":            cellString(rec, "accountid"),
				"subscriptionid":       cellString(rec, "subscriptionid"),
				"customerid":           cellString(rec, "customerid"),
				"currencycode":         cellString(rec, "currencycode"),
				"countrycode":          cellString(rec, "countrycode"),
				"providerid":           cellString(rec, "providerid"),
				"productid":            cellString(rec, "productid"),
				"productcategory":      cellString(rec, "productcategory"),
				"channelid":            cellString(rec, "channelid"),
				"pricingstrategy":      cellString(rec, "pricingstrategy"),
				"amount":               cellFloat(rec, "amount"),
				"value":                cellFloat(rec, "value"),
				"fraudresult":          int(cellFloat(rec, "fraudresult")),
				"transactionstarttime": cellString(rec, "transactionstarttime"),
			})
		}

		status, body, err := postJSON(client, baseURL, tenantID, "/transactions", batch)
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return fmt.Errorf("batch %d-%d: status %d: %s", start, end, status, body)
		}
	}
	return nil
}

// defaultSnapshot picks the day after the newest parseable transaction
// timestamp so every recency is non-negative.
func defaultSnapshot(records []map[string]any) string {
	var max time.Time
	for _, rec := range records {
		raw := cellString(rec, "transactionstarttime")
		if raw == "" {
			continue
		}
		ts, err := domain.ParseTimestamp(raw)
		if err != nil {
			continue
		}
		if ts.After(max) {
			max = ts
		}
	}
	if max.IsZero() {
		max = time.Now().UTC()
	}
	return max.Add(24 * time.Hour).UTC().Format(time.RFC3339)
}

func runLabeling(client *http.Client, baseURL, tenantID, snapshotDate string, seed int64) error {
	status, body, err := postJSON(client, baseURL, tenantID, "/labels/run", map[string]any{
		"snapshotDate": snapshotDate,
		"seed":         seed,
	})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusAccepted:
		// Async mode: wait for the bundle to land.
		return waitForBundle(client, baseURL, tenantID, 60*time.Second)
	default:
		return fmt.Errorf("status %d: %s", status, body)
	}
}

func waitForBundle(client *http.Client, baseURL, tenantID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, _, err := getJSON(client, baseURL, tenantID, "/bundle", nil)
		if err == nil && status == http.StatusOK {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("no bundle after %v", timeout)
}

// ensureModel uploads a uniform-weight logistic classifier when the server
// has none loaded, so POST /score has something to run.
func ensureModel(client *http.Client, baseURL, tenantID string) error {
	var bundle struct {
		FeatureCount int `json:"featureCount"`
	}
	status, body, err := getJSON(client, baseURL, tenantID, "/bundle", &bundle)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("no bundle: status %d: %s", status, body)
	}

	weights := make([]float64, bundle.FeatureCount)
	for i := range weights {
		weights[i] = 0.1
	}
	status, body, err = postJSON(client, baseURL, tenantID, "/model", map[string]any{
		"weights":   weights,
		"intercept": 0.0,
	})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("model upload: status %d: %s", status, body)
	}
	fmt.Printf("✓ Uploaded uniform logistic model (%d features)\n", bundle.FeatureCount)
	return nil
}

// latestPerCustomer keeps each customer's newest transaction record.
func latestPerCustomer(records []map[string]any) map[string]map[string]any {
	latest := make(map[string]map[string]any)
	newest := make(map[string]time.Time)
	for _, rec := range records {
		customer := cellString(rec, "customerid")
		if customer == "" {
			continue
		}
		ts, err := domain.ParseTimestamp(cellString(rec, "transactionstarttime"))
		if err != nil {
			ts = time.Time{}
		}
		if prev, ok := newest[customer]; !ok || ts.After(prev) {
			newest[customer] = ts
			latest[customer] = rec
		}
	}
	return latest
}

func runScoring(client *http.Client, baseURL, tenantID string, latest map[string]map[string]any, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	type job struct {
		customer string
		rec      map[string]any
	}
	work := make(chan job, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &http.Client{Timeout: 10 * time.Second}

			for j := range work {
				start := time.Now()
				predicted, err := scoreRecord(c, baseURL, tenantID, j.rec)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ScoringTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalScored, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", j.customer, err)
					}
					continue
				}

				actual, err := fetchLabel(c, baseURL, tenantID, j.customer)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-16s | predicted: %-5v | label: %-5v\n",
						status, j.customer, predicted, actual)
				}
			}
		}()
	}

	for customer, rec := range latest {
		work <- job{customer: customer, rec: rec}
	}
	close(work)
	wg.Wait()

	return metrics
}

func scoreRecord(client *http.Client, baseURL, tenantID string, rec map[string]any) (bool, error) {
	status, body, err := postJSON(client, baseURL, tenantID, "/score", map[string]any{
		"record": rec,
	})
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("status %d: %s", status, body)
	}
	var result ScoreResponse
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return false, err
	}
	return result.HighRisk, nil
}

func fetchLabel(client *http.Client, baseURL, tenantID, customerID string) (bool, error) {
	var label struct {
		HighRisk bool `json:"highRisk"`
	}
	status, body, err := getJSON(client, baseURL, tenantID, "/labels/"+customerID, &label)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("status %d: %s", status, body)
	}
	return label.HighRisk, nil
}

func postJSON(client *http.Client, baseURL, tenantID, path string, payload any) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String(), nil
}

func getJSON(client *http.Client, baseURL, tenantID, path string, out any) (int, string, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(buf.Bytes(), out); err != nil {
			return resp.StatusCode, buf.String(), err
		}
	}
	return resp.StatusCode, buf.String(), nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 SCORED POPULATION\n")
	fmt.Printf("   Customers Scored: %d\n", m.TotalScored)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX (classifier vs engine label)\n")
	fmt.Println("                          Predicted")
	fmt.Println("                    HIGH        LOW")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("  Label HIGH  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("         LOW  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 AGREEMENT METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of high-risk predictions, how many match the label)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of labeled high-risk, how many were predicted)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall agreement)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalScored > 0 {
		avgMs := float64(m.ScoringTimeMs) / float64(m.TotalScored)
		tps := float64(m.TotalScored) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f scores/sec\n", tps)
	}

	fmt.Println()
}
