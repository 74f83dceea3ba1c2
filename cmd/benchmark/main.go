// Benchmark tool for load-testing Harrier's alert sweep.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -transactions 10000
//
// This tool:
//  1. Seeds the default alert definitions for a benchmark project
//  2. Ingests synthetic transactions skewed towards a few hot counterparties
//  3. Triggers the full sweep repeatedly and times each run
//  4. Reports ingestion throughput, sweep latency, and alert counts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticTransaction is the ingestion request format.
type SyntheticTransaction struct {
	Date                      time.Time `json:"date"`
	Direction                 string    `json:"direction"`
	PaymentMethod             string    `json:"paymentMethod"`
	Type                      string    `json:"type"`
	BaseAmount                float64   `json:"baseAmount"`
	BaseCurrency              string    `json:"baseCurrency"`
	CounterpartyBeneficiaryID string    `json:"counterpartyBeneficiaryId,omitempty"`
	CounterpartyOriginatorID  string    `json:"counterpartyOriginatorId,omitempty"`
}

// SweepResponse is the sweep trigger response format.
type SweepResponse struct {
	RunNumber     int64 `json:"runNumber"`
	Projects      int   `json:"projects"`
	AlertsCreated int   `json:"alertsCreated"`
	Deduplicated  int   `json:"deduplicated"`
	DurationMs    int64 `json:"durationMs"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalIngested int64
	TotalErrors   int64
	IngestTimeMs  int64
}

var paymentMethods = []string{"credit_card", "debit_card", "bank_transfer", "pay_pal", "apple_pay"}
var recordTypes = []string{"payment", "refund", "chargeback", "transfer"}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	projectID := flag.String("project", "benchmark-test", "Project ID for requests")
	txCount := flag.Int("transactions", 10000, "Number of synthetic transactions to ingest")
	counterparties := flag.Int("counterparties", 200, "Number of distinct counterparties")
	hotShare := flag.Float64("hot", 0.3, "Share of traffic routed to the 5 hottest counterparties (0.0-1.0)")
	sweeps := flag.Int("sweeps", 5, "Number of sweep runs to time")
	workers := flag.Int("workers", 10, "Number of concurrent ingestion workers")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible traffic")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HARRIER BENCHMARK - Alert Sweep Latency            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL:    %s\n", *baseURL)
	fmt.Printf("Project ID:     %s\n", *projectID)
	fmt.Printf("Transactions:   %d\n", *txCount)
	fmt.Printf("Counterparties: %d (hot share %.2f)\n", *counterparties, *hotShare)
	fmt.Printf("Sweep runs:     %d\n", *sweeps)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Seed the default definitions for the benchmark project
	if err := seedDefinitions(*baseURL, *projectID); err != nil {
		fmt.Printf("ERROR: failed to seed definitions: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Benchmark definitions in place")

	// Ingest synthetic traffic
	fmt.Printf("\nIngesting %d transactions with %d workers...\n", *txCount, *workers)
	startTime := time.Now()
	metrics := runIngestion(*baseURL, *projectID, *txCount, *counterparties, *hotShare, *workers, *seed)
	ingestDuration := time.Since(startTime)
	fmt.Printf("✓ Ingested %d transactions in %s (%.0f tx/s, %d errors)\n",
		metrics.TotalIngested,
		ingestDuration.Round(time.Millisecond),
		float64(metrics.TotalIngested)/ingestDuration.Seconds(),
		metrics.TotalErrors,
	)

	// Time the sweeps
	fmt.Printf("\nRunning %d sweeps...\n", *sweeps)
	durations := make([]time.Duration, 0, *sweeps)
	totalCreated := 0
	totalDeduped := 0
	client := &http.Client{Timeout: 5 * time.Minute}

	for i := 0; i < *sweeps; i++ {
		start := time.Now()
		resp, err := runSweep(client, *baseURL, *projectID)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("  sweep %d FAILED: %v\n", i+1, err)
			continue
		}
		durations = append(durations, elapsed)
		totalCreated += resp.AlertsCreated
		totalDeduped += resp.Deduplicated
		fmt.Printf("  sweep %d: run=%d created=%d deduplicated=%d elapsed=%s\n",
			i+1, resp.RunNumber, resp.AlertsCreated, resp.Deduplicated, elapsed.Round(time.Millisecond))
	}

	printResults(durations, totalCreated, totalDeduped)
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

// seedDefinitions installs a structuring-style definition so the sweep
// has something to fire on. Skipped when a previous run already created
// it (definition names are unique per project).
func seedDefinitions(baseURL, projectID string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/definitions", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Project-ID", projectID)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var listResp struct {
		Definitions []struct {
			Name string `json:"name"`
		} `json:"definitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return err
	}
	for _, def := range listResp.Definitions {
		if def.Name == "BENCH_STRUC_CC" {
			return nil
		}
	}

	def := map[string]any{
		"name":            "BENCH_STRUC_CC",
		"description":           "Benchmark card structuring",
		"defaultSeverity": "medium",
		"rule": map[string]any{
			"id":       "BENCH_STRUC_CC",
			"strategy": "count_threshold",
			"options": map[string]any{
				"direction":      "inbound",
				"paymentMethods": []string{"credit_card"},
				"countThreshold": 20,
				"timeWindowDays": 7,
			},
		},
	}
	return postJSON(client, baseURL+"/definitions", projectID, def, http.StatusCreated)
}

func runIngestion(baseURL, projectID string, txCount, counterparties int, hotShare float64, numWorkers int, seed int64) *Metrics {
	metrics := &Metrics{}

	work := make(chan SyntheticTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				err := postJSON(client, baseURL+"/transactions", projectID, tx, http.StatusCreated)
				atomic.AddInt64(&metrics.IngestTimeMs, time.Since(start).Milliseconds())

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}
				atomic.AddInt64(&metrics.TotalIngested, 1)
			}
		}()
	}

	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()
	for i := 0; i < txCount; i++ {
		cp := rng.Intn(counterparties)
		if rng.Float64() < hotShare {
			cp = rng.Intn(5) // Route to a hot counterparty
		}

		work <- SyntheticTransaction{
			Date:                      now.Add(-time.Duration(rng.Intn(6*24)) * time.Hour),
			Direction:                 "inbound",
			PaymentMethod:             paymentMethods[rng.Intn(len(paymentMethods))],
			Type:                      recordTypes[rng.Intn(len(recordTypes))],
			BaseAmount:                50 + rng.Float64()*950,
			BaseCurrency:              "USD",
			CounterpartyBeneficiaryID: fmt.Sprintf("bench-cp-%04d", cp),
		}
	}
	close(work)

	wg.Wait()
	return metrics
}

func runSweep(client *http.Client, baseURL, projectID string) (*SweepResponse, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/sweep", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Project-ID", projectID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var sweepResp SweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&sweepResp); err != nil {
		return nil, err
	}
	return &sweepResp, nil
}

func postJSON(client *http.Client, url, projectID string, body any, wantStatus int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-ID", projectID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func printResults(durations []time.Duration, totalCreated, totalDeduped int) {
	fmt.Println()
	fmt.Println("═══════════════════════ RESULTS ═══════════════════════")

	if len(durations) == 0 {
		fmt.Println("No successful sweeps.")
		return
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	fmt.Printf("Sweeps:          %d\n", len(durations))
	fmt.Printf("Alerts created:  %d\n", totalCreated)
	fmt.Printf("Deduplicated:    %d\n", totalDeduped)
	fmt.Printf("Min latency:     %s\n", sorted[0].Round(time.Millisecond))
	fmt.Printf("Median latency:  %s\n", sorted[len(sorted)/2].Round(time.Millisecond))
	fmt.Printf("Max latency:     %s\n", sorted[len(sorted)-1].Round(time.Millisecond))
	fmt.Printf("Mean latency:    %s\n", (total / time.Duration(len(sorted))).Round(time.Millisecond))
	fmt.Println("════════════════════════════════════════════════════════")
}
