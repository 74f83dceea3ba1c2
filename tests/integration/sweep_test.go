//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier alert
// detection engine against a running instance.
//
// These tests verify the COMPLETE detection pipeline:
//
//	Transactions → Sweep → Aggregation → Rule Evaluation → Alerts → Bulk Decisions
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
//  1. ALERT DEFINITION: a named detection rule owned by a project. Each
//     definition carries an inline rule (strategy + options) and a
//     default severity for the alerts it raises.
//
//  2. SWEEP: a batch run over every active definition. For each one,
//     transactions are aggregated per counterparty/business and the
//     rule's predicate is applied to each aggregation row.
//
//  3. ALERT: raised per (definition, subject) hit. At most one OPEN
//     alert may exist per pair; re-running a sweep over unchanged data
//     must not multiply alerts.
//
//  4. BULK OPERATIONS: assignment and decision apply to a list of alert
//     ids and report a per-id SUCCESS/FAILED outcome.
//
//  5. ONGOING MONITORING: ingesting a business report whose risk score
//     jumped (or crossed the configured ceiling) raises a merchant
//     monitoring alert, provided the previous report was also an
//     ongoing-monitoring report.
//
// The target instance must be empty of benchmark data or use a fresh
// project id per run; the tests use a timestamped project id for that.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL   string
	ProjectID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("HARRIER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:   baseURL,
		ProjectID: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	}
}

type bulkResponse struct {
	Status string `json:"status"`
	Items  []struct {
		AlertID string `json:"alertId"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	} `json:"items"`
}

type alertListResponse struct {
	Alerts []struct {
		ID                string         `json:"id"`
		AlertDefinitionID string         `json:"alertDefinitionId"`
		CounterpartyID    string         `json:"counterpartyId"`
		BusinessID        string         `json:"businessId"`
		Severity          string         `json:"severity"`
		Status            string         `json:"status"`
		AssigneeID        string         `json:"assigneeId"`
		AdditionalInfo    map[string]any `json:"additionalInfo"`
	} `json:"alerts"`
	Count int `json:"count"`
}

type sweepResponse struct {
	RunNumber     int64 `json:"runNumber"`
	AlertsCreated int   `json:"alertsCreated"`
	Deduplicated  int   `json:"deduplicated"`
}

func doJSON(t *testing.T, cfg TestConfig, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, cfg.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-ID", cfg.ProjectID)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v (body: %s)", method, path, err, string(raw))
		}
	}
	return resp.StatusCode
}

func requireServer(t *testing.T, cfg TestConfig) {
	t.Helper()
	resp, err := http.Get(cfg.BaseURL + "/health")
	if err != nil {
		t.Skipf("harrier not reachable at %s: %v", cfg.BaseURL, err)
	}
	resp.Body.Close()
}

func ingestTransaction(t *testing.T, cfg TestConfig, counterpartyID string, amount float64) {
	t.Helper()
	status := doJSON(t, cfg, http.MethodPost, "/transactions", map[string]any{
		"date":                      time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339),
		"direction":                 "inbound",
		"paymentMethod":             "credit_card",
		"type":                      "payment",
		"baseAmount":                amount,
		"baseCurrency":              "USD",
		"counterpartyBeneficiaryId": counterpartyID,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("transaction ingestion failed with status %d", status)
	}
}

// TestSweepPipeline walks the full detection path: definition, traffic,
// sweep, idempotent re-sweep, bulk assignment, bulk decision, and the
// post-decision re-alert.
func TestSweepPipeline(t *testing.T) {
	cfg := getTestConfig()
	requireServer(t, cfg)

	// 1. Create a structuring definition: 5+ inbound card payments.
	status := doJSON(t, cfg, http.MethodPost, "/definitions", map[string]any{
		"name":            "ITEST_STRUC_CC",
		"description":           "Integration structuring rule",
		"defaultSeverity": "high",
		"rule": map[string]any{
			"id":       "ITEST_STRUC_CC",
			"strategy": "count_threshold",
			"options": map[string]any{
				"direction":      "inbound",
				"paymentMethods": []string{"credit_card"},
				"countThreshold": 5,
				"timeWindowDays": 7,
			},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("definition creation failed with status %d", status)
	}

	// 2. One hot counterparty above the threshold, one below.
	for i := 0; i < 5; i++ {
		ingestTransaction(t, cfg, "itest-cp-hot", 400)
	}
	for i := 0; i < 3; i++ {
		ingestTransaction(t, cfg, "itest-cp-cold", 400)
	}

	// 3. First sweep raises exactly one alert for the project.
	var sweepResp sweepResponse
	if status := doJSON(t, cfg, http.MethodPost, "/sweep", nil, &sweepResp); status != http.StatusOK {
		t.Fatalf("sweep failed with status %d", status)
	}

	var list alertListResponse
	doJSON(t, cfg, http.MethodGet, "/alerts?open=true", nil, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 open alert, got %d", list.Count)
	}
	alert := list.Alerts[0]
	if alert.CounterpartyID != "itest-cp-hot" {
		t.Errorf("expected the hot counterparty as subject, got %s", alert.CounterpartyID)
	}
	if alert.Severity != "high" {
		t.Errorf("expected severity high, got %s", alert.Severity)
	}

	// 4. Re-sweeping unchanged data must not multiply alerts.
	doJSON(t, cfg, http.MethodPost, "/sweep", nil, &sweepResp)
	doJSON(t, cfg, http.MethodGet, "/alerts?open=true", nil, &list)
	if list.Count != 1 {
		t.Fatalf("expected the sweep to be idempotent, got %d open alerts", list.Count)
	}

	// 5. Bulk assign with one unknown id reports PARTIAL.
	var bulk bulkResponse
	doJSON(t, cfg, http.MethodPatch, "/alerts/assign", map[string]any{
		"alertIds":   []string{alert.ID, "no-such-alert"},
		"assigneeId": "itest-analyst",
	}, &bulk)
	if bulk.Status != "PARTIAL" {
		t.Errorf("expected PARTIAL bulk status, got %s", bulk.Status)
	}

	// 6. Decide the alert; it closes and leaves the open set.
	doJSON(t, cfg, http.MethodPatch, "/alerts/decision", map[string]any{
		"alertIds": []string{alert.ID},
		"decision": "dismissed",
		"userId":   "itest-analyst",
	}, &bulk)
	if bulk.Status != "SUCCESS" {
		t.Fatalf("expected SUCCESS bulk status, got %s", bulk.Status)
	}
	doJSON(t, cfg, http.MethodGet, "/alerts?open=true", nil, &list)
	if list.Count != 0 {
		t.Fatalf("expected no open alerts after the decision, got %d", list.Count)
	}

	// 7. With the previous alert decided, the next sweep re-raises.
	doJSON(t, cfg, http.MethodPost, "/sweep", nil, &sweepResp)
	doJSON(t, cfg, http.MethodGet, "/alerts?open=true", nil, &list)
	if list.Count != 1 {
		t.Errorf("expected a fresh alert after deciding the old one, got %d", list.Count)
	}
}

// TestOngoingMonitoringPipeline exercises report ingestion and the risk
// resolver through the HTTP surface.
func TestOngoingMonitoringPipeline(t *testing.T) {
	cfg := getTestConfig()
	requireServer(t, cfg)

	// Risk-increase definition: delta of 20 or more.
	status := doJSON(t, cfg, http.MethodPost, "/definitions", map[string]any{
		"name":            "ITEST_RISK_INCREASE",
		"description":           "Integration risk increase",
		"category":        "merchant_monitoring",
		"defaultSeverity": "low",
		"rule": map[string]any{
			"id":       "ITEST_RISK_INCREASE",
			"strategy": "risk_increase",
			"options": map[string]any{
				"riskScoreDelta": 20,
			},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("definition creation failed with status %d", status)
	}

	var resp struct {
		Alert *struct {
			ID             string         `json:"id"`
			Severity       string         `json:"severity"`
			AdditionalInfo map[string]any `json:"additionalInfo"`
		} `json:"alert"`
	}
	status = doJSON(t, cfg, http.MethodPost, "/reports", map[string]any{
		"report": map[string]any{
			"businessId": "itest-biz",
			"reportId":   "itest-report-2",
			"type":       "ONGOING_MERCHANT_REPORT_T1",
			"riskScore":  45.0,
			"payload": map[string]any{
				"summary": map[string]any{"riskScore": 45.0},
				"previousReport": map[string]any{
					"summary":    map[string]any{"riskScore": 10.0},
					"reportType": "ONGOING_MERCHANT_REPORT_T1",
				},
			},
		},
		"business": map[string]any{
			"id":          "itest-biz",
			"companyName": "Integration Test Co",
		},
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("report ingestion failed with status %d", status)
	}
	if resp.Alert == nil {
		t.Fatal("expected the report to raise a monitoring alert")
	}
	if resp.Alert.AdditionalInfo["businessCompanyName"] != "Integration Test Co" {
		t.Errorf("unexpected company name: %v", resp.Alert.AdditionalInfo["businessCompanyName"])
	}

	// Re-checking the same report while the alert is open is a no-op.
	var checkResp struct {
		Alert *struct {
			ID string `json:"id"`
		} `json:"alert"`
	}
	status = doJSON(t, cfg, http.MethodPost, "/monitoring/check", map[string]any{
		"businessId": "itest-biz",
		"reportId":   "itest-report-2",
	}, &checkResp)
	if status != http.StatusOK {
		t.Fatalf("monitoring check failed with status %d", status)
	}
	if checkResp.Alert != nil {
		t.Errorf("expected the open alert to suppress a duplicate, got %+v", checkResp.Alert)
	}
}
