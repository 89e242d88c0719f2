package zkrebalance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunSendsToken(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var submission RunSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if len(submission.Params.OldBalances) != 4 {
			t.Fatalf("unexpected params: %+v", submission.Params)
		}
		submitted = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: RunPending})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetAccessToken("token")

	run, err := client.SubmitRun(context.Background(), RunSubmission{
		Params: RunParams{
			OldBalances: []string{"1000", "1000", "1000", "750"},
			NewBalances: []string{"800", "800", "1200", "950"},
			Prices:      []string{"100", "100", "100", "100"},
			MinPct:      10,
			MaxPct:      40,
		},
	})
	if err != nil {
		t.Fatalf("submit run: %v", err)
	}
	if run.ID != "run-1" || run.Status != RunPending {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !submitted {
		t.Fatal("run was not submitted")
	}
}

func TestGetRunError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/runs/run-404" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(APIError{Code: "RUN_NOT_FOUND", Message: "missing"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.GetRun(context.Background(), "run-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "RUN_NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestWaitForRunPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := RunRunning
		if calls.Add(1) >= 3 {
			status = RunSucceeded
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: status})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	run, err := client.WaitForRun(context.Background(), "run-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for run: %v", err)
	}
	if run.Status != RunSucceeded {
		t.Fatalf("unexpected final status: %s", run.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestListRunsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("status") != "succeeded" || query.Get("has_result") != "true" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Run{{ID: "run-1", Status: RunSucceeded}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	hasResult := true
	runs, err := client.ListRuns(context.Background(), ListRunsOptions{
		Limit:     5,
		Status:    "succeeded",
		HasResult: &hasResult,
	})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestReputationRequestsHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/reputation/7" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("history") != "2" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(ReputationReport{
			Summary: ReputationSummary{ServerID: 7, Count: 3, AverageScore: 90},
			History: []FeedbackRecord{{ServerID: 7, Score: 100}, {ServerID: 7, Score: 95}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	report, err := client.Reputation(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("fetch reputation: %v", err)
	}
	if report.Summary.Count != 3 || report.Summary.AverageScore != 90 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
	if len(report.History) != 2 || report.History[0].Score != 100 {
		t.Fatalf("unexpected history: %+v", report.History)
	}
}
