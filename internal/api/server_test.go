package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ZKRebalance-Chain/internal/reputation"
	"ZKRebalance-Chain/internal/workflow"
)

func sampleParams() workflow.RunParams {
	return workflow.RunParams{
		OldBalances: []string{"1000", "1000", "1000", "750"},
		NewBalances: []string{"800", "800", "1200", "950"},
		Prices:      []string{"100", "100", "100", "100"},
		MinPct:      10,
		MaxPct:      40,
	}
}

func TestHandleRunDetailSuccess(t *testing.T) {
	store := workflow.NewMemoryStore()
	svc := workflow.NewService(store, workflow.NewMemoryQueue(4), 3)
	server := NewServer(":0", svc, nil)

	sample := &workflow.Run{
		ID:          "run-success",
		Params:      sampleParams(),
		Status:      workflow.StatusSucceeded,
		Attempts:    1,
		MaxAttempts: 3,
		Result: &workflow.RunResult{
			DataHash:     "0xabc123",
			QualityScore: 95,
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success", nil)
	rec := httptest.NewRecorder()

	server.handleRunDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got workflow.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected run id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.DataHash != "0xabc123" {
		t.Fatalf("unexpected run result: %+v", got.Result)
	}
}

func TestHandleRunDetailErrors(t *testing.T) {
	server := NewServer(":0", workflow.NewService(workflow.NewMemoryStore(), workflow.NewMemoryQueue(4), 3), nil)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-1", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		var payload errorPayload
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		if payload.Code != string(workflow.CodeRunNotFound) {
			t.Fatalf("unexpected error code: %q", payload.Code)
		}
	})
}

func TestSubmitAndListRuns(t *testing.T) {
	store := workflow.NewMemoryStore()
	svc := workflow.NewService(store, workflow.NewMemoryQueue(8), 3)
	handler := NewServer(":0", svc, nil).Handler()

	body, err := json.Marshal(workflow.SubmitRequest{Params: sampleParams()})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}

	var created workflow.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created run: %v", err)
	}
	if created.ID == "" || created.Status != workflow.StatusPending {
		t.Fatalf("unexpected created run: %+v", created)
	}

	// 列表应能按状态过滤出刚入队的运行。
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?status=pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list runs: unexpected status %d", rec.Code)
	}
	var listed []*workflow.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode run list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected run list: %+v", listed)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run stats: unexpected status %d", rec.Code)
	}
	var stats workflow.RunStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSubmitRejectsInvalidParams(t *testing.T) {
	svc := workflow.NewService(workflow.NewMemoryStore(), workflow.NewMemoryQueue(4), 3)
	handler := NewServer(":0", svc, nil).Handler()

	params := sampleParams()
	params.OldBalances = nil
	body, _ := json.Marshal(workflow.SubmitRequest{Params: params})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != string(workflow.CodeRunValidation) {
		t.Fatalf("unexpected error code: %q", payload.Code)
	}
}

func TestBearerTokenGuardsEndpoints(t *testing.T) {
	svc := workflow.NewService(workflow.NewMemoryStore(), workflow.NewMemoryQueue(4), 3)
	handler := NewServer(":0", svc, nil, WithBearerToken("secret-token")).Handler()

	// 未携带令牌的请求被拒绝。
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d with wrong token, got %d", http.StatusUnauthorized, rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/stats", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d with valid token, got %d", http.StatusOK, rec.Code)
	}

	// 健康检查端点无需令牌。
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查不应要求令牌: %d", rec.Code)
	}
}

func TestReputationEndpoint(t *testing.T) {
	ledger := reputation.NewMemoryLedger()
	records := []reputation.FeedbackRecord{
		{ClientID: 3, ServerID: 7, Score: 80, Comment: "solid"},
		{ClientID: 3, ServerID: 7, Score: 100, Comment: "excellent"},
	}
	for _, record := range records {
		if err := ledger.Record(context.Background(), record); err != nil {
			t.Fatalf("record feedback: %v", err)
		}
	}

	svc := workflow.NewService(workflow.NewMemoryStore(), workflow.NewMemoryQueue(4), 3)
	handler := NewServer(":0", svc, ledger).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reputation/7?history=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var payload reputationPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode reputation payload: %v", err)
	}
	if payload.Summary.Count != 2 || payload.Summary.AverageScore != 90 {
		t.Fatalf("unexpected summary: %+v", payload.Summary)
	}
	// history=1 只返回最近一条。
	if len(payload.History) != 1 || payload.History[0].Score != 100 {
		t.Fatalf("unexpected history: %+v", payload.History)
	}

	t.Run("invalid server id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reputation/abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("ledger disabled", func(t *testing.T) {
		bare := NewServer(":0", svc, nil).Handler()
		rec := httptest.NewRecorder()
		bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reputation/7", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}
