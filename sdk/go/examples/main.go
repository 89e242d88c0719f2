package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ZKRebalance-Chain/sdk/go/zkrebalance"
)

func main() {
	// 用一个假的 API 服务演示 SDK 的完整调用路径。
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(zkrebalance.Run{
				ID:          "run-demo",
				Status:      zkrebalance.RunPending,
				MaxAttempts: 3,
				CreatedAt:   time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zkrebalance.Run{
			ID:     "run-demo",
			Status: zkrebalance.RunSucceeded,
			Result: &zkrebalance.RunResult{
				DataHash:     "0x9d1c52f3a7be4c8d",
				QualityScore: 100,
				Report: zkrebalance.Report{
					StructureScore:   100,
					CryptoScore:      100,
					LogicScore:       100,
					OverallScore:     100,
					ProofValid:       true,
					MeetsConstraints: true,
				},
			},
		})
	})
	mux.HandleFunc("/api/v1/reputation/1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zkrebalance.ReputationReport{
			Summary: zkrebalance.ReputationSummary{ServerID: 1, Count: 1, AverageScore: 100},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := zkrebalance.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := client.SubmitRun(ctx, zkrebalance.RunSubmission{
		Params: zkrebalance.RunParams{
			OldBalances: []string{"1000", "1000", "1000", "750"},
			NewBalances: []string{"800", "800", "1200", "950"},
			Prices:      []string{"100", "100", "100", "100"},
			Policy:      "balanced",
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)

	final, err := client.WaitForRun(ctx, run.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: overall=%d quality=%d hash=%s\n",
		final.ID, final.Result.Report.OverallScore, final.Result.QualityScore, final.Result.DataHash)

	reputation, err := client.Reputation(ctx, 1, 0)
	if err != nil {
		panic(err)
	}
	fmt.Printf("provider reputation: count=%d average=%.1f\n",
		reputation.Summary.Count, reputation.Summary.AverageScore)
}
