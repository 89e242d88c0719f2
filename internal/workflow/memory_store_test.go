package workflow

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"
)

func testRunParams() RunParams {
	return RunParams{
		OldBalances: []string{"1000", "1000", "1000", "750"},
		NewBalances: []string{"800", "800", "1200", "950"},
		Prices:      []string{"100", "100", "100", "100"},
		MinPct:      10,
		MaxPct:      40,
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	runs := []*Run{
		{ID: "r1", Params: testRunParams(), Status: StatusPending, MaxAttempts: 3},
		{ID: "r2", Params: testRunParams(), Status: StatusFailed, MaxAttempts: 3},
		{ID: "r3", Params: testRunParams(), Status: StatusSucceeded, MaxAttempts: 3},
	}

	for _, run := range runs {
		if err := store.Create(ctx, run); err != nil {
			t.Fatalf("create run %s: %v", run.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "r2", CodeRunProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "r3", RunResult{DataHash: "0xfeed", QualityScore: 100}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["r1"].UpdatedAt = base.Unix()
	store.runs["r2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["r3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[0].ID != "r3" {
		t.Fatalf("expected newest run first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "r2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].ID != "r3" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 runs to match since filter, got %d", len(recent))
	}

	byHash, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("0xfeed")}))
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if len(byHash) != 1 || byHash[0].ID != "r3" {
		t.Fatalf("unexpected query list: %+v", byHash)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	runs := []*Run{
		{ID: "a", Params: testRunParams(), Status: StatusPending, MaxAttempts: 3},
		{ID: "b", Params: testRunParams(), Status: StatusPending, MaxAttempts: 3},
		{ID: "c", Params: testRunParams(), Status: StatusPending, MaxAttempts: 3},
	}

	for _, run := range runs {
		if err := store.Create(ctx, run); err != nil {
			t.Fatalf("create run %s: %v", run.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeRunProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", RunResult{DataHash: "0xbeef"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.runs["a"].UpdatedAt = base.Unix()
	store.runs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.runs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}

func TestMemoryStoreKeepsPartialTrailOnFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := &Run{ID: "r1", Params: testRunParams(), Status: StatusPending, MaxAttempts: 2}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	claimed, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed run: %+v", claimed)
	}

	now := time.Now().Unix()
	partial := &RunResult{
		ProviderID: 1,
		Steps: []StepEvent{
			{Name: StepRegisterProvider, Status: StepOK, At: now},
			{Name: StepRegisterValidator, Status: StepFailed, Detail: "boom", At: now},
		},
	}
	if err := store.MarkFailed(ctx, "r1", CodeRunProcessing, "boom", false, partial); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(CodeRunProcessing) {
		t.Fatalf("unexpected failed run: %+v", got)
	}
	if got.Result == nil || len(got.Result.Steps) != 2 {
		t.Fatalf("expected partial trail to survive, got %+v", got.Result)
	}
	if got.Result.Steps[1].Name != StepRegisterValidator || got.Result.Steps[1].Status != StepFailed {
		t.Fatalf("unexpected last step: %+v", got.Result.Steps[1])
	}

	// 未超过次数上限的失败运行仍可再次领取。
	again, err := store.Claim(ctx, "r1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", again.Attempts)
	}
	if err := store.MarkFailed(ctx, "r1", CodeRunProcessing, "boom again", true, partial); err != nil {
		t.Fatalf("mark failed again: %v", err)
	}

	if _, err := store.Claim(ctx, "r1"); !stdErrors.Is(err, ErrRunExhausted) {
		t.Fatalf("expected ErrRunExhausted, got %v", err)
	}
}
