package reputation

import (
	"context"
	"testing"

	xerrors "ZKRebalance-Chain/internal/errors"
)

func TestSummarizeAggregatesScores(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	scores := []int{80, 60, 100}
	for i, score := range scores {
		err := ledger.Record(ctx, FeedbackRecord{
			ClientID:  3,
			ServerID:  1,
			Score:     score,
			Comment:   "round",
			Timestamp: int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	summary, err := ledger.Summarize(ctx, 1)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Count != 3 {
		t.Fatalf("count: got %d want 3", summary.Count)
	}
	if summary.AverageScore != 80.0 {
		t.Fatalf("average: got %v want 80.0", summary.AverageScore)
	}
	if summary.LastRecord == nil || summary.LastRecord.Score != 100 {
		t.Fatalf("last record wrong: %+v", summary.LastRecord)
	}
}

func TestSummarizeLastRecordByTimestamp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	records := []FeedbackRecord{
		{ClientID: 3, ServerID: 1, Score: 70, Timestamp: 2000},
		// 补录的旧反馈不能顶掉最新记录。
		{ClientID: 3, ServerID: 1, Score: 95, Timestamp: 1500},
		{ClientID: 4, ServerID: 1, Score: 60, Timestamp: 2000},
	}
	for i, record := range records {
		if err := ledger.Record(ctx, record); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	summary, err := ledger.Summarize(ctx, 1)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.LastRecord == nil || summary.LastRecord.Score != 60 {
		t.Fatalf("expected timestamp order with insertion tiebreak, got %+v", summary.LastRecord)
	}
}

func TestSummarizeWithoutFeedback(t *testing.T) {
	summary, err := NewMemoryLedger().Summarize(context.Background(), 9)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.ServerID != 9 || summary.Count != 0 || summary.AverageScore != 0 || summary.LastRecord != nil {
		t.Fatalf("empty summary wrong: %+v", summary)
	}
}

func TestHistoryFiltersByServer(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	for _, record := range []FeedbackRecord{
		{ClientID: 3, ServerID: 1, Score: 90},
		{ClientID: 3, ServerID: 2, Score: 40},
		{ClientID: 4, ServerID: 1, Score: 70},
	} {
		if err := ledger.Record(ctx, record); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := ledger.History(ctx, 0)
	if err != nil {
		t.Fatalf("history all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	one, err := ledger.History(ctx, 1)
	if err != nil {
		t.Fatalf("history server 1: %v", err)
	}
	if len(one) != 2 || one[0].Score != 90 || one[1].Score != 70 {
		t.Fatalf("filtered history wrong: %+v", one)
	}
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	cases := []FeedbackRecord{
		{ClientID: 0, ServerID: 1, Score: 50},
		{ClientID: 1, ServerID: 0, Score: 50},
		{ClientID: 1, ServerID: 1, Score: -1},
		{ClientID: 1, ServerID: 1, Score: 101},
	}
	for i, record := range cases {
		err := ledger.Record(ctx, record)
		if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("case %d: expected INVALID_ARGUMENT, got %v", i, err)
		}
	}
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	if err := ledger.Record(ctx, FeedbackRecord{ClientID: 1, ServerID: 1, Score: 88}); err != nil {
		t.Fatalf("record: %v", err)
	}
	history, err := ledger.History(ctx, 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Timestamp == 0 {
		t.Fatalf("timestamp not defaulted: %+v", history)
	}
}
