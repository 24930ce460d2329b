package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
)

// mockEventRepo は呼び出しを記録するEventRepositoryのモック。
type mockEventRepo struct {
	prices []model.PriceChangeEvent
	solds  []model.SoldEvent
}

func (m *mockEventRepo) AppendPriceChanges(ctx context.Context, tx *sql.Tx, events []model.PriceChangeEvent) error {
	m.prices = append(m.prices, events...)
	return nil
}

func (m *mockEventRepo) AppendSoldEvents(ctx context.Context, tx *sql.Tx, events []model.SoldEvent) error {
	m.solds = append(m.solds, events...)
	return nil
}

func (m *mockEventRepo) ListSoldEvents(ctx context.Context, filter model.FilterCriteria, minConfidence float64) ([]model.SoldEvent, error) {
	var out []model.SoldEvent
	for _, e := range m.solds {
		if e.SoldConfidence >= minConfidence {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEventRepo) ListPriceChangesForItems(ctx context.Context, itemIDs []string) ([]model.PriceChangeEvent, error) {
	return m.prices, nil
}

func TestAppend_PersistsBothEventKinds(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewService(repo)

	prices := []model.PriceChangeEvent{
		{EventID: "PE_A_100", ItemID: "A", OldPrice: 20, NewPrice: 15, ChangedAt: time.Now()},
	}
	solds := []model.SoldEvent{
		{EventID: "SE_B_100", ItemID: "B", SoldConfidence: 1.0},
	}

	if err := svc.Append(context.Background(), nil, prices, solds); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(repo.prices) != 1 || len(repo.solds) != 1 {
		t.Errorf("永続化件数が誤り: prices=%d solds=%d", len(repo.prices), len(repo.solds))
	}
}

func TestAppend_EmptyBatches_NoRepoCalls(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewService(repo)

	if err := svc.Append(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(repo.prices) != 0 || len(repo.solds) != 0 {
		t.Error("空バッチで書き込みが発生した")
	}
}

func TestAppend_DuplicateEventIDInBatch_IntegrityError(t *testing.T) {
	repo := &mockEventRepo{}
	svc := NewService(repo)

	solds := []model.SoldEvent{
		{EventID: "SE_A_100", ItemID: "A"},
		{EventID: "SE_A_100", ItemID: "A"},
	}

	err := svc.Append(context.Background(), nil, nil, solds)
	var ie *model.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("IntegrityErrorを期待したが得られたのは: %v", err)
	}
	if len(repo.solds) != 0 {
		t.Error("重複検出後に書き込みが発生した")
	}
}

func TestSoldEvents_ConfidenceGate(t *testing.T) {
	repo := &mockEventRepo{
		solds: []model.SoldEvent{
			{EventID: "SE_A_100", SoldConfidence: 1.0},
			{EventID: "SE_B_100", SoldConfidence: 0.5},
		},
	}
	svc := NewService(repo)

	events, err := svc.SoldEvents(context.Background(), model.FilterCriteria{}, 0.8)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "SE_A_100" {
		t.Errorf("確信度ゲートが機能していない: %+v", events)
	}
}
