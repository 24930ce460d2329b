package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/listwatch/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントログリポジトリ。
// 物理的にはUPSERTを使うが、event_idはスナップショット時刻から決定的に導出されるため、
// 衝突が起きるのは同一スナップショットの再処理時のみで、ログは論理的に追記専用のまま保たれる。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

var _ EventRepository = (*PostgresEventRepo)(nil)

// AppendPriceChanges は価格改定イベントを追記する。event_id衝突は後勝ちで上書きする。
func (r *PostgresEventRepo) AppendPriceChanges(ctx context.Context, tx *sql.Tx, events []model.PriceChangeEvent) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_change_events
		        (event_id, item_id, old_price, new_price, changed_at, brand, category)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (event_id) DO UPDATE SET
		        old_price = EXCLUDED.old_price,
		        new_price = EXCLUDED.new_price,
		        changed_at = EXCLUDED.changed_at,
		        brand = EXCLUDED.brand,
		        category = EXCLUDED.category`)
	if err != nil {
		return fmt.Errorf("価格改定イベント文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.ItemID, e.OldPrice, e.NewPrice, e.ChangedAt, e.Brand, e.Category,
		); err != nil {
			return fmt.Errorf("価格改定イベントの追記に失敗しました (event_id=%s): %w", e.EventID, err)
		}
	}
	return nil
}

// AppendSoldEvents は売却推定イベントを追記する。event_id衝突は後勝ちで上書きする。
func (r *PostgresEventRepo) AppendSoldEvents(ctx context.Context, tx *sql.Tx, events []model.SoldEvent) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sold_events
		        (event_id, item_id, brand, category, condition, audience, season,
		         final_listed_price, currency, first_seen_at, last_seen_at,
		         estimated_sold_at, days_to_sell, listing_age_days, sold_confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (event_id) DO UPDATE SET
		        final_listed_price = EXCLUDED.final_listed_price,
		        estimated_sold_at = EXCLUDED.estimated_sold_at,
		        days_to_sell = EXCLUDED.days_to_sell,
		        listing_age_days = EXCLUDED.listing_age_days,
		        sold_confidence = EXCLUDED.sold_confidence`)
	if err != nil {
		return fmt.Errorf("売却イベント文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.ItemID, e.Brand, e.Category, e.Condition, e.Audience, e.Season,
			e.FinalListedPrice, e.Currency, e.FirstSeenAt, e.LastSeenAt,
			e.EstimatedSoldAt, e.DaysToSell, e.ListingAgeDays, e.SoldConfidence,
		); err != nil {
			return fmt.Errorf("売却イベントの追記に失敗しました (event_id=%s): %w", e.EventID, err)
		}
	}
	return nil
}

// ListSoldEvents はフィルタ条件と確信度下限に一致する売却イベントを取得する。
func (r *PostgresEventRepo) ListSoldEvents(ctx context.Context, filter model.FilterCriteria, minConfidence float64) ([]model.SoldEvent, error) {
	conds := []string{"sold_confidence >= $1"}
	args := []interface{}{minConfidence}

	addCond := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args = append(args, pq.Array(values))
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", column, len(args)))
	}
	addCond("brand", filter.Brands)
	addCond("category", filter.Categories)
	addCond("audience", filter.Audiences)
	addCond("season", filter.Seasons)

	query := `SELECT event_id, item_id, brand, category, condition, audience, season,
	                 final_listed_price, currency, first_seen_at, last_seen_at,
	                 estimated_sold_at, days_to_sell, listing_age_days, sold_confidence
	          FROM sold_events WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY estimated_sold_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("売却イベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []model.SoldEvent
	for rows.Next() {
		var e model.SoldEvent
		if err := rows.Scan(
			&e.EventID, &e.ItemID, &e.Brand, &e.Category, &e.Condition, &e.Audience, &e.Season,
			&e.FinalListedPrice, &e.Currency, &e.FirstSeenAt, &e.LastSeenAt,
			&e.EstimatedSoldAt, &e.DaysToSell, &e.ListingAgeDays, &e.SoldConfidence,
		); err != nil {
			return nil, fmt.Errorf("売却イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("売却イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// ListPriceChangesForItems は指定item_id群の価格改定イベントを時系列順で取得する。
// itemIDsが空の場合は空の結果を返す。
func (r *PostgresEventRepo) ListPriceChangesForItems(ctx context.Context, itemIDs []string) ([]model.PriceChangeEvent, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, item_id, old_price, new_price, changed_at, brand, category
		 FROM price_change_events
		 WHERE item_id = ANY($1)
		 ORDER BY item_id, changed_at`,
		pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("価格改定イベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []model.PriceChangeEvent
	for rows.Next() {
		var e model.PriceChangeEvent
		if err := rows.Scan(
			&e.EventID, &e.ItemID, &e.OldPrice, &e.NewPrice, &e.ChangedAt, &e.Brand, &e.Category,
		); err != nil {
			return nil, fmt.Errorf("価格改定イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("価格改定イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}
