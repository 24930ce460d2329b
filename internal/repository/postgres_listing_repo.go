package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/listwatch/internal/model"
)

// listingsLockKey はスナップショットストア書き換えの排他に使うアドバイザリロックキー。
// 単一ライター規律の保証であり、同時に2つのパイプラインが走ることを防ぐ。
const listingsLockKey = 0x1157a7c4

// PostgresListingRepo はPostgreSQLを使用した出品リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

var _ ListingRepository = (*PostgresListingRepo)(nil)

const listingColumns = `item_id, brand_raw, brand_norm, category_raw, category_norm,
	        title, condition_raw, condition_bucket, audience, season,
	        price, currency, status, published_at,
	        first_seen_at, last_seen_at, created_at, updated_at`

// LoadAll は全出品を取得する。
func (r *PostgresListingRepo) LoadAll(ctx context.Context) ([]model.Listing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("出品の全件取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// ListFiltered はフィルタ条件に一致する出品を取得する。
// 各条件はANY句のORとして適用され、空の条件は無視される。
func (r *PostgresListingRepo) ListFiltered(ctx context.Context, filter model.FilterCriteria) ([]model.Listing, error) {
	var conds []string
	var args []interface{}

	addCond := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args = append(args, pq.Array(values))
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", column, len(args)))
	}
	addCond("brand_norm", filter.Brands)
	addCond("category_norm", filter.Categories)
	addCond("audience", filter.Audiences)
	addCond("season", filter.Seasons)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		addCond("status", statuses)
	}

	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_seen_at DESC, item_id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("出品の絞り込み取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return scanListings(rows)
}

// CountByStatus はステータス別の件数を返す。
func (r *PostgresListingRepo) CountByStatus(ctx context.Context) (model.ListingCounts, error) {
	var counts model.ListingCounts
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM listings GROUP BY status`)
	if err != nil {
		return counts, fmt.Errorf("出品件数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("出品件数の読み取りに失敗しました: %w", err)
		}
		switch model.ListingStatus(status) {
		case model.StatusActive:
			counts.Active = n
		case model.StatusSold:
			counts.Sold = n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("出品件数の集計に失敗しました: %w", err)
	}
	return counts, nil
}

// ReplaceAll はトランザクション内で出品テーブル全体を置き換える。
// 先頭でアドバイザリロックを取得し、同時実行のパイプラインを直列化する。
// 投入はCOPYプロトコルで行う。
func (r *PostgresListingRepo) ReplaceAll(ctx context.Context, tx *sql.Tx, listings []model.Listing) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, listingsLockKey); err != nil {
		return fmt.Errorf("アドバイザリロックの取得に失敗しました: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM listings`); err != nil {
		return fmt.Errorf("出品テーブルのクリアに失敗しました: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("listings",
		"item_id", "brand_raw", "brand_norm", "category_raw", "category_norm",
		"title", "condition_raw", "condition_bucket", "audience", "season",
		"price", "currency", "status", "published_at",
		"first_seen_at", "last_seen_at", "created_at", "updated_at",
	))
	if err != nil {
		return fmt.Errorf("COPY文の準備に失敗しました: %w", err)
	}

	for i := range listings {
		l := &listings[i]
		var publishedAt interface{}
		if l.PublishedAt != nil {
			publishedAt = *l.PublishedAt
		}
		if _, err := stmt.ExecContext(ctx,
			l.ItemID, l.BrandRaw, l.BrandNorm, l.CategoryRaw, l.CategoryNorm,
			l.Title, l.ConditionRaw, l.ConditionBucket, l.Audience, l.Season,
			l.Price, l.Currency, string(l.Status), publishedAt,
			l.FirstSeenAt, l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("出品の投入に失敗しました (item_id=%s): %w", l.ItemID, err)
		}
	}
	// COPYのフラッシュ
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("出品の一括投入に失敗しました: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("COPY文のクローズに失敗しました: %w", err)
	}
	return nil
}

func scanListings(rows *sql.Rows) ([]model.Listing, error) {
	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		var status string
		var publishedAt sql.NullTime
		if err := rows.Scan(
			&l.ItemID, &l.BrandRaw, &l.BrandNorm, &l.CategoryRaw, &l.CategoryNorm,
			&l.Title, &l.ConditionRaw, &l.ConditionBucket, &l.Audience, &l.Season,
			&l.Price, &l.Currency, &status, &publishedAt,
			&l.FirstSeenAt, &l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("出品の読み取りに失敗しました: %w", err)
		}
		l.Status = model.ListingStatus(status)
		if publishedAt.Valid {
			t := publishedAt.Time
			l.PublishedAt = &t
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出品の走査に失敗しました: %w", err)
	}
	return listings, nil
}
