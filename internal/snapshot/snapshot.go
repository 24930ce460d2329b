// Package snapshot はスクレイパーが出力したスナップショットCSVの発見と読み込みを担当する。
// ファイル名に埋め込まれたタイムスタンプをスナップショット時刻として扱うことで、
// 同じファイルの再処理が常に同じ結果を生むことを保証する。
package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
	"github.com/hitoshi/listwatch/internal/normalize"
)

const (
	// FilePrefix はスナップショットCSVのファイル名接頭辞。
	FilePrefix = "listing_snapshot_"
	// FileTimestampLayout はファイル名に埋め込まれるタイムスタンプの形式。
	// 例: listing_snapshot_2026-05-01_120000.csv
	FileTimestampLayout = "2006-01-02_150405"
)

// File は発見されたスナップショットファイル1件を表す。
type File struct {
	Path    string
	TakenAt time.Time // ファイル名由来のスナップショット時刻
}

// LatestFile はディレクトリ内で最も新しいスナップショットCSVを返す。
// 新旧判定はファイル名埋め込みタイムスタンプを優先し、
// 解釈できないファイル名の場合のみmtimeへフォールバックする。
// 対象ファイルが1つも無い場合は model.ErrNoSnapshot を返す。
func LatestFile(dir string) (*File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("スナップショットディレクトリの読み取りに失敗: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		takenAt, ok := parseFileTimestamp(name)
		if !ok {
			info, err := e.Info()
			if err != nil {
				continue
			}
			takenAt = info.ModTime().UTC()
		}
		files = append(files, File{
			Path:    filepath.Join(dir, name),
			TakenAt: takenAt,
		})
	}
	if len(files) == 0 {
		return nil, model.ErrNoSnapshot
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].TakenAt.After(files[j].TakenAt)
	})
	return &files[0], nil
}

// parseFileTimestamp はファイル名からスナップショット時刻を取り出す。
func parseFileTimestamp(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), ".csv")
	t, err := time.Parse(FileTimestampLayout, stem)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Load はスナップショットCSVを読み込み、生の出品レコード列へ変換する。
// ヘッダ行で列を対応付けるため、列順には依存しない。
// 同一ファイル内のitem_id重複はIntegrityErrorとして即座に失敗する。
func Load(path string) ([]model.RawItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("スナップショットCSVのオープンに失敗: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]model.RawItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("CSVヘッダの読み取りに失敗: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	if _, ok := col["item_id"]; !ok {
		return nil, fmt.Errorf("CSVヘッダに必須列 item_id がありません")
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	seen := make(map[string]struct{})
	var items []model.RawItem
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("CSVレコードの読み取りに失敗 (line %d): %w", line, err)
		}

		itemID := field(rec, "item_id")
		if itemID == "" {
			return nil, model.NewIntegrityError(fmt.Sprintf("line %d", line), "item_idが空のレコード")
		}
		if _, dup := seen[itemID]; dup {
			return nil, model.NewIntegrityError(itemID, "スナップショット内でitem_idが重複")
		}
		seen[itemID] = struct{}{}

		price := 0.0
		if v := field(rec, "price"); v != "" {
			price, err = strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("価格の解釈に失敗 (item %s): %w", itemID, err)
			}
		}

		items = append(items, model.RawItem{
			ItemID:       itemID,
			BrandRaw:     field(rec, "brand_raw"),
			CategoryRaw:  field(rec, "category_raw"),
			Title:        field(rec, "title"),
			ConditionRaw: field(rec, "condition_raw"),
			Audience:     field(rec, "audience"),
			Price:        price,
			Currency:     field(rec, "currency"),
			PublishedAt:  normalize.ParseTimestamp(field(rec, "published_at")),
			Description:  field(rec, "description"),
		})
	}
	return items, nil
}
