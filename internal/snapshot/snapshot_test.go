package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/listwatch/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("テストファイルの書き込みに失敗: %v", err)
	}
	return path
}

const validCSV = `item_id,brand_raw,category_raw,title,condition_raw,audience,price,currency,published_at
ITM001,zara,Ropa,Vestido verano,Nuevo con etiqueta,women,15.50,EUR,2026-04-20T10:00:00Z
ITM002,levis,Vaqueros,Jeans 501,good,men,30.00,EUR,
`

func TestLatestFile_PicksNewestByFilenameTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "listing_snapshot_2026-05-01_120000.csv", validCSV)
	writeFile(t, dir, "listing_snapshot_2026-05-03_120000.csv", validCSV)
	writeFile(t, dir, "listing_snapshot_2026-05-02_120000.csv", validCSV)
	writeFile(t, dir, "notes.txt", "ignore me")

	f, err := LatestFile(dir)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if filepath.Base(f.Path) != "listing_snapshot_2026-05-03_120000.csv" {
		t.Errorf("最新ファイルの選択が誤り: %s", f.Path)
	}
	want := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)
	if !f.TakenAt.Equal(want) {
		t.Errorf("TakenAt = %v, want %v", f.TakenAt, want)
	}
}

func TestLatestFile_Empty_ReturnsErrNoSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "other_data.csv", "a,b\n1,2\n")

	_, err := LatestFile(dir)
	if !errors.Is(err, model.ErrNoSnapshot) {
		t.Fatalf("ErrNoSnapshotを期待したが得られたのは: %v", err)
	}
}

func TestLatestFile_BadTimestamp_FallsBackToMtime(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "listing_snapshot_manual.csv", validCSV)

	f, err := LatestFile(dir)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if f.TakenAt.IsZero() {
		t.Error("mtimeフォールバックが機能していない")
	}
}

func TestLoad_ParsesHeaderMappedColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "listing_snapshot_2026-05-01_120000.csv", validCSV)

	items, err := Load(path)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("件数 = %d, want 2", len(items))
	}
	first := items[0]
	if first.ItemID != "ITM001" || first.BrandRaw != "zara" || first.Price != 15.5 {
		t.Errorf("レコードの解釈が誤り: %+v", first)
	}
	if first.PublishedAt == nil {
		t.Error("published_atが解釈されていない")
	}
	if items[1].PublishedAt != nil {
		t.Error("空のpublished_atはnilであるべき")
	}
}

func TestLoad_ColumnOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	reordered := `price,item_id,title,brand_raw
9.99,ITM010,Camiseta tee,nike
`
	path := writeFile(t, dir, "listing_snapshot_2026-05-01_120000.csv", reordered)

	items, err := Load(path)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if items[0].ItemID != "ITM010" || items[0].Price != 9.99 {
		t.Errorf("列順非依存の解釈が誤り: %+v", items[0])
	}
}

func TestLoad_DuplicateItemID_ReturnsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	dup := `item_id,price
ITM001,10.0
ITM001,12.0
`
	path := writeFile(t, dir, "listing_snapshot_2026-05-01_120000.csv", dup)

	_, err := Load(path)
	var ie *model.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("IntegrityErrorを期待したが得られたのは: %v", err)
	}
	if ie.ItemID != "ITM001" {
		t.Errorf("ItemID = %q, want ITM001", ie.ItemID)
	}
}

func TestLoad_MissingItemIDColumn_Fails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "listing_snapshot_2026-05-01_120000.csv", "id,price\nX,1\n")

	if _, err := Load(path); err == nil {
		t.Fatal("item_id列欠落でエラーになるべき")
	}
}
