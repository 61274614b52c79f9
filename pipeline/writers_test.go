package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-figures/models"
)

func sampleProduct() *models.Product {
	price := int64(12800)
	release := "2025-03-01"
	return &models.Product{
		ID:           "FIGURE-172136",
		Source:       "amiami",
		Title:        "Rei Ayanami 1/7",
		URL:          "https://www.amiami.com/eng/detail/?gcode=FIGURE-172136",
		ImageURL:     "https://img.amiami.com/images/product/main/244/FIGURE-172136.jpg",
		SKU:          "FIGURE-172136",
		Brand:        "Kotobukiya",
		Price:        &price,
		Currency:     "JPY",
		Availability: models.PreOrder,
		ReleaseDate:  &release,
		IsPreorder:   true,
		Flags:        map[string]bool{"preorder": true, "limited": true, "on_sale": false},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "figures.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	bare := &models.Product{ID: "BANS1", Source: "hlj", Title: "Zaku"}
	if err := writer.Write([]*models.Product{sampleProduct(), bare}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "id" || records[0][8] != "price" || len(records[0]) != len(csvColumns) {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[8] != "12800" || row[10] != "Pre-order" || row[11] != "2025-03-01" || row[14] != "limited;preorder" {
		t.Fatalf("unexpected row: %v", row)
	}
	if records[2][8] != "" || records[2][11] != "" {
		t.Fatalf("null price and date should be empty cells: %v", records[2])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "figures.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.Product{sampleProduct(), {ID: "BANS1", Source: "hlj"}}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []map[string]any
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		lines = append(lines, decoded)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("json lines=%d, want 2", len(lines))
	}
	if lines[0]["availability"] != "Pre-order" || lines[0]["price"] != float64(12800) {
		t.Fatalf("unexpected first line: %v", lines[0])
	}
	if v, ok := lines[1]["price"]; !ok || v != nil {
		t.Fatalf("price should be an explicit null, got %v (present=%v)", v, ok)
	}
	if _, ok := lines[1]["created_at"]; ok {
		t.Fatalf("zero timestamps should be omitted")
	}
}

func TestNewWriterDual(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter("dual", filepath.Join(dir, "figures.csv"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	for _, name := range []string{"figures.csv", "figures.jsonl"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", name)
		}
	}
	if _, err := NewWriter("xml", filepath.Join(dir, "x.xml")); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
