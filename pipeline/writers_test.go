package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peruprices/crawler/models"
)

func sampleRecords() []models.Record {
	price := 1234.5
	return []models.Record{
		{ID: "sku-1", Brand: "Gloria", Name: "Leche", URL: "http://example.test/p/1", Category: "lacteos", Price: &price},
		{ID: "sku-2", Name: "Sin precio"},
	}
}

func TestCSVWriterRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSVWriter(filename)
	if err != nil {
		t.Fatalf("new csv writer: %v", err)
	}
	if err := w.Write(sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 records", len(rows))
	}
	if rows[0][0] != "id" || rows[0][5] != "price" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "sku-1" || rows[1][5] != "1234.5" {
		t.Fatalf("first record = %v", rows[1])
	}
	if rows[2][0] != "sku-2" || rows[2][5] != "" {
		t.Fatalf("record without price = %v", rows[2])
	}
}

func TestJSONWriterWritesJSONL(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.jsonl")

	w, err := NewJSONWriter(filename)
	if err != nil {
		t.Fatalf("new json writer: %v", err)
	}
	if err := w.Write(sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first models.Record
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.ID != "sku-1" || first.Price == nil || *first.Price != 1234.5 {
		t.Fatalf("first record = %+v", first)
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, hasPrice := second["price"]; hasPrice {
		t.Fatalf("absent price should be omitted, got %v", second)
	}
}

func TestJSONWriterValidateEmpty(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "empty.jsonl")

	w, err := NewJSONWriter(filename)
	if err != nil {
		t.Fatalf("new json writer: %v", err)
	}
	defer w.Close()

	if err := w.Validate(); err == nil {
		t.Fatalf("validate should fail on an empty file")
	}
}

func TestDualWriterWritesBoth(t *testing.T) {
	dir := t.TempDir()
	csvName := filepath.Join(dir, "out.csv")
	jsonName := filepath.Join(dir, "out.jsonl")

	w, err := NewDualWriter(csvName, jsonName)
	if err != nil {
		t.Fatalf("new dual writer: %v", err)
	}
	if err := w.Write(sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, name := range []string{csvName, jsonName} {
		info, err := os.Stat(name)
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
}

func TestEnsureDirCreatesParents(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "a", "b", "out.csv")

	w, err := NewCSVWriter(filename)
	if err != nil {
		t.Fatalf("new csv writer: %v", err)
	}
	w.Close()

	if _, err := os.Stat(filename); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}
