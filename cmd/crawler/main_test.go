package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peruprices/crawler/models"
)

func TestCreateWriterFactory(t *testing.T) {
	tests := []struct {
		format string
		files  []string
	}{
		{format: "csv", files: []string{"metro_20260101.csv"}},
		{format: "json", files: []string{"metro_20260101.json"}},
		{format: "dual", files: []string{"metro_20260101.csv", "metro_20260101.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			factory, err := createWriterFactory(tt.format, dir)
			if err != nil {
				t.Fatalf("createWriterFactory(%q) error = %v", tt.format, err)
			}

			writer, err := factory("metro", "20260101")
			if err != nil {
				t.Fatalf("factory() error = %v", err)
			}
			if err := writer.Write([]models.Record{{ID: "p1", Name: "Leche Gloria"}}); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			for _, file := range tt.files {
				if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
					t.Errorf("expected output file %s: %v", file, err)
				}
			}
		})
	}
}

func TestCreateWriterFactoryRejectsUnknownFormat(t *testing.T) {
	if _, err := createWriterFactory("xml", t.TempDir()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
