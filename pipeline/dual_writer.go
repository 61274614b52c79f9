package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// DualWriter exports to CSV and JSON lines at the same time.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
}

// NewDualWriter opens both outputs. If the second cannot be created the
// first is closed again.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("json writer: %w", err)
	}
	return &DualWriter{csv: csvWriter, json: jsonWriter}, nil
}

// Write sends products to both outputs. Each writer serializes itself.
func (dw *DualWriter) Write(products []*models.Product) error {
	if err := dw.csv.Write(products); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	if err := dw.json.Write(products); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// Close closes both writers and joins their errors.
func (dw *DualWriter) Close() error {
	return errors.Join(dw.csv.Close(), dw.json.Close())
}

// Validate checks both output files.
func (dw *DualWriter) Validate() error {
	return errors.Join(dw.csv.Validate(), dw.json.Validate())
}

// NewWriter builds the writer for format. For "dual" filename names the CSV
// file and the JSON lines file takes the same stem with a .jsonl extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		stem := strings.TrimSuffix(filename, ".csv")
		return NewDualWriter(stem+".csv", stem+".jsonl")
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
