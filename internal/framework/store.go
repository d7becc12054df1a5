// internal/framework/store.go
package framework

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/internal/config"
)

// Store reads the framework once and writes the scored copy once.
type Store struct {
	InputPath  string
	Sheet      string
	OutputPath string
	logger     *zap.Logger
}

// NewStore builds a store from the evaluation settings.
func NewStore(cfg config.EvaluationConfig, logger *zap.Logger) *Store {
	sheet := cfg.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &Store{
		InputPath:  cfg.FrameworkPath,
		Sheet:      sheet,
		OutputPath: cfg.OutputPath,
		logger:     logger.Named("framework"),
	}
}

// Load reads the framework table. The format follows the file extension.
func (s *Store) Load() (*Table, error) {
	var records [][]string
	var err error

	switch ext := strings.ToLower(filepath.Ext(s.InputPath)); ext {
	case ".xlsx", ".xlsm":
		records, err = s.readXLSX(s.InputPath)
	case ".csv":
		records, err = readCSV(s.InputPath)
	default:
		return nil, fmt.Errorf("unsupported framework file type '%s'", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("framework file %s has no header row", s.InputPath)
	}

	t := NewTable(records[0], records[1:])
	cols := t.Columns()
	if cols.Description < 0 && cols.L2 < 0 {
		s.logger.Warn("Framework has neither a description nor an L2 column; the model will see sparse rows.",
			zap.Strings("header", records[0]))
	}
	s.logger.Info("Loaded scoring framework.",
		zap.String("path", s.InputPath),
		zap.Int("rows", t.Len()))
	return t, nil
}

func (s *Store) readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open framework workbook %s: %w", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(s.Sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet '%s' of %s: %w", s.Sheet, path, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open framework file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse framework file %s: %w", path, err)
	}
	return records, nil
}

// Save writes the table to the output path. When both input and output are
// workbooks, the input workbook is copied and only the output columns are
// written, so every other cell, sheet and style is preserved.
func (s *Store) Save(t *Table) error {
	if dir := filepath.Dir(s.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(s.OutputPath)); ext {
	case ".xlsx", ".xlsm":
		err = s.writeXLSX(t)
	case ".csv":
		err = writeCSV(s.OutputPath, t.Records())
	default:
		return fmt.Errorf("unsupported output file type '%s'", ext)
	}
	if err != nil {
		return err
	}

	s.logger.Info("Saved scored framework.",
		zap.String("path", s.OutputPath),
		zap.Int("rows", t.Len()),
		zap.Ints("scored_rows", t.Updated()))
	return nil
}

func (s *Store) writeXLSX(t *Table) error {
	f, fresh, err := s.openOutputWorkbook()
	if err != nil {
		return err
	}
	defer f.Close()

	header := t.Header()
	records := t.Records()

	cols := t.Columns()
	writeCols := []int{cols.Score, cols.Notes, cols.Evidence}
	if fresh {
		writeCols = writeCols[:0]
		for c := range header {
			writeCols = append(writeCols, c)
		}
	}

	// Records start with the header, so record i lands on sheet row i+1.
	for _, c := range writeCols {
		for i, rec := range records {
			if err := setCell(f, s.Sheet, c, i+1, rec[c]); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(s.OutputPath); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", s.OutputPath, err)
	}
	return nil
}

// openOutputWorkbook starts from the input workbook when there is one. A
// fresh workbook is reported so every column gets written.
func (s *Store) openOutputWorkbook() (*excelize.File, bool, error) {
	ext := strings.ToLower(filepath.Ext(s.InputPath))
	if ext == ".xlsx" || ext == ".xlsm" {
		f, err := excelize.OpenFile(s.InputPath)
		if err == nil {
			return f, false, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("failed to reopen framework workbook %s: %w", s.InputPath, err)
		}
	}

	f := excelize.NewFile()
	if s.Sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", s.Sheet); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("failed to name sheet '%s': %w", s.Sheet, err)
		}
	}
	return f, true, nil
}

func setCell(f *excelize.File, sheet string, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return fmt.Errorf("invalid cell coordinates (%d, %d): %w", col+1, row, err)
	}
	if err := f.SetCellStr(sheet, cell, value); err != nil {
		return fmt.Errorf("failed to write cell %s: %w", cell, err)
	}
	return nil
}

func writeCSV(path string, records [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
