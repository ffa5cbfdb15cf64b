package excel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/studybot/internal/tasks"
	"github.com/xuri/excelize/v2"
)

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath          string // Path to the Excel or CSV file
	SubjectColumn     string // Column with the subject key
	TopicColumn       string // Column with the topic
	TaskColumn        string // Column with the task text
	SubjectNameColumn string // Optional column with the subject display name
	SheetName         string // Sheet to import, the first sheet when empty
	StartRow          int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig(path string) ImportConfig {
	return ImportConfig{
		FilePath:          path,
		SubjectColumn:     "A",
		TopicColumn:       "B",
		TaskColumn:        "C",
		SubjectNameColumn: "D",
		StartRow:          2, // skip header
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Imported       int
	Skipped        int
	Errors         []string
	Entries        []tasks.Entry
}

// ImportTasks reads task rows from an Excel or CSV file
func ImportTasks(config ImportConfig) (*ImportResult, error) {
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		return importFromCSV(config)
	}
	return importFromExcel(config)
}

func importFromExcel(config ImportConfig) (*ImportResult, error) {
	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := config.SheetName
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		if i < config.StartRow-1 {
			continue
		}
		processRow(row, config, result, i+1)
	}
	return result, nil
}

func importFromCSV(config ImportConfig) (*ImportResult, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	result := &ImportResult{Errors: make([]string, 0)}
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}

		rowNum++
		if rowNum < config.StartRow {
			continue
		}
		processRow(row, config, result, rowNum)
	}
	return result, nil
}

func processRow(row []string, config ImportConfig, result *ImportResult, rowNum int) {
	if isBlank(row) {
		return
	}
	result.TotalProcessed++

	entry := tasks.Entry{
		Subject:     cell(row, config.SubjectColumn),
		Topic:       cell(row, config.TopicColumn),
		Task:        cell(row, config.TaskColumn),
		SubjectName: cell(row, config.SubjectNameColumn),
	}

	if err := validateEntry(entry); err != nil {
		result.Skipped++
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
		return
	}

	result.Imported++
	result.Entries = append(result.Entries, entry)
}

func validateEntry(e tasks.Entry) error {
	subject, topic := tasks.SubjectKey(e.Subject), tasks.NormalizeKey(e.Topic)
	switch {
	case subject == "":
		return errors.New("subject cannot be empty")
	case topic == "":
		return errors.New("topic cannot be empty")
	case e.Task == "":
		return errors.New("task cannot be empty")
	case !tasks.FitsCallback(subject, topic):
		return fmt.Errorf("subject %q and topic %q are too long for a button", subject, topic)
	}
	return nil
}

func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	if idx := columnToIndex(column); idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
