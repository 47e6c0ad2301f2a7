package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"mindgrate/backend/internal/apperr"
	"mindgrate/backend/pkg/models"
)

const (
	maxSpreadsheetRows = 5000
	ingestConcurrency  = 4
)

// ParseSpreadsheet reads CSV with a header row and renders every non-blank
// data row as "header: value" lines. Empty cells are left out.
func ParseSpreadsheet(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.Validation("spreadsheet is empty")
	}
	if err != nil {
		return nil, apperr.Validation("invalid CSV header: %v", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			header[i] = fmt.Sprintf("column %d", i+1)
		}
	}

	var rows []string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("invalid CSV: %v", err)
		}
		var b strings.Builder
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v == "" || i >= len(header) {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", header[i], v)
		}
		if b.Len() == 0 {
			continue
		}
		if len(rows) == maxSpreadsheetRows {
			return nil, apperr.Validation("spreadsheet has more than %d rows", maxSpreadsheetRows)
		}
		rows = append(rows, strings.TrimSuffix(b.String(), "\n"))
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("spreadsheet has no data rows")
	}
	return rows, nil
}

// IngestSpreadsheet stores each CSV row as a document in the caller's MindOp
// collection. Rows are stored all together or not at all.
func (s *MindOpService) IngestSpreadsheet(ctx context.Context, userID, filename string, r io.Reader) (*models.IngestResult, error) {
	mine, err := ownMindOp(ctx, s.mindops, userID)
	if err != nil {
		return nil, err
	}
	rows, err := ParseSpreadsheet(r)
	if err != nil {
		return nil, err
	}
	col, err := s.vectors.EnsureMindOpCollection(ctx, mine)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = "spreadsheet"
	}
	docs := make([]*models.Document, len(rows))
	for i, content := range rows {
		docs[i] = &models.Document{
			CollectionID: col.ID,
			UserID:       userID,
			Title:        fmt.Sprintf("%s row %d", name, i+1),
			Content:      content,
			Metadata:     models.Metadata{"source": name, "row": i + 1},
		}
	}
	chunks, err := s.vectors.storeDocuments(ctx, docs, ingestConcurrency)
	if err != nil {
		return nil, err
	}

	result := &models.IngestResult{DocumentIDs: make([]string, len(docs)), Rows: len(rows), Chunks: chunks}
	for i, d := range docs {
		result.DocumentIDs[i] = d.ID
	}
	s.logger.Info("spreadsheet ingested", "mindop_id", mine.ID, "file", name, "rows", result.Rows, "chunks", result.Chunks)
	return result, nil
}
