package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV loads a CSV table into a frame. Header names are lower-cased.
// A column is numeric when every non-empty cell parses as a float; empty
// cells become missing values.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		rows = append(rows, rec)
	}

	f := New(len(rows))
	for j, name := range header {
		numeric := true
		for _, rec := range rows {
			cell := strings.TrimSpace(rec[j])
			if cell == "" {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				numeric = false
				break
			}
		}

		miss := make([]bool, len(rows))
		if numeric {
			vals := make([]float64, len(rows))
			for i, rec := range rows {
				cell := strings.TrimSpace(rec[j])
				if cell == "" {
					miss[i] = true
					continue
				}
				vals[i], _ = strconv.ParseFloat(cell, 64)
			}
			if err := f.Add(name, NewNumericColumn(vals, miss)); err != nil {
				return nil, err
			}
			continue
		}

		vals := make([]string, len(rows))
		for i, rec := range rows {
			cell := strings.TrimSpace(rec[j])
			if cell == "" {
				miss[i] = true
				continue
			}
			vals[i] = cell
		}
		if err := f.Add(name, NewStringColumn(vals, miss)); err != nil {
			return nil, err
		}
	}

	return f, nil
}
