package io

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/pipeframe/internal/dataframe"
	"github.com/paveg/pipeframe/internal/series"
)

// CSVReader reads CSV data and converts it to DataFrames
type CSVReader struct {
	reader  io.Reader
	options CSVOptions
	mem     memory.Allocator
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options CSVOptions, mem memory.Allocator) *CSVReader {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &CSVReader{reader: reader, options: options, mem: mem}
}

// Read reads CSV data and returns a DataFrame. Each column takes the
// narrowest of int64, float64, bool and utf8 that holds all of its
// non-empty cells; empty cells are null.
func (r *CSVReader) Read(ctx context.Context) (*dataframe.DataFrame, error) {
	cr := csv.NewReader(r.reader)
	cr.Comma = r.options.Delimiter
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return dataframe.New(), nil
	}

	var headers []string
	rows := records
	if r.options.Header {
		headers, rows = records[0], records[1:]
	} else {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("column_%d", i)
		}
	}

	cols := make([]dataframe.ISeries, 0, len(headers))
	cells := make([]string, len(rows))
	for c, header := range headers {
		for i, row := range rows {
			cells[i] = ""
			if c < len(row) {
				cells[i] = row[c]
			}
		}
		s, err := r.column(header, cells)
		if err != nil {
			releaseSeries(cols)
			return nil, fmt.Errorf("creating series for column %s: %w", header, err)
		}
		cols = append(cols, s)
	}
	return newFrame(r.mem, cols)
}

// column creates a series from the raw cells of one column.
func (r *CSVReader) column(name string, cells []string) (*series.Series, error) {
	valid := make([]bool, len(cells))
	for i, cell := range cells {
		valid[i] = cell != ""
	}

	switch inferCSVType(cells) {
	case arrow.INT64:
		values := make([]int64, len(cells))
		for i, cell := range cells {
			if valid[i] {
				v, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
		}
		return series.NewNullable(name, values, valid, r.mem), nil
	case arrow.FLOAT64:
		values := make([]float64, len(cells))
		for i, cell := range cells {
			if valid[i] {
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
		}
		return series.NewNullable(name, values, valid, r.mem), nil
	case arrow.BOOL:
		values := make([]bool, len(cells))
		for i, cell := range cells {
			values[i] = valid[i] && strings.EqualFold(cell, "true")
		}
		return series.NewNullable(name, values, valid, r.mem), nil
	default:
		values := make([]string, len(cells))
		copy(values, cells)
		return series.NewNullable(name, values, valid, r.mem), nil
	}
}

// inferCSVType returns the narrowest type every non-empty cell parses as.
// A column of only empty cells is utf8.
func inferCSVType(cells []string) arrow.Type {
	isInt, isFloat, isBool, seen := true, true, true, false
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			isBool = strings.EqualFold(cell, "true") || strings.EqualFold(cell, "false")
		}
		if !isInt && !isFloat && !isBool {
			return arrow.STRING
		}
	}
	switch {
	case !seen:
		return arrow.STRING
	case isInt:
		return arrow.INT64
	case isFloat:
		return arrow.FLOAT64
	case isBool:
		return arrow.BOOL
	}
	return arrow.STRING
}

// CSVWriter writes DataFrames to CSV format
type CSVWriter struct {
	writer  io.Writer
	options CSVOptions
}

// NewCSVWriter creates a new CSV writer with the specified options
func NewCSVWriter(writer io.Writer, options CSVOptions) *CSVWriter {
	return &CSVWriter{writer: writer, options: options}
}

// Write writes the DataFrame as CSV. Nulls are written as empty cells,
// dates as YYYY-MM-DD and timestamps in RFC 3339.
func (w *CSVWriter) Write(ctx context.Context, df *dataframe.DataFrame) error {
	cw := csv.NewWriter(w.writer)
	cw.Comma = w.options.Delimiter

	names := df.Columns()
	if w.options.Header {
		if err := cw.Write(names); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
	}

	arrs := columnArrays(df)
	defer releaseArrays(arrs)

	record := make([]string, len(names))
	for row := range df.Len() {
		if row%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for i, arr := range arrs {
			record[i] = series.FormatAt(arr, row)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
