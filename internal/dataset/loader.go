package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// LoadOptions controls how raw files are typed into columns.
type LoadOptions struct {
	// Categorical lists columns to read as categorical. Columns whose values
	// do not all parse as numbers are categorical regardless.
	Categorical []string
	// Levels fixes the level order of categorical columns.
	Levels map[string][]string
	// Columns restricts the loaded columns. Empty means all.
	Columns []string
}

func (o LoadOptions) isCategorical(name string) bool {
	for _, c := range o.Categorical {
		if c == name {
			return true
		}
	}
	_, ok := o.Levels[name]
	return ok
}

func (o LoadOptions) wants(name string) bool {
	if len(o.Columns) == 0 {
		return true
	}
	for _, c := range o.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string, opts LoadOptions) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	d, err := ReadCSV(file, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", d.Rows()).
		Strs("columns", d.Names()).
		Msg("CSV data loaded successfully")
	return d, nil
}

// ReadCSV parses CSV content with a header row.
func ReadCSV(r io.Reader, opts LoadOptions) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	raw := make([][]string, len(header))
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i := range header {
			raw[i] = append(raw[i], record[i])
		}
	}

	var cols []*Column
	for i, name := range header {
		if !opts.wants(name) {
			continue
		}
		c, err := buildColumn(name, raw[i], opts)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// LoadJSON reads a JSON array of objects, one object per row, each mapping
// feature name to a number or string.
func LoadJSON(path string, opts LoadOptions) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse JSON file: %w", err)
	}
	d, err := FromRecords(records, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", d.Rows()).
		Msg("JSON data loaded successfully")
	return d, nil
}

// FromRecords builds a dataset from row mappings. Every row must carry the
// same set of feature names. Columns are ordered by name.
func FromRecords(records []map[string]any, opts LoadOptions) (*Dataset, error) {
	if len(records) == 0 {
		return New()
	}
	names := make([]string, 0, len(records[0]))
	for k := range records[0] {
		if opts.wants(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	raw := make([][]string, len(names))
	for ri, rec := range records {
		if len(rec) != len(records[0]) {
			return nil, fmt.Errorf("row %d has %d features, want %d", ri, len(rec), len(records[0]))
		}
		for ci, name := range names {
			v, ok := rec[name]
			if !ok {
				return nil, fmt.Errorf("row %d: missing feature %q", ri, name)
			}
			switch x := v.(type) {
			case float64:
				raw[ci] = append(raw[ci], strconv.FormatFloat(x, 'g', -1, 64))
			case string:
				raw[ci] = append(raw[ci], x)
			case bool:
				raw[ci] = append(raw[ci], strconv.FormatBool(x))
			default:
				return nil, fmt.Errorf("row %d: feature %q has unsupported type %T", ri, name, v)
			}
		}
	}

	cols := make([]*Column, len(names))
	for i, name := range names {
		c, err := buildColumn(name, raw[i], opts)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return New(cols...)
}

func buildColumn(name string, raw []string, opts LoadOptions) (*Column, error) {
	if !opts.isCategorical(name) {
		values := make([]float64, len(raw))
		numeric := true
		for i, s := range raw {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				numeric = false
				break
			}
			values[i] = v
		}
		if numeric {
			return NewNumeric(name, values), nil
		}
	}
	if levels, ok := opts.Levels[name]; ok {
		return NewCategoricalLevels(name, raw, levels)
	}
	return NewCategorical(name, raw), nil
}
