package multimodal

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/xeipuuv/gojsonschema"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/stat"
)

// jsonUploadSchema accepts the two shapes the analyzer can normalize: an
// array of objects (one row each) or a single object (one row).
const jsonUploadSchema = `{
	"oneOf": [
		{"type": "array", "items": {"type": "object"}},
		{"type": "object"}
	]
}`

// DataBasicInfo describes the loaded table.
type DataBasicInfo struct {
	Filename    string   `json:"filename"`
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	SizeBytes   int      `json:"size_bytes"`
	ColumnNames []string `json:"column_names"`
}

// ColumnStats are standard descriptive statistics for one numeric column.
type ColumnStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Q25   float64 `json:"25%"`
	Q50   float64 `json:"50%"`
	Q75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// VizSuggestion is one rule-based visualization idea for the dataset. These
// seed model-driven refinement rather than being final.
type VizSuggestion struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

// DataAnalysis is the full structured output of the tabular analyzer.
type DataAnalysis struct {
	BasicInfo     DataBasicInfo          `json:"basic_info"`
	DataTypes     map[string]string      `json:"data_types"`
	SummaryStats  map[string]ColumnStats `json:"summary_stats"`
	MissingValues map[string]int         `json:"missing_values"`
	SampleRows    []map[string]string    `json:"sample_data"`
	Suggestions   []VizSuggestion        `json:"visualization_suggestions"`
}

// table is the normalized row/column form every data format is loaded into.
type table struct {
	columns []string
	rows    [][]string // row-major, aligned with columns
}

func (p *Processor) processData(filename string, content []byte) Result {
	ext := strings.ToLower(filepath.Ext(filename))

	var tbl *table
	var err error
	switch ext {
	case ".csv":
		tbl, err = parseDelimited(content, ',')
	case ".tsv":
		tbl, err = parseDelimited(content, '\t')
	case ".xlsx":
		tbl, err = parseXLSX(content)
	case ".json":
		tbl, err = parseJSONTable(content)
	default:
		err = fmt.Errorf("unsupported data format: %s", ext)
	}
	if err != nil {
		return failure(err)
	}

	analysis := analyzeTable(filename, len(content), tbl)
	return Result{
		Success:  true,
		Kind:     "data",
		Analysis: analysis,
		Prompt:   dataPrompt(analysis),
	}
}

func parseDelimited(content []byte, sep rune) (*table, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = sep
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse delimited data: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty data file")
	}

	columns := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]string, len(columns))
		copy(row, record)
		rows = append(rows, row)
	}

	return &table{columns: columns, rows: rows}, nil
}

func parseXLSX(content []byte) (*table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	columns := records[0]
	rows := make([][]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]string, len(columns))
		copy(row, record)
		rows = append(rows, row)
	}

	return &table{columns: columns, rows: rows}, nil
}

// parseJSONTable validates the upload shape first, then normalizes: an array
// becomes one row per element, a single object becomes a one-row table.
// Nested objects are flattened with dotted keys; other non-scalar values are
// kept as their JSON encoding.
func parseJSONTable(content []byte) (*table, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(jsonUploadSchema),
		gojsonschema.NewBytesLoader(content),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("JSON must be an object or an array of objects")
	}

	var value any
	if err := json.Unmarshal(content, &value); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var objects []map[string]any
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("JSON array elements must be objects")
			}
			objects = append(objects, obj)
		}
	case map[string]any:
		objects = []map[string]any{v}
	}

	// Column order follows first appearance across rows.
	var columns []string
	seen := map[string]bool{}
	flattened := make([]map[string]string, 0, len(objects))
	for _, obj := range objects {
		flat := map[string]string{}
		flattenJSON("", obj, flat)
		keys := make([]string, 0, len(flat))
		for k := range flat {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		flattened = append(flattened, flat)
	}

	rows := make([][]string, 0, len(flattened))
	for _, flat := range flattened {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = flat[col]
		}
		rows = append(rows, row)
	}

	return &table{columns: columns, rows: rows}, nil
}

func flattenJSON(prefix string, obj map[string]any, out map[string]string) {
	for key, value := range obj {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenJSON(name, v, out)
		case nil:
			out[name] = ""
		case string:
			out[name] = v
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(v)
		default:
			encoded, _ := json.Marshal(v)
			out[name] = string(encoded)
		}
	}
}

// analyzeTable computes the schema, statistics and suggestions for a table.
func analyzeTable(filename string, sizeBytes int, tbl *table) *DataAnalysis {
	numericCols := classifyColumns(tbl)

	dataTypes := make(map[string]string, len(tbl.columns))
	missing := make(map[string]int, len(tbl.columns))
	stats := make(map[string]ColumnStats)

	for i, col := range tbl.columns {
		if numericCols[col] {
			dataTypes[col] = "numeric"
		} else {
			dataTypes[col] = "text"
		}

		var values []float64
		for _, row := range tbl.rows {
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				missing[col]++
				continue
			}
			if numericCols[col] {
				if v, err := strconv.ParseFloat(cell, 64); err == nil {
					values = append(values, v)
				}
			}
		}

		if numericCols[col] && len(values) > 0 {
			sort.Float64s(values)
			stats[col] = ColumnStats{
				Count: len(values),
				Mean:  stat.Mean(values, nil),
				Std:   stat.StdDev(values, nil),
				Min:   values[0],
				Q25:   stat.Quantile(0.25, stat.Empirical, values, nil),
				Q50:   stat.Quantile(0.5, stat.Empirical, values, nil),
				Q75:   stat.Quantile(0.75, stat.Empirical, values, nil),
				Max:   values[len(values)-1],
			}
		}
	}

	sampleCount := len(tbl.rows)
	if sampleCount > 5 {
		sampleCount = 5
	}
	samples := make([]map[string]string, 0, sampleCount)
	for _, row := range tbl.rows[:sampleCount] {
		sample := make(map[string]string, len(tbl.columns))
		for i, col := range tbl.columns {
			sample[col] = row[i]
		}
		samples = append(samples, sample)
	}

	return &DataAnalysis{
		BasicInfo: DataBasicInfo{
			Filename:    filename,
			Rows:        len(tbl.rows),
			Columns:     len(tbl.columns),
			SizeBytes:   sizeBytes,
			ColumnNames: tbl.columns,
		},
		DataTypes:     dataTypes,
		SummaryStats:  stats,
		MissingValues: missing,
		SampleRows:    samples,
		Suggestions:   suggestVisualizations(tbl.columns, numericCols),
	}
}

// classifyColumns marks a column numeric when every non-empty cell parses as
// a float and at least one cell is non-empty.
func classifyColumns(tbl *table) map[string]bool {
	numeric := make(map[string]bool, len(tbl.columns))
	for i, col := range tbl.columns {
		nonEmpty := 0
		isNumeric := true
		for _, row := range tbl.rows {
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			nonEmpty++
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isNumeric = false
				break
			}
		}
		if isNumeric && nonEmpty > 0 {
			numeric[col] = true
		}
	}
	return numeric
}

// suggestVisualizations applies the fixed suggestion rules: scatter for two
// numeric columns, bar for numeric-by-categorical, histogram for any numeric.
func suggestVisualizations(columns []string, numericSet map[string]bool) []VizSuggestion {
	var numeric, categorical []string
	for _, col := range columns {
		if numericSet[col] {
			numeric = append(numeric, col)
		} else {
			categorical = append(categorical, col)
		}
	}

	suggestions := []VizSuggestion{}

	if len(numeric) >= 2 {
		suggestions = append(suggestions, VizSuggestion{
			Type:        "scatter",
			Description: fmt.Sprintf("Scatter plot of %s vs %s", numeric[0], numeric[1]),
			Columns:     []string{numeric[0], numeric[1]},
		})
	}
	if len(numeric) >= 1 && len(categorical) >= 1 {
		suggestions = append(suggestions, VizSuggestion{
			Type:        "bar",
			Description: fmt.Sprintf("Bar chart of %s by %s", numeric[0], categorical[0]),
			Columns:     []string{categorical[0], numeric[0]},
		})
	}
	if len(numeric) >= 1 {
		suggestions = append(suggestions, VizSuggestion{
			Type:        "histogram",
			Description: fmt.Sprintf("Distribution of %s", numeric[0]),
			Columns:     []string{numeric[0]},
		})
	}

	return suggestions
}

func dataPrompt(a *DataAnalysis) string {
	preview, _ := json.MarshalIndent(firstN(a.SampleRows, 3), "", "  ")

	return fmt.Sprintf(`I've loaded a dataset with the following characteristics:
- Rows: %d
- Columns: %d
- File size: %s
- Column names: %s

Sample data preview:
%s

Please analyze this dataset and provide insights. Suggest appropriate visualizations and identify interesting patterns or relationships in the data.`,
		a.BasicInfo.Rows,
		a.BasicInfo.Columns,
		units.HumanSize(float64(a.BasicInfo.SizeBytes)),
		strings.Join(a.BasicInfo.ColumnNames, ", "),
		string(preview),
	)
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
