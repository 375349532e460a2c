package dispatch

import (
	"math"
	"strconv"
)

// Payload is the variant-typed visualization attached to assistant turns.
// Kind selects which of the optional fields is populated; consumers switch
// over Kind and read exactly one branch. Keeping it a single tagged struct
// rather than an interface keeps the JSON shape flat for the frontend.
type Payload struct {
	Kind    string           `json:"type"` // chart | plot | table | code | text | system_dashboard | mermaid
	Title   string           `json:"title,omitempty"`
	Data    *SeriesData      `json:"data,omitempty"`    // chart, plot
	Table   *TableData       `json:"table,omitempty"`   // table
	Code    *CodeSnippet     `json:"code,omitempty"`    // code
	Text    string           `json:"text,omitempty"`    // text
	Panels  []DashboardPanel `json:"panels,omitempty"`  // system_dashboard
	Mermaid string           `json:"mermaid,omitempty"` // mermaid
}

// SeriesData is a labeled numeric series. Labels and Values are always the
// same length.
type SeriesData struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// TableData is a rendered table payload.
type TableData struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// CodeSnippet is a highlighted code block payload.
type CodeSnippet struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

// DashboardPanel is one metric tile of a system dashboard payload.
type DashboardPanel struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// NewChartPayload builds a sample bar chart.
func NewChartPayload(title string) *Payload {
	return &Payload{
		Kind:  "chart",
		Title: title,
		Data: &SeriesData{
			Labels: []string{"Q1", "Q2", "Q3", "Q4"},
			Values: []float64{120, 180, 150, 210},
		},
	}
}

// NewPlotPayload builds a sample line plot (one sine period, 32 samples).
func NewPlotPayload(title string) *Payload {
	const samples = 32
	labels := make([]string, samples)
	values := make([]float64, samples)
	for i := 0; i < samples; i++ {
		x := float64(i) / float64(samples-1) * 2 * math.Pi
		labels[i] = strconv.FormatFloat(x, 'f', 2, 64)
		values[i] = math.Sin(x)
	}
	return &Payload{
		Kind:  "plot",
		Title: title,
		Data:  &SeriesData{Labels: labels, Values: values},
	}
}

// NewTablePayload builds a sample data table.
func NewTablePayload(title string) *Payload {
	return &Payload{
		Kind:  "table",
		Title: title,
		Table: &TableData{
			Columns: []string{"Item", "Count", "Status"},
			Rows: [][]string{
				{"Alpha", "42", "active"},
				{"Beta", "17", "active"},
				{"Gamma", "8", "idle"},
			},
		},
	}
}

// NewCodePayload builds a sample code block.
func NewCodePayload(title string) *Payload {
	return &Payload{
		Kind:  "code",
		Title: title,
		Code: &CodeSnippet{
			Language: "python",
			Source: `def fibonacci(n):
    a, b = 0, 1
    for _ in range(n):
        a, b = b, a + b
    return a`,
		},
	}
}

// NewTextPayload wraps plain text as a visualization for uniform rendering.
func NewTextPayload(title, text string) *Payload {
	return &Payload{Kind: "text", Title: title, Text: text}
}

// NewDashboardPayload builds a sample system metrics dashboard.
func NewDashboardPayload(title string) *Payload {
	return &Payload{
		Kind:  "system_dashboard",
		Title: title,
		Panels: []DashboardPanel{
			{Label: "CPU", Value: 34.5, Unit: "%"},
			{Label: "Memory", Value: 61.2, Unit: "%"},
			{Label: "Disk", Value: 48.9, Unit: "%"},
		},
	}
}

// NewMermaidPayload wraps generated diagram markup.
func NewMermaidPayload(title, markup string) *Payload {
	return &Payload{Kind: "mermaid", Title: title, Mermaid: markup}
}
