package multimodal

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessFileUnsupportedExtension(t *testing.T) {
	p := NewProcessor()

	result := p.ProcessFile(context.Background(), "archive.zip", []byte("not really"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ".zip")
	require.NotNil(t, result.SupportedFormats)
	assert.Contains(t, result.SupportedFormats.Images, ".png")
	assert.Contains(t, result.SupportedFormats.Data, ".csv")
	assert.Contains(t, result.SupportedFormats.Code, ".py")
}

func TestProcessCodeRejectsBinary(t *testing.T) {
	p := NewProcessor()

	result := p.ProcessFile(context.Background(), "script.py", []byte{0xff, 0xfe, 0x00, 0x80})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "UTF-8")
}

func TestProcessCSV(t *testing.T) {
	p := NewProcessor()
	csvData := []byte("name,score,team\nalice,10,red\nbob,20,blue\ncarol,30,red\n")

	result := p.ProcessFile(context.Background(), "scores.csv", csvData)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "data", result.Kind)

	analysis, ok := result.Analysis.(*DataAnalysis)
	require.True(t, ok)
	assert.Equal(t, 3, analysis.BasicInfo.Rows)
	assert.Equal(t, 3, analysis.BasicInfo.Columns)
	assert.Equal(t, "numeric", analysis.DataTypes["score"])
	assert.Equal(t, "text", analysis.DataTypes["name"])

	stats := analysis.SummaryStats["score"]
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 20.0, stats.Mean, 1e-9)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 30.0, stats.Max)

	// One numeric and two text columns: bar and histogram, no scatter.
	types := make([]string, 0, len(analysis.Suggestions))
	for _, s := range analysis.Suggestions {
		types = append(types, s.Type)
	}
	assert.Equal(t, []string{"bar", "histogram"}, types)

	assert.Contains(t, result.Prompt, "Rows: 3")
	assert.Contains(t, result.Prompt, "name, score, team")
}

func TestCSVScatterAndBarSuggestions(t *testing.T) {
	p := NewProcessor()
	csvData := []byte("x,y,label\n1,2,a\n3,4,b\n5,6,c\n")

	result := p.ProcessFile(context.Background(), "metrics.csv", csvData)
	require.True(t, result.Success, result.Error)

	analysis := result.Analysis.(*DataAnalysis)
	types := make([]string, 0, len(analysis.Suggestions))
	for _, s := range analysis.Suggestions {
		types = append(types, s.Type)
	}
	// Two numeric columns and one categorical always yield both.
	assert.Contains(t, types, "scatter")
	assert.Contains(t, types, "bar")
}

func TestProcessJSONArray(t *testing.T) {
	p := NewProcessor()
	jsonData := []byte(`[{"city":"oslo","temp":12.5},{"city":"rome","temp":28}]`)

	result := p.ProcessFile(context.Background(), "weather.json", jsonData)
	require.True(t, result.Success, result.Error)

	analysis := result.Analysis.(*DataAnalysis)
	assert.Equal(t, 2, analysis.BasicInfo.Rows)
	assert.ElementsMatch(t, []string{"city", "temp"}, analysis.BasicInfo.ColumnNames)
	assert.Equal(t, "numeric", analysis.DataTypes["temp"])
}

func TestProcessJSONRejectsScalars(t *testing.T) {
	p := NewProcessor()

	result := p.ProcessFile(context.Background(), "value.json", []byte(`42`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "object")
}

func TestProcessImage(t *testing.T) {
	p := NewProcessor()

	// Black canvas with one large white block: a single chart candidate.
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	for y := 20; y < 100; y++ {
		for x := 40; x < 160; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	result := p.ProcessFile(context.Background(), "plot.png", buf.Bytes())
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "image", result.Kind)

	analysis, ok := result.Analysis.(*ImageAnalysis)
	require.True(t, ok)
	assert.Equal(t, 200, analysis.BasicInfo.Width)
	assert.Equal(t, 120, analysis.BasicInfo.Height)
	assert.Equal(t, "png", analysis.BasicInfo.Format)

	require.Equal(t, 1, analysis.Charts.PotentialCharts)
	region := analysis.Charts.Regions[0]
	assert.Equal(t, 40, region.X)
	assert.Equal(t, 20, region.Y)
	assert.Equal(t, 120, region.Width)
	assert.Equal(t, 80, region.Height)

	assert.NotEmpty(t, analysis.Thumbnail)
	assert.Contains(t, result.Prompt, "200x120")
}

func TestProcessImageBadBytes(t *testing.T) {
	p := NewProcessor()

	result := p.ProcessFile(context.Background(), "broken.png", []byte("not an image"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "decode")
}

func TestProcessPythonStructure(t *testing.T) {
	p := NewProcessor()
	src := []byte(`import os
from collections import deque

# helper
class Tracker:
    @staticmethod
    def record(item):
        pass

@functools.cache
def main():
    pass
`)

	result := p.ProcessFile(context.Background(), "tool.py", src)
	require.True(t, result.Success, result.Error)

	analysis := result.Analysis.(*CodeAnalysis)
	assert.Equal(t, "Python", analysis.BasicInfo.Language)
	require.NotNil(t, analysis.Structure)
	assert.Equal(t, []string{"record", "main"}, analysis.Structure.Functions)
	assert.Equal(t, []string{"Tracker"}, analysis.Structure.Classes)
	assert.Equal(t, []string{"os", "collections"}, analysis.Structure.Imports)
	assert.Equal(t, []string{"staticmethod", "functools.cache"}, analysis.Structure.Decorators)
	assert.Equal(t, 1, analysis.Metrics.CommentLines)
}

func TestProcessJavaScriptStructure(t *testing.T) {
	p := NewProcessor()
	src := []byte(`import { render } from "./view";
const load = async (url) => fetch(url);
const double = x => x * 2;
export class Store {}
function helper() {}
const db = require("sqlite3");
`)

	result := p.ProcessFile(context.Background(), "app.js", src)
	require.True(t, result.Success, result.Error)

	analysis := result.Analysis.(*CodeAnalysis)
	require.NotNil(t, analysis.Structure)
	assert.Equal(t, []string{"load", "double", "helper"}, analysis.Structure.Functions)
	assert.Equal(t, []string{"Store"}, analysis.Structure.Classes)
	assert.Equal(t, []string{"./view", "sqlite3"}, analysis.Structure.Imports)
	assert.Empty(t, analysis.Structure.Decorators)
}

func TestGenerateDiagram(t *testing.T) {
	d := GenerateDiagram("sequence", "login flow between client and server")
	assert.Equal(t, "sequence", d.DiagramType)
	assert.Contains(t, d.Code, "sequenceDiagram")
	assert.Equal(t, "mermaid", d.Format)
	assert.Equal(t, "login flow between client and server", d.Description)

	// Unrecognized types fall back to the minimal two-node graph.
	d = GenerateDiagram("mindmap", "something abstract")
	assert.Equal(t, "generic", d.DiagramType)
	assert.Contains(t, d.Code, "graph LR")
}
