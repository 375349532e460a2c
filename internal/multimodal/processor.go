package multimodal

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
)

// SupportedFormats lists the extensions each analyzer accepts.
type SupportedFormats struct {
	Images []string `json:"images"`
	Data   []string `json:"data"`
	Code   []string `json:"code"`
}

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tiff": true, ".webp": true,
	}
	dataExtensions = map[string]bool{
		".csv": true, ".json": true, ".xlsx": true, ".tsv": true,
	}
	codeExtensions = map[string]bool{
		".py": true, ".js": true, ".ts": true, ".html": true, ".css": true,
		".yaml": true, ".yml": true, ".md": true,
	}
)

// Formats returns the declared supported extension sets, sorted for stable
// output.
func Formats() SupportedFormats {
	return SupportedFormats{
		Images: sortedKeys(imageExtensions),
		Data:   sortedKeys(dataExtensions),
		Code:   sortedKeys(codeExtensions),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the structured outcome of analyzing one artifact. Analysis holds
// the modality-specific struct (*ImageAnalysis, *DataAnalysis or
// *CodeAnalysis); Prompt is the synthesized natural-language summary handed
// to the model for a narrative pass.
type Result struct {
	Success          bool              `json:"success"`
	Kind             string            `json:"type,omitempty"` // image | data | code
	Error            string            `json:"error,omitempty"`
	SupportedFormats *SupportedFormats `json:"supported_formats,omitempty"`
	Analysis         any               `json:"analysis,omitempty"`
	Prompt           string            `json:"ai_prompt,omitempty"`
	CapturedAt       string            `json:"capture_timestamp,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Processor routes uploaded artifacts to the matching analyzer by file
// extension. Unknown extensions produce a structured unsupported result, not
// an error.
type Processor struct {
	structure map[string]StructureAnalyzer
}

// NewProcessor creates a processor with the default per-language structure
// analyzers.
func NewProcessor() *Processor {
	return &Processor{
		structure: map[string]StructureAnalyzer{
			".py": pythonStructure{},
			".js": javascriptStructure{},
			".ts": javascriptStructure{},
		},
	}
}

// ProcessFile analyzes content according to the filename's extension.
// Analyzer failures are recovered into structured results; this method never
// returns an error to its caller.
func (p *Processor) ProcessFile(ctx context.Context, filename string, content []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("analyzer panic for %s: %v", filename, r)
			result = failure(fmt.Errorf("analysis failed: %v", r))
		}
	}()

	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case imageExtensions[ext]:
		return p.processImage(filename, content)
	case dataExtensions[ext]:
		return p.processData(filename, content)
	case codeExtensions[ext]:
		return p.processCode(filename, content)
	default:
		formats := Formats()
		return Result{
			Success:          false,
			Error:            fmt.Sprintf("Unsupported file format: %s", ext),
			SupportedFormats: &formats,
		}
	}
}
