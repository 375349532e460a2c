package multimodal

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/docker/go-units"
)

const codePreviewLimit = 1000

// CodeBasicInfo describes the analyzed source file.
type CodeBasicInfo struct {
	Filename  string `json:"filename"`
	Language  string `json:"language"`
	SizeBytes int    `json:"size_bytes"`
	Lines     int    `json:"lines"`
}

// CodeMetrics are line-level measurements.
type CodeMetrics struct {
	TotalLines   int     `json:"total_lines"`
	NonEmpty     int     `json:"non_empty_lines"`
	CommentLines int     `json:"comment_lines"`
	AvgLineLen   float64 `json:"avg_line_length"`
}

// CodeStructure is the per-language structural summary. Decorators only
// applies to languages that have them; it stays empty elsewhere.
type CodeStructure struct {
	Functions  []string `json:"functions"`
	Classes    []string `json:"classes"`
	Imports    []string `json:"imports"`
	Decorators []string `json:"decorators,omitempty"`
}

// CodeAnalysis is the full structured output of the code analyzer.
type CodeAnalysis struct {
	BasicInfo CodeBasicInfo  `json:"basic_info"`
	Metrics   CodeMetrics    `json:"metrics"`
	Structure *CodeStructure `json:"structure,omitempty"`
	Preview   string         `json:"preview"`
}

// StructureAnalyzer extracts declarations from one language's source text.
// Implementations are line-oriented heuristics, not real parsers.
type StructureAnalyzer interface {
	Analyze(lines []string) CodeStructure
}

// commentMarkers maps extensions to their line comment prefix for the metrics
// pass.
var commentMarkers = map[string]string{
	".py":   "#",
	".yaml": "#",
	".yml":  "#",
	".js":   "//",
	".ts":   "//",
	".css":  "//",
	".html": "<!--",
	".md":   "<!--",
}

var languageNames = map[string]string{
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".html": "HTML",
	".css":  "CSS",
	".yaml": "YAML",
	".yml":  "YAML",
	".md":   "Markdown",
}

func (p *Processor) processCode(filename string, content []byte) Result {
	if !utf8.Valid(content) {
		return failure(fmt.Errorf("file is not valid UTF-8 text"))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	text := string(content)
	lines := strings.Split(text, "\n")

	marker := commentMarkers[ext]
	metrics := CodeMetrics{TotalLines: len(lines)}
	totalLen := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			metrics.NonEmpty++
		}
		if marker != "" && strings.HasPrefix(trimmed, marker) {
			metrics.CommentLines++
		}
		totalLen += len(line)
	}
	if len(lines) > 0 {
		metrics.AvgLineLen = float64(totalLen) / float64(len(lines))
	}

	analysis := &CodeAnalysis{
		BasicInfo: CodeBasicInfo{
			Filename:  filename,
			Language:  languageNames[ext],
			SizeBytes: len(content),
			Lines:     len(lines),
		},
		Metrics: metrics,
		Preview: preview(text),
	}

	if analyzer, ok := p.structure[ext]; ok {
		structure := analyzer.Analyze(lines)
		analysis.Structure = &structure
	}

	return Result{
		Success:  true,
		Kind:     "code",
		Analysis: analysis,
		Prompt:   codePrompt(analysis),
	}
}

func preview(text string) string {
	if len(text) <= codePreviewLimit {
		return text
	}
	// Cut on a rune boundary so the preview stays valid UTF-8.
	cut := codePreviewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// pythonStructure recognizes top-level and indented def/class declarations,
// import lines, and decorator lines.
type pythonStructure struct{}

var (
	pyFuncRe      = regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)\s*\(`)
	pyClassRe     = regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)
	pyImportRe    = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	pyDecoratorRe = regexp.MustCompile(`^\s*@([\w.]+)`)
)

func (pythonStructure) Analyze(lines []string) CodeStructure {
	s := CodeStructure{Functions: []string{}, Classes: []string{}, Imports: []string{}}
	for _, line := range lines {
		if m := pyFuncRe.FindStringSubmatch(line); m != nil {
			s.Functions = append(s.Functions, m[1])
		}
		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			s.Classes = append(s.Classes, m[1])
		}
		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			if m[1] != "" {
				s.Imports = append(s.Imports, m[1])
			} else {
				s.Imports = append(s.Imports, m[2])
			}
		}
		if m := pyDecoratorRe.FindStringSubmatch(line); m != nil {
			s.Decorators = append(s.Decorators, m[1])
		}
	}
	return s
}

// javascriptStructure recognizes function declarations, arrow-function
// assignments, class declarations, and import/require sources. It covers
// TypeScript as well since the declaration forms match at this granularity.
type javascriptStructure struct{}

var (
	jsFuncRe = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	// Declaration assignments of arrows: a parameter list opening on the same
	// line, or a paren-less arrow anywhere on it. Inline arrows passed as
	// arguments are not declarations and stay uncounted.
	jsArrowRe   = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\(|.*=>)`)
	jsClassRe   = regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][\w$]*)`)
	jsImportRe  = regexp.MustCompile(`^\s*import\s+.*?from\s+['"]([^'"]+)['"]`)
	jsRequireRe = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
)

func (javascriptStructure) Analyze(lines []string) CodeStructure {
	s := CodeStructure{Functions: []string{}, Classes: []string{}, Imports: []string{}}
	for _, line := range lines {
		if m := jsFuncRe.FindStringSubmatch(line); m != nil {
			s.Functions = append(s.Functions, m[1])
		} else if m := jsArrowRe.FindStringSubmatch(line); m != nil {
			s.Functions = append(s.Functions, m[1])
		}
		if m := jsClassRe.FindStringSubmatch(line); m != nil {
			s.Classes = append(s.Classes, m[1])
		}
		if m := jsImportRe.FindStringSubmatch(line); m != nil {
			s.Imports = append(s.Imports, m[1])
		} else if m := jsRequireRe.FindStringSubmatch(line); m != nil {
			s.Imports = append(s.Imports, m[1])
		}
	}
	return s
}

func codePrompt(a *CodeAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, `I've analyzed a %s file with the following characteristics:
- Lines: %d (%d non-empty, %d comments)
- File size: %s
`,
		displayLanguage(a.BasicInfo.Language),
		a.Metrics.TotalLines, a.Metrics.NonEmpty, a.Metrics.CommentLines,
		units.HumanSize(float64(a.BasicInfo.SizeBytes)),
	)

	if a.Structure != nil {
		fmt.Fprintf(&b, "- Functions: %d\n- Classes: %d\n- Imports: %d\n",
			len(a.Structure.Functions), len(a.Structure.Classes), len(a.Structure.Imports))
	}

	fmt.Fprintf(&b, `
Code preview:
%s

Please review this code and provide insights about its purpose, quality, and any improvements you would suggest.`, a.Preview)

	return b.String()
}

func displayLanguage(lang string) string {
	if lang == "" {
		return "code"
	}
	return lang
}
