package multimodal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"sort"

	"github.com/docker/go-units"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Analysis thresholds. These are heuristics, not physical constants; tune
// them if the complexity labels feel off for a deployment's typical content.
const (
	edgeGradientThreshold = 30   // gray-level gradient magnitude counted as an edge
	complexityLowMax      = 0.05 // edge density below this is "low"
	complexityMediumMax   = 0.1  // below this is "medium", else "high"
	chartRegionMinArea    = 1000 // px², minimum bounding box kept as a chart candidate
	maxChartRegions       = 5
	thumbnailMaxDim       = 150
)

// ImageBasicInfo describes the decoded image.
type ImageBasicInfo struct {
	Filename  string `json:"filename"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Mode      string `json:"mode"`
	Format    string `json:"format"`
	SizeBytes int    `json:"size_bytes"`
}

// VisualAnalysis holds the coarse visual statistics.
type VisualAnalysis struct {
	DominantColors map[string]float64 `json:"dominant_colors"` // mean blue/green/red channel values
	EdgeDensity    float64            `json:"edge_density"`
	Brightness     float64            `json:"brightness"`
	Complexity     string             `json:"complexity"` // low | medium | high
}

// ChartRegion is one candidate chart bounding box.
type ChartRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
	Area   int `json:"area"`
}

// ChartDetection summarizes the chart-region heuristic.
type ChartDetection struct {
	PotentialCharts int           `json:"potential_charts"`
	Regions         []ChartRegion `json:"chart_regions"`
	Note            string        `json:"analysis"`
}

// ImageAnalysis is the full structured output of the image analyzer.
type ImageAnalysis struct {
	BasicInfo ImageBasicInfo `json:"basic_info"`
	Visual    VisualAnalysis `json:"visual_analysis"`
	Charts    ChartDetection `json:"data_extraction"`
	Thumbnail string         `json:"base64_thumbnail"`
}

func (p *Processor) processImage(filename string, content []byte) Result {
	img, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return failure(fmt.Errorf("failed to decode image: %w", err))
	}

	bounds := img.Bounds()
	gray := toGray(img)

	analysis := &ImageAnalysis{
		BasicInfo: ImageBasicInfo{
			Filename:  filename,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			Mode:      colorMode(img),
			Format:    format,
			SizeBytes: len(content),
		},
		Visual:    analyzeVisual(img, gray),
		Charts:    detectChartRegions(gray),
		Thumbnail: thumbnailBase64(img),
	}

	return Result{
		Success:  true,
		Kind:     "image",
		Analysis: analysis,
		Prompt:   imagePrompt(analysis),
	}
}

// colorMode reports a coarse color model name for the decoded image.
func colorMode(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "grayscale"
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64:
		return "RGBA"
	case *image.Paletted:
		return "palette"
	default:
		return "RGB"
	}
}

// toGray renders the image into a Gray buffer for the pixel-level passes.
func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray
}

// analyzeVisual computes mean channel values, edge density from gradient
// magnitude, brightness, and the complexity label.
func analyzeVisual(img image.Image, gray *image.Gray) VisualAnalysis {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	total := float64(width * height)

	var sumR, sumG, sumB, sumLuma float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sumR += float64(r >> 8)
			sumG += float64(g >> 8)
			sumB += float64(b >> 8)
			sumLuma += float64(gray.GrayAt(x, y).Y)
		}
	}

	// Edge density: fraction of pixels whose gradient magnitude crosses the
	// threshold, using horizontal and vertical differences on the gray image.
	edges := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gx, gy := 0, 0
			v := int(gray.GrayAt(x, y).Y)
			if x+1 < bounds.Max.X {
				gx = int(gray.GrayAt(x+1, y).Y) - v
			}
			if y+1 < bounds.Max.Y {
				gy = int(gray.GrayAt(x, y+1).Y) - v
			}
			if abs(gx)+abs(gy) > edgeGradientThreshold {
				edges++
			}
		}
	}

	edgeDensity := float64(edges) / total

	complexity := "high"
	if edgeDensity < complexityLowMax {
		complexity = "low"
	} else if edgeDensity < complexityMediumMax {
		complexity = "medium"
	}

	return VisualAnalysis{
		DominantColors: map[string]float64{
			"blue":  sumB / total,
			"green": sumG / total,
			"red":   sumR / total,
		},
		EdgeDensity: edgeDensity,
		Brightness:  sumLuma / total,
		Complexity:  complexity,
	}
}

// detectChartRegions finds connected components of non-black pixels and
// keeps their bounding boxes when large enough. Regions are sorted by area
// descending so the result is deterministic.
func detectChartRegions(gray *image.Gray) ChartDetection {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	visited := make([]bool, width*height)

	at := func(x, y int) bool {
		return gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y > 0
	}

	var regions []ChartRegion
	var queue [][2]int

	for sy := 0; sy < height; sy++ {
		for sx := 0; sx < width; sx++ {
			idx := sy*width + sx
			if visited[idx] || !at(sx, sy) {
				continue
			}

			// Flood fill one component, tracking its bounding box.
			minX, minY, maxX, maxY := sx, sy, sx, sy
			queue = queue[:0]
			queue = append(queue, [2]int{sx, sy})
			visited[idx] = true

			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				x, y := p[0], p[1]

				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}

				for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := x+d[0], y+d[1]
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					nidx := ny*width + nx
					if visited[nidx] || !at(nx, ny) {
						continue
					}
					visited[nidx] = true
					queue = append(queue, [2]int{nx, ny})
				}
			}

			w := maxX - minX + 1
			h := maxY - minY + 1
			if w*h > chartRegionMinArea {
				regions = append(regions, ChartRegion{X: minX, Y: minY, Width: w, Height: h, Area: w * h})
			}
		}
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Area > regions[j].Area })
	total := len(regions)
	if len(regions) > maxChartRegions {
		regions = regions[:maxChartRegions]
	}
	if regions == nil {
		regions = []ChartRegion{}
	}

	return ChartDetection{
		PotentialCharts: total,
		Regions:         regions,
		Note:            "Basic chart detection - OCR would be needed for data extraction",
	}
}

// thumbnailBase64 renders an aspect-preserving thumbnail capped at
// thumbnailMaxDim on the longer side, PNG-encoded and base64'd.
func thumbnailBase64(img image.Image) string {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return ""
	}

	scale := 1.0
	if w > h {
		if w > thumbnailMaxDim {
			scale = float64(thumbnailMaxDim) / float64(w)
		}
	} else {
		if h > thumbnailMaxDim {
			scale = float64(thumbnailMaxDim) / float64(h)
		}
	}

	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	thumb := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func imagePrompt(a *ImageAnalysis) string {
	return fmt.Sprintf(`I've analyzed an image with the following characteristics:
- Dimensions: %dx%d pixels
- Format: %s
- File size: %s
- Brightness level: %.1f
- Complexity: %s
- Edge density: %.3f

Please provide insights about this image and suggest how it might be used or what it represents.
If it appears to be a chart or graph, help extract or interpret the data it contains.`,
		a.BasicInfo.Width, a.BasicInfo.Height,
		a.BasicInfo.Format,
		units.HumanSize(float64(a.BasicInfo.SizeBytes)),
		a.Visual.Brightness,
		a.Visual.Complexity,
		a.Visual.EdgeDensity,
	)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
