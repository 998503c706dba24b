// Package layout regroups positioned PDF text runs into reading-order lines and
// trims them to the receipt body.
package layout

import (
	"slices"
	"sort"
	"strings"
)

// LineTolerance is the vertical distance within which runs share a line.
const LineTolerance = 6.0

// Run is one fragment of text as placed on a page. Y grows upwards, so
// reading order is descending Y.
type Run struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

const (
	startMarker = "issuing office"
	binMarker   = "bin"
)

var noiseMarkers = []string{"money receipt", "mushak"}

// Document is the trimmed receipt body.
type Document struct {
	Lines []string `json:"lines"`
	// BINLine is the first line on the page mentioning BIN, if any.
	BINLine string `json:"binLine,omitempty"`
}

// Text joins the document lines with newlines.
func (d Document) Text() string {
	return strings.Join(d.Lines, "\n")
}

// Empty reports whether nothing was captured.
func (d Document) Empty() bool {
	return len(d.Lines) == 0
}

// GroupLines orders runs top-to-bottom, left-to-right and merges runs whose Y
// lies within LineTolerance of the line's first run.
func GroupLines(runs []Run) []string {
	kept := make([]Run, 0, len(runs))
	for _, r := range runs {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Y != kept[j].Y {
			return kept[i].Y > kept[j].Y
		}
		return kept[i].X < kept[j].X
	})

	var lines []string
	var current []string
	var lineY float64
	for i, r := range kept {
		if i == 0 || lineY-r.Y > LineTolerance {
			if len(current) > 0 {
				lines = append(lines, strings.Join(current, " "))
			}
			current = current[:0]
			lineY = r.Y
		}
		current = append(current, strings.TrimSpace(r.Text))
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return lines
}

// Reconstruct builds the receipt body from the runs of a single page. Lines
// before the issuing office marker are dropped, as are noise headers inside
// the body. The page's BIN line is hoisted to the top when the body lacks it.
func Reconstruct(runs []Run) Document {
	return Trim(GroupLines(runs))
}

// Trim applies the capture rules of Reconstruct to already grouped lines.
func Trim(lines []string) Document {
	var doc Document
	capturing := false
	for _, line := range lines {
		lower := strings.ToLower(line)
		if doc.BINLine == "" && strings.Contains(lower, binMarker) {
			doc.BINLine = line
		}
		if !capturing {
			if !strings.Contains(lower, startMarker) {
				continue
			}
			capturing = true
		}
		if isNoise(lower) {
			continue
		}
		doc.Lines = append(doc.Lines, line)
	}

	if doc.BINLine != "" && !slices.Contains(doc.Lines, doc.BINLine) {
		doc.Lines = append([]string{doc.BINLine}, doc.Lines...)
	}
	return doc
}

func isNoise(lower string) bool {
	for _, m := range noiseMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
