package pdf

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// DefaultPreviewScale is the upscale factor applied to page 1.
	DefaultPreviewScale = 2
	maxPreviewWidth     = 5000
)

// Preview renders the scanned image of page 1 for visual checking. Receipts
// are scans, so page 1 is dominated by one raster image; the largest one is
// used.
type Preview struct {
	scale int
}

// NewPreview creates a Preview with the given scale factor.
func NewPreview(scale int) *Preview {
	if scale < 1 {
		scale = DefaultPreviewScale
	}
	return &Preview{scale: scale}
}

// Render returns page 1 as PNG. Callers treat any error as "no preview".
func (p *Preview) Render(data []byte) (result *PreviewResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("preview rendering panicked: %v", rec)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.ExtractImagesRaw(bytes.NewReader(data), []string{"1"}, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page images: %w", err)
	}

	var best *model.Image
	for _, images := range pages {
		for objNr := range images {
			img := images[objNr]
			if img.PageNr != 0 && img.PageNr != 1 {
				continue
			}
			if best == nil || img.Width*img.Height > best.Width*best.Height {
				best = &img
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("page 1 has no raster image")
	}

	decoded, err := imaging.Decode(best, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", best.FileType, err)
	}

	width := decoded.Bounds().Dx() * p.scale
	if width > maxPreviewWidth {
		width = maxPreviewWidth
	}
	scaled := imaging.Resize(decoded, width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return &PreviewResult{
		PNG:    buf.Bytes(),
		Width:  scaled.Bounds().Dx(),
		Height: scaled.Bounds().Dy(),
	}, nil
}
