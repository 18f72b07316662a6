// Package quality runs cheap sanity checks on harvested images. Failed
// generations from a local server often come back as solid black or white
// frames; flagging them saves the operator from opening each one.
package quality

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"comfy-cockpit/backend/internal/workflow"
)

// Defaults used when the manifest leaves thresholds unset. Mean luminance is
// normalized to [0, 1].
const (
	DefaultBlackThreshold = 0.01
	DefaultWhiteThreshold = 0.99
)

// Flag names attached to asset metadata.
const (
	FlagBlack       = "black_image"
	FlagWhite       = "white_image"
	FlagSingleColor = "single_color"
)

// Report is the outcome of checking one image. Flags are advisory: harvest
// stores flagged assets regardless.
type Report struct {
	Checked  bool     `json:"checked"`
	MeanLuma float64  `json:"mean_luma,omitempty"`
	Flags    []string `json:"flags,omitempty"`
}

// sample at most this many pixels per axis; a thumbnail-level scan is enough
// to detect uniform frames
const maxSamplesPerAxis = 64

// CheckImage examines encoded image data against the workflow's thresholds.
// Undecodable data and skipped checks both return an unchecked report;
// quality checking never blocks a harvest.
func CheckImage(data []byte, checks *workflow.QualityChecks) Report {
	if checks != nil && checks.Skip {
		return Report{}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Report{}
	}

	blackThreshold := DefaultBlackThreshold
	whiteThreshold := DefaultWhiteThreshold
	if checks != nil {
		if checks.BlackThreshold != nil {
			blackThreshold = *checks.BlackThreshold
		}
		if checks.WhiteThreshold != nil {
			whiteThreshold = *checks.WhiteThreshold
		}
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return Report{}
	}

	stepX := bounds.Dx() / maxSamplesPerAxis
	if stepX < 1 {
		stepX = 1
	}
	stepY := bounds.Dy() / maxSamplesPerAxis
	if stepY < 1 {
		stepY = 1
	}

	var (
		sum     float64
		count   int
		first   [3]uint32
		uniform = true
		started = false
	)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma over 16-bit channels
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			count++

			if !started {
				first = [3]uint32{r, g, b}
				started = true
			} else if uniform && (r != first[0] || g != first[1] || b != first[2]) {
				uniform = false
			}
		}
	}

	report := Report{Checked: true, MeanLuma: sum / float64(count)}
	switch {
	case report.MeanLuma < blackThreshold:
		report.Flags = append(report.Flags, FlagBlack)
	case report.MeanLuma > whiteThreshold:
		report.Flags = append(report.Flags, FlagWhite)
	}
	if uniform {
		report.Flags = append(report.Flags, FlagSingleColor)
	}
	return report
}
