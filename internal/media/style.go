package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// libass lays out SRT input on a 288-line script canvas and scales it to the
// frame, so reference pixel sizes are converted to that canvas.
const assPlayResY = 288.0

// ForceStyle converts a render spec into an ASS force_style override list
func ForceStyle(spec models.RenderSpec) string {
	ref := float64(spec.ReferenceHeight)
	if ref <= 0 {
		ref = 1080
	}
	scale := assPlayResY / ref

	bold, italic := 0, 0
	if spec.Font.Weight == "bold" {
		bold = 1
	}
	if spec.Font.Slant == "italic" {
		italic = 1
	}

	outline, shadow := 0.0, 0.0
	if spec.Outline.Enabled {
		outline = spec.Outline.Width * scale
	}
	if spec.Shadow.Enabled {
		shadow = spec.Shadow.Depth * scale
	}
	margin := int(math.Round(float64(spec.MarginV) * scale))

	fields := []string{
		"FontName=" + spec.Font.Family,
		"FontSize=" + formatFloat(float64(spec.Font.Size)*scale),
		fmt.Sprintf("Bold=%d", bold),
		fmt.Sprintf("Italic=%d", italic),
		"PrimaryColour=" + assColor(spec.Fill),
		"OutlineColour=" + assColor(spec.Outline.Color),
		"BackColour=" + assColor(spec.Shadow.Color),
		"BorderStyle=1",
		"Outline=" + formatFloat(outline),
		"Shadow=" + formatFloat(shadow),
		fmt.Sprintf("MarginV=%d", margin),
		fmt.Sprintf("MarginL=%d", margin),
		fmt.Sprintf("MarginR=%d", margin),
		fmt.Sprintf("Alignment=%d", assAlignment(spec.Anchor)),
	}
	return strings.Join(fields, ",")
}

// assAlignment maps an anchor to the numpad layout used by ASS
func assAlignment(anchor models.AnchorSpec) int {
	base := 1
	if anchor.Vertical == "top" {
		base = 7
	}
	switch anchor.Horizontal {
	case "center":
		return base + 1
	case "right":
		return base + 2
	default:
		return base
	}
}

// assColor converts #RRGGBB into &H00BBGGRR
func assColor(hex string) string {
	hex = strings.ToUpper(strings.TrimPrefix(hex, "#"))
	if len(hex) != 6 {
		return "&H00FFFFFF"
	}
	return "&H00" + hex[4:6] + hex[2:4] + hex[0:2]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
