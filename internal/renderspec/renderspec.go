package renderspec

import (
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// FontSize is the caption size choice
type FontSize string

const (
	FontSizeSmall  FontSize = "small"
	FontSizeMedium FontSize = "medium"
	FontSizeLarge  FontSize = "large"
)

// FontStyle is the caption face variant
type FontStyle string

const (
	FontStyleNormal FontStyle = "normal"
	FontStyleBold   FontStyle = "bold"
	FontStyleItalic FontStyle = "italic"
)

// Position is the vertical placement of captions
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
)

// Alignment is the horizontal placement of captions
type Alignment string

const (
	AlignmentLeft   Alignment = "left"
	AlignmentCenter Alignment = "center"
	AlignmentRight  Alignment = "right"
)

// Color is a validated RRGGBB value without the leading '#'
type Color string

// Rendering constants
const (
	ReferenceHeight = 1080
	FontFamily      = "Arial"
	OutlineWidth    = 2.0
	ShadowDepth     = 1.0
	MarginV         = 75
	StrokeColor     = "#000000"
	DefaultColor    = Color("FFFFFF")
)

var fontPixels = map[FontSize]int{
	FontSizeSmall:  18,
	FontSizeMedium: 24,
	FontSizeLarge:  32,
}

// Options is the loosely-typed style request accepted at the API boundary.
// Empty strings and nil pointers select defaults.
type Options struct {
	FontSize  string `json:"font_size,omitempty"`
	FontStyle string `json:"font_style,omitempty"`
	Color     string `json:"color,omitempty"`
	Position  string `json:"position,omitempty"`
	Alignment string `json:"alignment,omitempty"`
	Outline   *bool  `json:"outline,omitempty"`
	Shadow    *bool  `json:"shadow,omitempty"`
}

// Style is a fully validated style selection
type Style struct {
	FontSize  FontSize
	FontStyle FontStyle
	Color     Color
	Position  Position
	Alignment Alignment
	Outline   bool
	Shadow    bool
}

// DefaultStyle returns the style used when no options are supplied
func DefaultStyle() Style {
	return Style{
		FontSize:  FontSizeMedium,
		FontStyle: FontStyleNormal,
		Color:     DefaultColor,
		Position:  PositionBottom,
		Alignment: AlignmentCenter,
		Outline:   true,
		Shadow:    false,
	}
}

// Parse validates boundary options into a Style. The returned error is an
// *apperrors.Error of kind validation naming the offending field.
func Parse(opts Options) (Style, error) {
	style := DefaultStyle()

	if v := normalize(opts.FontSize); v != "" {
		if _, ok := fontPixels[FontSize(v)]; !ok {
			return Style{}, invalid("font_size", opts.FontSize, "small, medium, large")
		}
		style.FontSize = FontSize(v)
	}

	if v := normalize(opts.FontStyle); v != "" {
		switch FontStyle(v) {
		case FontStyleNormal, FontStyleBold, FontStyleItalic:
			style.FontStyle = FontStyle(v)
		default:
			return Style{}, invalid("font_style", opts.FontStyle, "normal, bold, italic")
		}
	}

	if opts.Color != "" {
		c, err := ParseColor(opts.Color)
		if err != nil {
			return Style{}, err
		}
		style.Color = c
	}

	if v := normalize(opts.Position); v != "" {
		switch Position(v) {
		case PositionTop, PositionBottom:
			style.Position = Position(v)
		default:
			return Style{}, invalid("position", opts.Position, "top, bottom")
		}
	}

	if v := normalize(opts.Alignment); v != "" {
		switch Alignment(v) {
		case AlignmentLeft, AlignmentCenter, AlignmentRight:
			style.Alignment = Alignment(v)
		default:
			return Style{}, invalid("alignment", opts.Alignment, "left, center, right")
		}
	}

	if opts.Outline != nil {
		style.Outline = *opts.Outline
	}
	if opts.Shadow != nil {
		style.Shadow = *opts.Shadow
	}

	return style, nil
}

// ParseColor accepts "RRGGBB" or "#RRGGBB" in either case
func ParseColor(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return "", apperrors.Validation("color", fmt.Sprintf("color %q must be 6 hex digits", s))
	}
	for _, r := range hex {
		if !isHexDigit(r) {
			return "", apperrors.Validation("color", fmt.Sprintf("color %q must be 6 hex digits", s))
		}
	}
	return Color(strings.ToUpper(hex)), nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func invalid(field, value, allowed string) error {
	return apperrors.Validation(field, fmt.Sprintf("%s %q is not one of: %s", field, value, allowed))
}

// Compile turns a validated Style into a RenderSpec. It is pure and total.
func Compile(style Style) models.RenderSpec {
	spec := models.RenderSpec{
		Version:         models.RenderSpecVersion,
		ReferenceHeight: ReferenceHeight,
		Font: models.FontSpec{
			Family: FontFamily,
			Size:   fontPixels[style.FontSize],
			Weight: "normal",
			Slant:  "normal",
		},
		Fill: "#" + string(style.Color),
		Anchor: models.AnchorSpec{
			Vertical:   string(style.Position),
			Horizontal: string(style.Alignment),
		},
		MarginV: MarginV,
		Outline: models.StrokeSpec{Color: StrokeColor},
		Shadow:  models.ShadowSpec{Color: StrokeColor},
	}

	switch style.FontStyle {
	case FontStyleBold:
		spec.Font.Weight = "bold"
	case FontStyleItalic:
		spec.Font.Slant = "italic"
	}

	if style.Outline {
		spec.Outline.Enabled = true
		spec.Outline.Width = OutlineWidth
	}
	if style.Shadow {
		spec.Shadow.Enabled = true
		spec.Shadow.Depth = ShadowDepth
	}

	return spec
}

// CompileOptions validates and compiles boundary options in one step
func CompileOptions(opts Options) (models.RenderSpec, error) {
	style, err := Parse(opts)
	if err != nil {
		return models.RenderSpec{}, err
	}
	return Compile(style), nil
}

// AllStyles enumerates every style combination for a fixed color
func AllStyles(color Color) []Style {
	var styles []Style
	for _, size := range []FontSize{FontSizeSmall, FontSizeMedium, FontSizeLarge} {
		for _, fs := range []FontStyle{FontStyleNormal, FontStyleBold, FontStyleItalic} {
			for _, pos := range []Position{PositionTop, PositionBottom} {
				for _, align := range []Alignment{AlignmentLeft, AlignmentCenter, AlignmentRight} {
					for _, outline := range []bool{false, true} {
						for _, shadow := range []bool{false, true} {
							styles = append(styles, Style{
								FontSize:  size,
								FontStyle: fs,
								Color:     color,
								Position:  pos,
								Alignment: align,
								Outline:   outline,
								Shadow:    shadow,
							})
						}
					}
				}
			}
		}
	}
	return styles
}
