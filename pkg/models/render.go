package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RenderSpecVersion is bumped whenever the RenderSpec layout changes
const RenderSpecVersion = 1

// RenderSpec is a compiled, engine-agnostic description of how captions are
// burned into video. Sizes are expressed in pixels at ReferenceHeight lines
// and scaled by the renderer to the real frame height.
type RenderSpec struct {
	Version         int        `json:"version"`
	ReferenceHeight int        `json:"reference_height"`
	Font            FontSpec   `json:"font"`
	Fill            string     `json:"fill"`
	Anchor          AnchorSpec `json:"anchor"`
	MarginV         int        `json:"margin_v"`
	Outline         StrokeSpec `json:"outline"`
	Shadow          ShadowSpec `json:"shadow"`
}

// FontSpec describes glyph size and face variant
type FontSpec struct {
	Family string `json:"family"`
	Size   int    `json:"size"`
	Weight string `json:"weight"`
	Slant  string `json:"slant"`
}

// AnchorSpec positions the caption block on screen
type AnchorSpec struct {
	Vertical   string `json:"vertical"`
	Horizontal string `json:"horizontal"`
}

// StrokeSpec describes the glyph outline
type StrokeSpec struct {
	Enabled bool    `json:"enabled"`
	Width   float64 `json:"width"`
	Color   string  `json:"color"`
}

// ShadowSpec describes the drop shadow
type ShadowSpec struct {
	Enabled bool    `json:"enabled"`
	Depth   float64 `json:"depth"`
	Color   string  `json:"color"`
}

// Value implements driver.Valuer for database storage
func (r RenderSpec) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *RenderSpec) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported render spec type %T", value)
	}
}
