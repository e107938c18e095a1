package spatial

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// Style describes how the features of one table are drawn. Theme maps values
// of ThemeField to alternative styles.
type Style struct {
	Name         string            `json:"name"`
	Size         float64           `json:"size"`
	FillColor    string            `json:"fillcolor"`
	StrokeColor  string            `json:"strokecolor"`
	FillAlpha    float64           `json:"fillalpha"`
	StrokeAlpha  float64           `json:"strokealpha"`
	Shape        string            `json:"shape"`
	Width        float64           `json:"width"`
	LabelSize    float64           `json:"labelsize"`
	LabelField   string            `json:"labelfield,omitempty"`
	LabelVisible bool              `json:"labelvisible"`
	Enabled      bool              `json:"enabled"`
	Order        int               `json:"order"`
	DashPattern  string            `json:"dashpattern,omitempty"`
	MinZoom      int               `json:"minzoom"`
	MaxZoom      int               `json:"maxzoom"`
	Decimation   float64           `json:"decimationfactor"`
	ThemeField   string            `json:"themefield,omitempty"`
	Theme        map[string]*Style `json:"theme,omitempty"`
}

func DefaultStyle(name string) *Style {
	return &Style{
		Name:        name,
		Size:        5,
		FillColor:   "red",
		StrokeColor: "black",
		FillAlpha:   0.3,
		StrokeAlpha: 1,
		Shape:       "square",
		Width:       3,
		LabelSize:   15,
		Enabled:     true,
		MinZoom:     0,
		MaxZoom:     22,
	}
}

// Resolve picks the themed style for a feature's theme value.
func (s *Style) Resolve(value string) *Style {
	if s == nil {
		return nil
	}
	if sub, ok := s.Theme[value]; ok && sub != nil {
		return sub
	}
	return s
}

// VisibleAt reports whether the style is enabled for zoom z.
func (s *Style) VisibleAt(z int) bool {
	return s != nil && s.Enabled && z >= s.MinZoom && z <= s.MaxZoom
}

// Dashes parses DashPattern ("10,5"). Invalid patterns draw solid.
func (s *Style) Dashes() []float64 {
	if strings.TrimSpace(s.DashPattern) == "" {
		return nil
	}
	parts := strings.Split(s.DashPattern, ",")
	dashes := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 {
			return nil
		}
		dashes = append(dashes, v)
	}
	if len(dashes) < 2 {
		return nil
	}
	return dashes
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and SVG colour names.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unknown colour %q", s)
	}

	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// WithAlpha returns c as non-premultiplied colour with opacity alpha in [0,1].
func WithAlpha(c color.RGBA, alpha float64) color.NRGBA {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(float64(c.A) * alpha)}
}
