package models

import "strings"

// PaletteColor is one entry of the fixed highlight palette
type PaletteColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// DefaultHighlightColor is applied to highlights created without a color
const DefaultHighlightColor = "#fef3c7"

// Palette lists the colors a highlight may use, in toolbar order
var Palette = []PaletteColor{
	{Name: "yellow", Hex: "#fef3c7"},
	{Name: "green", Hex: "#d1fae5"},
	{Name: "blue", Hex: "#dbeafe"},
	{Name: "purple", Hex: "#e9d5ff"},
	{Name: "pink", Hex: "#fce7f3"},
	{Name: "orange", Hex: "#fed7aa"},
	{Name: "red", Hex: "#fee2e2"},
	{Name: "gray", Hex: "#f3f4f6"},
}

// NormalizeColor resolves a palette name or hex value to its canonical hex.
// The empty string is accepted and stays empty.
func NormalizeColor(color string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(color))
	if c == "" {
		return "", true
	}
	for _, p := range Palette {
		if c == p.Name || c == p.Hex {
			return p.Hex, true
		}
	}
	return "", false
}

// ColorName returns the palette name for a hex value, or the input when it
// is not part of the palette
func ColorName(hex string) string {
	h := strings.ToLower(hex)
	for _, p := range Palette {
		if h == p.Hex {
			return p.Name
		}
	}
	return hex
}
