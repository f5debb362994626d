package render

import (
	"image/color"
	"math"
)

var (
	Black  = color.RGBA{A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 50, A: 255}
	Pink   = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	// Unread marks tracks with no accepted text
	Unread = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

const (
	// paletteSize is the number of track colors before they repeat
	paletteSize = 24
	// hueStep spreads consecutive ids around the hue circle
	hueStep = 0.618033988749895
)

var palette = makePalette(paletteSize)

func makePalette(n int) []color.RGBA {

	p := make([]color.RGBA, n)
	h := 0.0

	for i := range p {
		p[i] = hsv(h, 0.8, 1)
		h = math.Mod(h+hueStep, 1)
	}

	return p
}

// hsv converts hue in [0, 1), saturation and value to an opaque color
func hsv(h, s, v float64) color.RGBA {

	sector := math.Floor(h * 6)
	f := h*6 - sector

	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64

	switch int(sector) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{
		R: uint8(math.Round(r * 255)),
		G: uint8(math.Round(g * 255)),
		B: uint8(math.Round(b * 255)),
		A: 255,
	}
}

// colorFor picks the palette color for an id
func colorFor(id int) color.RGBA {

	if id < 0 {
		id = -id
	}

	return palette[id%len(palette)]
}
