package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	patternMu    sync.Mutex
	patternCache = map[string][]byte{}
)

// SMPTE-like color bars.
var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// RenderPattern returns a JPEG test card of the given size, labelled with
// the camera name and the frame size. Results are cached per size and label.
func RenderPattern(size Size, label string) ([]byte, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("camera: invalid pattern size %s", size)
	}
	key := fmt.Sprintf("%s@%dx%d", label, size.Width, size.Height)

	patternMu.Lock()
	defer patternMu.Unlock()
	if b, ok := patternCache[key]; ok {
		return b, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	barWidth := size.Width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	for i, c := range bars {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, size.Height)
		if i == len(bars)-1 {
			r.Max.X = size.Width
		}
		draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	text := fmt.Sprintf("%s %dx%d", label, size.Width, size.Height)
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.Black, Face: face}
	width := d.MeasureString(text).Ceil()
	x := (size.Width - width) / 2
	y := size.Height / 2
	box := image.Rect(x-4, y-face.Ascent-4, x+width+4, y+face.Descent+4)
	draw.Draw(img, box, image.White, image.Point{}, draw.Src)
	d.Dot = fixed.P(x, y)
	d.DrawString(text)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("camera: encode pattern: %w", err)
	}
	patternCache[key] = buf.Bytes()
	return buf.Bytes(), nil
}
