package main

// Terminal heatmap renderer.
//
// Cells are sized to fill the screen (at least 1x1 character each) and the
// grid is centered. tcell owns the tty, so key presses and resizes arrive as
// events; watchEvents turns them into the loop's stop and resize flags.

import (
	"fmt"
	"sync/atomic"

	"github.com/gdamore/tcell"
	runewidth "github.com/mattn/go-runewidth"
)

const (
	grayLevels  = 24
	colorLevels = 216

	minDisplayWidth  = 4
	minDisplayHeight = 2
)

type ErrDisplayTooSmall struct {
	width, height int
}

func (e ErrDisplayTooSmall) Error() string {
	return fmt.Sprintf("%vx%v display too small must be %vx%v", e.width, e.height, minDisplayWidth, minDisplayHeight)
}

// heatStops are the anchors of the color ramp: blue, cyan, green, yellow, red.
var heatStops = [...][3]int32{
	{0, 0, 255},
	{0, 255, 255},
	{0, 255, 0},
	{255, 255, 0},
	{255, 0, 0},
}

func heatColor(i int) tcell.Color {
	seg := colorLevels / 4
	k := min(i/seg, len(heatStops)-2)
	j := int32(i - k*seg)
	a, b := heatStops[k], heatStops[k+1]
	lerp := func(x, y int32) int32 {
		return x + (y-x)*j/int32(seg)
	}
	return tcell.NewRGBColor(lerp(a[0], b[0]), lerp(a[1], b[1]), lerp(a[2], b[2]))
}

// paletteColor is entry i of the terminal's 256-color palette.
func paletteColor(i int) tcell.Color {
	return tcell.ColorBlack + tcell.Color(i)
}

func grayStyles() []tcell.Style {
	styles := make([]tcell.Style, grayLevels)
	for i := range styles {
		// xterm's 24-step gray ramp lives at 232..255.
		styles[i] = tcell.StyleDefault.
			Foreground(paletteColor(255 - i)).
			Background(paletteColor(232 + i))
	}
	return styles
}

func colorStyles() []tcell.Style {
	styles := make([]tcell.Style, colorLevels)
	for i := range styles {
		styles[i] = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(heatColor(i))
	}
	return styles
}

// level maps v into [0, levels). Values outside the bounds are clamped;
// bounds with no span (or still at their auto sentinels) map to 0.
func level(v int, b Bounds, levels int) int {
	if !b.Seen() || b.Max <= b.Min {
		return 0
	}
	l := int(float64(v-b.Min) * float64(levels) / float64(b.Max-b.Min))
	return clampInt(l, 0, levels-1)
}

type renderer struct {
	screen tcell.Screen
	values bool
	styles []tcell.Style
}

// newTerminalScreen takes over the controlling terminal.
func newTerminalScreen() (tcell.Screen, error) {
	tcell.SetEncodingFallback(tcell.EncodingFallbackASCII)

	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	return screen, nil
}

// newRenderer draws on an initialized screen.
func newRenderer(screen tcell.Screen, gray, values bool) (*renderer, error) {
	width, height := screen.Size()
	if width < minDisplayWidth || height < minDisplayHeight {
		return nil, ErrDisplayTooSmall{width: width, height: height}
	}

	r := &renderer{screen: screen, values: values}
	if gray {
		r.styles = grayStyles()
	} else {
		r.styles = colorStyles()
	}
	screen.HideCursor()
	screen.Clear()
	return r, nil
}

// Resize clears stale cells after the terminal changed size.
func (r *renderer) Resize() {
	r.screen.Clear()
	r.screen.Sync()
}

// Draw renders frame f normalized by b and shows it.
func (r *renderer) Draw(f Frame, b Bounds) {
	cols := f.Width
	if cols <= 0 || len(f.Samples) == 0 {
		return
	}
	rows := (len(f.Samples) + cols - 1) / cols

	swidth, sheight := r.screen.Size()
	cwidth := max(swidth/cols, 1)
	cheight := max(sheight/rows, 1)
	offsetx := max((swidth-cwidth*cols)/2, 0)
	offsety := max((sheight-cheight*rows)/2, 0)

	for i, v := range f.Samples {
		style := r.styles[level(v, b, len(r.styles))]
		x := offsetx + (i%cols)*cwidth
		y := offsety + (i/cols)*cheight
		for j := 0; j < cheight; j++ {
			label := ""
			if r.values && j == cheight/2 && cwidth > 3 {
				label = runewidth.Truncate(fmt.Sprintf("% *d", cwidth, v), cwidth, "")
			}
			r.drawCell(x, y+j, cwidth, label, style)
		}
	}
	r.screen.Show()
}

// drawCell fills width columns at (x, y) with label left to right, padding
// with spaces.
func (r *renderer) drawCell(x, y, width int, label string, style tcell.Style) {
	col := 0
	for _, ru := range label {
		w := runewidth.RuneWidth(ru)
		if col+w > width {
			break
		}
		r.screen.SetContent(x+col, y, ru, nil, style)
		col += max(w, 1)
	}
	for ; col < width; col++ {
		r.screen.SetContent(x+col, y, ' ', nil, style)
	}
}

func (r *renderer) Close() {
	r.screen.Fini()
}

// watchEvents polls screen events until the screen is finalized. Esc, Ctrl-C
// and q call stop; a resize sets resized.
func watchEvents(screen tcell.Screen, stop func(), resized *atomic.Bool) {
	for {
		event := screen.PollEvent()
		if event == nil {
			return
		}

		switch event := event.(type) {
		case *tcell.EventKey:
			switch {
			case event.Key() == tcell.KeyCtrlC, event.Key() == tcell.KeyEsc:
				stop()
			case event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'):
				stop()
			}
		case *tcell.EventResize:
			resized.Store(true)
		}
	}
}
