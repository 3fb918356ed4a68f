// Package chart lays out a timeline result for drawing: pixel scales, axis
// ticks and per-point hover detail. RenderSVG draws a layout as an SVG
// line chart.
package chart

import (
	"math"
	"strconv"
	"time"

	"reqscope/internal/event"
	"reqscope/internal/timeline"
)

// Padding is the space around the plot area in pixels.
type Padding struct {
	Top, Right, Bottom, Left int
}

// Options controls the layout size and hover detail.
type Options struct {
	Width   int
	Height  int
	Padding Padding
	// MaxMembers is how many bucket members a hover lists before "+N more".
	MaxMembers int
	Location   *time.Location
}

// MinPlotSize is the smallest plot area edge in pixels. Smaller requested
// sizes are grown to fit it inside the padding.
const MinPlotSize = 100

// DefaultOptions is used for zero fields of Options.
var DefaultOptions = Options{
	Width:      800,
	Height:     300,
	Padding:    Padding{Top: 20, Right: 20, Bottom: 40, Left: 48},
	MaxMembers: 5,
	Location:   time.Local,
}

// Rect is the plot area in pixels.
type Rect struct {
	X, Y, W, H float64
}

// Tick is an axis tick at a pixel position.
type Tick struct {
	Pos   float64 `json:"pos"`
	Label string  `json:"label"`
}

// Point is one bucket on the chart.
type Point struct {
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Count   int       `json:"count"`
	Label   string    `json:"label"`
	Members []string  `json:"members"`
	// More is the number of members not listed in Members.
	More int `json:"more"`
}

// Hover is the tooltip text for p.
func (p Point) Hover() []string {
	lines := make([]string, 0, len(p.Members)+2)
	lines = append(lines, p.Label+": "+strconv.Itoa(p.Count)+" "+plural(p.Count, "request", "requests"))
	lines = append(lines, p.Members...)
	if p.More > 0 {
		lines = append(lines, "+"+strconv.Itoa(p.More)+" more")
	}
	return lines
}

// Layout is a result mapped onto pixels.
type Layout struct {
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Plot   Rect           `json:"-"`
	Range  timeline.Range `json:"range"`
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
	YMax   int            `json:"y_max"`
	XTicks []Tick         `json:"x_ticks"`
	YTicks []Tick         `json:"y_ticks"`
	Points []Point        `json:"points"`
}

// New lays out res. Zero option fields take DefaultOptions values.
func New(res timeline.Result, opts Options) Layout {
	opts = withDefaults(opts)

	end := res.Now
	start := end.Add(-res.Range.Duration)
	plot := Rect{
		X: float64(opts.Padding.Left),
		Y: float64(opts.Padding.Top),
		W: float64(opts.Width - opts.Padding.Left - opts.Padding.Right),
		H: float64(opts.Height - opts.Padding.Top - opts.Padding.Bottom),
	}

	yMax := timeline.MaxCount(res.Buckets)
	if yMax < 1 {
		yMax = 1
	}

	l := Layout{
		Width:  opts.Width,
		Height: opts.Height,
		Plot:   plot,
		Range:  res.Range,
		Start:  start,
		End:    end,
		YMax:   yMax,
	}
	x := l.xScale()
	y := l.yScale()

	l.Points = make([]Point, len(res.Buckets))
	for i, b := range res.Buckets {
		members, more := memberLabels(b.Events, opts.MaxMembers)
		l.Points[i] = Point{
			X:       x(b.Start),
			Y:       y(b.Count),
			Start:   b.Start,
			End:     b.End,
			Count:   b.Count,
			Label:   b.Start.In(opts.Location).Format(res.Range.LabelFormat),
			Members: members,
			More:    more,
		}
	}

	ticks := res.Range.TickCount
	if ticks < 1 {
		ticks = 1
	}
	l.XTicks = make([]Tick, 0, ticks+1)
	for i := 0; i <= ticks; i++ {
		t := start.Add(res.Range.Duration * time.Duration(i) / time.Duration(ticks))
		l.XTicks = append(l.XTicks, Tick{Pos: x(t), Label: t.In(opts.Location).Format(res.Range.LabelFormat)})
	}

	step := YStep(yMax)
	for v := 0; v <= yMax; v += step {
		l.YTicks = append(l.YTicks, Tick{Pos: y(v), Label: strconv.Itoa(v)})
	}

	return l
}

// YStep is the count between y-axis ticks: every integer up to 10, then
// ceil(yMax/10).
func YStep(yMax int) int {
	if yMax <= 10 {
		return 1
	}
	return int(math.Ceil(float64(yMax) / 10))
}

func (l Layout) xScale() func(time.Time) float64 {
	span := float64(l.End.Sub(l.Start))
	return func(t time.Time) float64 {
		if span <= 0 {
			return l.Plot.X
		}
		return l.Plot.X + float64(t.Sub(l.Start))/span*l.Plot.W
	}
}

func (l Layout) yScale() func(int) float64 {
	bottom := l.Plot.Y + l.Plot.H
	return func(count int) float64 {
		return bottom - float64(count)/float64(l.YMax)*l.Plot.H
	}
}

func memberLabels(events []event.Event, max int) ([]string, int) {
	n := len(events)
	if n > max {
		n = max
	}
	out := make([]string, 0, n)
	for _, e := range events[:n] {
		label := e.Method() + " " + e.Path()
		if s := e.Status(); s != 0 {
			label += " " + strconv.Itoa(s)
		}
		out = append(out, label)
	}
	return out, len(events) - n
}

func withDefaults(o Options) Options {
	d := DefaultOptions
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.Padding == (Padding{}) {
		o.Padding = d.Padding
	}
	if least := o.Padding.Left + o.Padding.Right + MinPlotSize; o.Width < least {
		o.Width = least
	}
	if least := o.Padding.Top + o.Padding.Bottom + MinPlotSize; o.Height < least {
		o.Height = least
	}
	if o.MaxMembers <= 0 {
		o.MaxMembers = d.MaxMembers
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	return o
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
