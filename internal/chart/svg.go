package chart

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	lineColor = "#3b82f6"
	areaColor = "rgba(59,130,246,0.15)"
	gridColor = "#334155"
	textColor = "#94a3b8"
)

// RenderSVG writes l as a standalone SVG document. Each point carries a
// <title> with its hover text.
func RenderSVG(w io.Writer, l Layout) error {
	bw := bufio.NewWriter(w)
	p := l.Plot
	bottom := p.Y + p.H

	fmt.Fprintf(bw, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif" font-size="11">`+"\n",
		l.Width, l.Height, l.Width, l.Height)

	for _, t := range l.YTicks {
		fmt.Fprintf(bw, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="%s" stroke-width="0.5"/>`+"\n",
			p.X, t.Pos, p.X+p.W, t.Pos, gridColor)
		fmt.Fprintf(bw, `<text x="%.1f" y="%.1f" text-anchor="end" fill="%s">%s</text>`+"\n",
			p.X-6, t.Pos+4, textColor, escape(t.Label))
	}
	for _, t := range l.XTicks {
		fmt.Fprintf(bw, `<text x="%.1f" y="%.1f" text-anchor="middle" fill="%s">%s</text>`+"\n",
			t.Pos, bottom+16, textColor, escape(t.Label))
	}
	fmt.Fprintf(bw, `<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" stroke="%s"/>`+"\n",
		p.X, bottom, p.X+p.W, bottom, textColor)

	if len(l.Points) > 0 {
		var line strings.Builder
		for i, pt := range l.Points {
			if i > 0 {
				line.WriteByte(' ')
			}
			fmt.Fprintf(&line, "%.1f,%.1f", pt.X, pt.Y)
		}
		first, last := l.Points[0], l.Points[len(l.Points)-1]
		fmt.Fprintf(bw, `<polygon points="%.1f,%.1f %s %.1f,%.1f" fill="%s" stroke="none"/>`+"\n",
			first.X, bottom, line.String(), last.X, bottom, areaColor)
		fmt.Fprintf(bw, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`+"\n",
			line.String(), lineColor)

		for _, pt := range l.Points {
			fmt.Fprintf(bw, `<circle cx="%.1f" cy="%.1f" r="3" fill="%s"><title>%s</title></circle>`+"\n",
				pt.X, pt.Y, lineColor, escape(strings.Join(pt.Hover(), "\n")))
		}
	}

	bw.WriteString("</svg>\n")
	return bw.Flush()
}

func escape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
