// Package report renders plain-text charts and signal reports for display.
package report

import (
	"fmt"
	"math"
	"strings"
)

const (
	ChartWidth  = 60
	ChartHeight = 15

	pointChar     = '█'
	thresholdChar = '·'
	meanChar      = '-'
)

// Sample reduces data to at most size points by stride sampling, padding with
// the last value when data is shorter.
func Sample(data []float64, size int) []float64 {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	out := make([]float64, size)
	if len(data) <= size {
		copy(out, data)
		for i := len(data); i < size; i++ {
			out[i] = data[len(data)-1]
		}
		return out
	}
	step := float64(len(data)) / float64(size)
	for i := range out {
		idx := int(float64(i) * step)
		if idx > len(data)-1 {
			idx = len(data) - 1
		}
		out[i] = data[idx]
	}
	return out
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

type grid struct {
	min, max float64
	labelW   int
	lines    []float64
	meanLine float64
	hasMean  bool
}

func (g grid) render(b *strings.Builder, points []float64) {
	step := (g.max - g.min) / float64(ChartHeight-1)
	pad := strings.Repeat(" ", g.labelW)

	fmt.Fprintf(b, "%*.1f┐\n", g.labelW, g.max)
	for row := ChartHeight - 1; row >= 0; row-- {
		level := g.min + step*float64(row)
		if row == ChartHeight/2 {
			fmt.Fprintf(b, "%*.1f┤", g.labelW, level)
		} else {
			b.WriteString(pad + "│")
		}

		half := step / 2
		for _, v := range points {
			switch {
			case g.hasMean && math.Abs(level-g.meanLine) < half:
				b.WriteRune(meanChar)
			case g.nearLine(level, half):
				b.WriteRune(thresholdChar)
			case v >= level && v < level+step:
				b.WriteRune(pointChar)
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "%*.1f┴%s\n", g.labelW, g.min, strings.Repeat("─", len(points)))

	gap := len(points) - 10
	if gap < 1 {
		gap = 1
	}
	b.WriteString(pad + "past" + strings.Repeat(" ", gap) + "latest\n")
}

func (g grid) nearLine(level, half float64) bool {
	for _, l := range g.lines {
		if math.Abs(level-l) < half {
			return true
		}
	}
	return false
}

// ZScoreChart draws the z-score history with entry and exit bands and a zero line.
func ZScoreChart(zscores []float64, entry, exit float64) string {
	if len(zscores) == 0 {
		return "no data to chart"
	}
	points := Sample(zscores, int(math.Min(float64(len(zscores)), ChartWidth)))
	lo, hi := bounds(points)
	hi = math.Max(hi, math.Max(entry, -exit))
	lo = math.Min(lo, math.Min(-entry, exit))
	buffer := math.Max((hi-lo)*0.1, 0.5)

	var b strings.Builder
	fmt.Fprintf(&b, "Z-score chart (latest: %.2f, entry: ±%.1f, exit: ±%.1f)\n", zscores[len(zscores)-1], entry, exit)
	grid{
		min:      lo - buffer,
		max:      hi + buffer,
		labelW:   5,
		lines:    []float64{entry, -entry, exit, -exit},
		meanLine: 0,
		hasMean:  true,
	}.render(&b, points)
	return b.String()
}

// SpreadChart draws the spread history with its mean and ±1σ/±2σ bands.
func SpreadChart(spread []float64, mean, std float64) string {
	if len(spread) == 0 {
		return "no data to chart"
	}
	points := Sample(spread, int(math.Min(float64(len(spread)), ChartWidth)))
	lo, hi := bounds(points)
	hi = math.Max(hi, mean+2*std)
	lo = math.Min(lo, mean-2*std)
	buffer := (hi - lo) * 0.1
	if buffer == 0 {
		buffer = 0.5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spread chart (latest: %.2f, mean: %.2f, std: %.2f)\n", spread[len(spread)-1], mean, std)
	grid{
		min:      lo - buffer,
		max:      hi + buffer,
		labelW:   6,
		lines:    []float64{mean + std, mean - std, mean + 2*std, mean - 2*std},
		meanLine: mean,
		hasMean:  true,
	}.render(&b, points)
	return b.String()
}
