package report

import (
	"fmt"
	"math"
	"strings"
)

// SignalInput is everything the signal report shows.
type SignalInput struct {
	Asset1       string
	Asset2       string
	ZScore       float64
	Entry        float64
	Exit         float64
	Correlation  float64
	Alpha        float64
	Beta         float64
	HasPositions bool
	IsStationary bool
}

// Recommendation is the threshold-only reading of the z-score used by reports
// and backtests. It ignores the correlation gate and held direction.
func Recommendation(in SignalInput) string {
	switch {
	case in.ZScore > in.Entry:
		return fmt.Sprintf("Entry: short %s, long %s", in.Asset1, in.Asset2)
	case in.ZScore < -in.Entry:
		return fmt.Sprintf("Entry: long %s, short %s", in.Asset1, in.Asset2)
	case math.Abs(in.ZScore) < in.Exit && in.HasPositions:
		return "Exit: close all positions"
	default:
		return "No trading signal"
	}
}

// SignalStrength grades |z| relative to the thresholds.
func SignalStrength(z, entry, exit float64) string {
	az := math.Abs(z)
	switch {
	case az > entry*1.5:
		return "strong"
	case az > entry:
		return "medium"
	case az > exit:
		return "weak"
	default:
		return "none"
	}
}

func CorrelationStrength(c float64) string {
	ac := math.Abs(c)
	switch {
	case ac > 0.9:
		return "very strong"
	case ac > 0.7:
		return "strong"
	case ac > 0.5:
		return "medium"
	case ac > 0.3:
		return "weak"
	default:
		return "very weak"
	}
}

// Rating maps |z| to the coarse band shown on backtest results.
func Rating(z float64) string {
	az := math.Abs(z)
	switch {
	case az > 3:
		return "extreme"
	case az > 2.5:
		return "very strong"
	case az > 2:
		return "strong"
	case az > 1.5:
		return "moderate"
	case az > 1:
		return "weak"
	default:
		return "very weak"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func SignalReport(in SignalInput) string {
	const (
		heavy = "══════════════════════════════════════"
		light = "──────────────────────────────────────"
	)
	var b strings.Builder
	b.WriteString("══════════════ Signal report ══════════════\n")
	fmt.Fprintf(&b, "Z-score: %.2f\n", in.ZScore)
	fmt.Fprintf(&b, "Correlation: %.2f\n", in.Correlation)
	fmt.Fprintf(&b, "Entry threshold: ±%.1f\n", in.Entry)
	fmt.Fprintf(&b, "Exit threshold: ±%.1f\n", in.Exit)
	fmt.Fprintf(&b, "Open positions: %s\n", yesNo(in.HasPositions))
	fmt.Fprintf(&b, "Stationary spread: %s\n", yesNo(in.IsStationary))
	fmt.Fprintf(&b, "Regression: %s = %.4f + %.4f * %s\n", in.Asset1, in.Alpha, in.Beta, in.Asset2)
	b.WriteString(light + "\n")
	b.WriteString(Recommendation(in) + "\n")
	b.WriteString(light + "\n")
	fmt.Fprintf(&b, "Signal strength: %s\n", SignalStrength(in.ZScore, in.Entry, in.Exit))
	fmt.Fprintf(&b, "Correlation strength: %s\n", CorrelationStrength(in.Correlation))
	b.WriteString(heavy + "\n")
	return b.String()
}
