package cli

import (
	"fmt"
	"time"
)

// FormatDuration formats d as "850ms", "12.5s", "3m7.0s" or "2h5m".
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	if d < time.Hour {
		mins := int(secs / 60)
		return fmt.Sprintf("%dm%.1fs", mins, secs-float64(mins*60))
	}
	h := int(d.Hours())
	return fmt.Sprintf("%dh%dm", h, int(d.Minutes())-h*60)
}
