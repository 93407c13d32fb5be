package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datallboy/serenity/internal/progress"
)

// StartCLIProgress redraws a single progress line every second until ctx ends.
func (r *Runner) StartCLIProgress(ctx context.Context, w io.Writer, filenames []string) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	started := time.Now()
	var lastBytes int64

	for {
		select {
		case <-ticker.C:
			current := r.Transferred()
			delta := current - lastBytes
			lastBytes = current
			renderCLIProgress(w, r.tracker.Snapshot(), filenames, delta, time.Since(started), false)
		case <-ctx.Done():
			renderCLIProgress(w, r.tracker.Snapshot(), filenames, r.Transferred(), time.Since(started), true)
			fmt.Fprintln(w)
			return
		}
	}
}

// renderCLIProgress prints: [====>     ]  42.0% | 1/3 ready | 1.2 MB/s | 12s
// While running, bytes is the amount moved in the last second. On the final
// line it is the total.
func renderCLIProgress(w io.Writer, snap map[string]float64, filenames []string, bytes int64, elapsed time.Duration, final bool) {
	if len(filenames) == 0 {
		return
	}

	var sum float64
	ready := 0
	for _, name := range filenames {
		f := progress.Clamp(snap[name])
		sum += f
		if f >= 1 {
			ready++
		}
	}
	percent := sum / float64(len(filenames)) * 100

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	rate := humanize.Bytes(uint64(max(bytes, 0))) + "/s"
	if final {
		rate = humanize.Bytes(uint64(max(bytes, 0))) + " total"
	}

	fmt.Fprintf(w, "\r[%s] %5.1f%% | %d/%d ready | %s | %s      ",
		bar, percent, ready, len(filenames), rate, elapsed.Truncate(time.Second))
}
