package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
)

// reportInterval is how often the traffic reporter logs a summary line.
const reportInterval = 10 * time.Second

// StartReporter launches a goroutine that logs traffic rates every
// reportInterval. Quiet intervals are skipped. It stops when ctx is
// cancelled.
func StartReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prevSent, prevReceived int64
		for {
			select {
			case <-ticker.C:
				sent := bytesSent.Load()
				received := bytesReceived.Load()

				outRate := float64(sent-prevSent) / reportInterval.Seconds()
				inRate := float64(received-prevReceived) / reportInterval.Seconds()

				if inRate > 10 || outRate > 10 {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"In: %s/s | Out: %s/s", formatBytes(inRate), formatBytes(outRate),
					))
				}

				prevSent = sent
				prevReceived = received

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width human-readable string,
// for example: "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}
