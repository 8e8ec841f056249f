package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"

	"go.viam.com/posecam/logging"
)

// Intervals between SlowLogger warnings: the first after 2s, the second 3s later and every 5s
// after that.
var slowLoggerIntervals = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// SlowLogger starts a goroutine that logs every few seconds as long as the context has not timed
// out or was not cancelled. Nothing is ever aborted: this only makes a stalled wait visible. The
// returned function stops the logger and must be called once the watched operation returns.
func SlowLogger(
	ctx context.Context,
	clk clock.Clock,
	msg, fieldName, fieldVal string,
	logger logging.Logger,
) func() {
	slowTimer := clk.Timer(slowLoggerIntervals[0])
	startTime := clk.Now()

	ctxWithCancel, cancel := context.WithCancel(ctx)
	goutils.PanicCapturingGo(func() {
		tick := 0
		for {
			select {
			case <-slowTimer.C:
				elapsed := clk.Since(startTime).Round(time.Second).String()
				logger.CWarnw(ctx, msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if tick < len(slowLoggerIntervals)-1 {
					tick++
				}
				slowTimer.Reset(slowLoggerIntervals[tick])
			case <-ctxWithCancel.Done():
				return
			}
		}
	})
	return func() { slowTimer.Stop(); cancel() }
}
