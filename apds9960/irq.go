package apds9960

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// How long a single edge wait blocks before re-checking for shutdown.
const edgeWaitTimeout = time.Second

// WatchInterrupts arms falling-edge detection on the sensor's INT line and
// forwards each edge to the notifier. INT is open-drain and stays asserted
// until the deferred worker settles the latched condition, so the line is
// re-armed only after the notifier has run. The watcher exits when ctx is
// done or the device closes; a missed edge is never retried.
func (d *APDS9960) WatchInterrupts(ctx context.Context, pin gpio.PinIn) error {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("failed to configure interrupt pin %s: %w", pin, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopc:
				return
			default:
			}
			if pin.WaitForEdge(edgeWaitTimeout) {
				d.AssertInterrupt()
			}
		}
	}()
	l.Debugf("apds9960: watching for interrupts on %s", pin)
	return nil
}
