package restbucket

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CalibrationState is the state of a ClockOffset.
type CalibrationState int

const (
	Uncalibrated CalibrationState = iota
	Calibrating
	Calibrated
)

func (s CalibrationState) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("CalibrationState(%d)", int(s))
	}
}

// ClockOffset estimates serverTime - localTime from the Date header of a
// response. It calibrates once and keeps the estimate until invalidated.
//
// Exactly one caller performs a calibration: the one that moves the state
// from Uncalibrated to Calibrating. An Invalidate that lands while a
// calibration is in flight wins; the stale estimate is discarded.
type ClockOffset struct {
	mu     sync.Mutex
	state  CalibrationState
	offset time.Duration
	gen    uint64
}

// State returns the current calibration state.
func (c *ClockOffset) State() CalibrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Offset returns the calibrated offset, or zero when not calibrated.
func (c *ClockOffset) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Calibrated {
		return 0
	}
	return c.offset
}

// Observe calibrates from a Date header value received at responseAt.
// It does nothing unless the offset is uncalibrated and date is present.
// calibrated reports whether this call produced a new estimate.
func (c *ClockOffset) Observe(date string, responseAt time.Time) (calibrated bool, err error) {
	if date == "" {
		return false, nil
	}

	c.mu.Lock()
	if c.state != Uncalibrated {
		c.mu.Unlock()
		return false, nil
	}
	c.state = Calibrating
	gen := c.gen
	c.mu.Unlock()

	server, perr := http.ParseTime(date)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false, nil
	}
	if perr != nil {
		c.state = Uncalibrated
		return false, fmt.Errorf("restbucket: parse Date header %q: %w", date, perr)
	}
	c.offset = server.Sub(responseAt)
	c.state = Calibrated
	return true, nil
}

// Invalidate forces the next Observe to recalibrate.
func (c *ClockOffset) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Uncalibrated
	c.offset = 0
	c.gen++
}
