package framerate

import (
	"fmt"
	"time"
)

// DefaultReportEvery is the number of frames between two measurements.
const DefaultReportEvery = 10

// Counter counts preview frames since the last measurement. It is a value:
// Observe returns the next counter instead of mutating the receiver.
type Counter struct {
	Frames      int64
	Since       time.Time
	ReportEvery int64
}

// Measurement is one frame-rate sample.
type Measurement struct {
	Frames    int64         `json:"frames"`
	ElapsedMs int64         `json:"elapsed_ms"`
	FPS       float64       `json:"fps"`
	At        time.Time     `json:"at"`
	Elapsed   time.Duration `json:"-"`
}

func (m Measurement) String() string {
	return fmt.Sprintf("%d frames in %dms = %.2f fps", m.Frames, m.ElapsedMs, m.FPS)
}

// New returns a counter starting at now. every <= 0 selects DefaultReportEvery.
func New(now time.Time, every int) Counter {
	if every <= 0 {
		every = DefaultReportEvery
	}
	return Counter{Since: now, ReportEvery: int64(every)}
}

// Observe records one delivered frame at now. Every ReportEvery frames it
// returns a measurement (ok == true) and a counter reset to now.
// A zero elapsed time yields +Inf; the instrument does not guard it.
func (c Counter) Observe(now time.Time) (Counter, Measurement, bool) {
	every := c.ReportEvery
	if every <= 0 {
		every = DefaultReportEvery
	}
	c.Frames++
	if c.Frames < every {
		return c, Measurement{}, false
	}

	elapsed := now.Sub(c.Since)
	ms := elapsed.Milliseconds()
	m := Measurement{
		Frames:    c.Frames,
		ElapsedMs: ms,
		FPS:       1000 * float64(c.Frames) / float64(ms),
		At:        now,
		Elapsed:   elapsed,
	}
	return Counter{Since: now, ReportEvery: c.ReportEvery}, m, true
}
