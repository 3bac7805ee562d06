package game

// TickSeconds is the clock resolution.
const TickSeconds = 0.1

// Clock is the elapsed-time counter of the current track, kept in tenths of
// a second so repeated ticks never drift.
type Clock struct {
	tenths  int
	running bool
}

// Start resumes advancing from the current value.
func (c *Clock) Start() { c.running = true }

// Freeze stops advancing and keeps the last value.
func (c *Clock) Freeze() { c.running = false }

// Reset moves back to zero, frozen. Used on track change only.
func (c *Clock) Reset() {
	c.tenths = 0
	c.running = false
}

// Tick advances by one tenth if running and reports whether it did.
func (c *Clock) Tick() bool {
	if !c.running {
		return false
	}
	c.tenths++
	return true
}

// Running reports whether the clock advances on tick (the playing flag).
func (c *Clock) Running() bool { return c.running }

// Elapsed returns the value in seconds.
func (c *Clock) Elapsed() float64 { return float64(c.tenths) / 10 }

func (c *Clock) set(seconds float64, running bool) {
	if seconds < 0 {
		seconds = 0
	}
	c.tenths = int(seconds*10 + 0.5)
	c.running = running
}
