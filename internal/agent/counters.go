package agent

// Loop limits.
const (
	// MaxConsecutiveScrolls scrolls in a row trigger the jump to the end of
	// the page; on an empty page they end the loop.
	MaxConsecutiveScrolls = 3
	// MaxExtractionAttempts is the ceiling between counter resets. The
	// attempt that exceeds it ends the loop without extracting.
	MaxExtractionAttempts = 2
	// HealthEvery is the step interval of proxy_stats events.
	HealthEvery = 5
)

// counters is the per-job anti-stall bookkeeping.
type counters struct {
	scrolls     int
	extractions int
	// attempted is set by the first extract of the job and never reset.
	attempted bool
}

// scroll records a Scroll decision. It reports true when the scroll must be
// replaced by an End key press, which also resets the counter.
func (c *counters) scroll() bool {
	c.scrolls++
	if c.scrolls >= MaxConsecutiveScrolls {
		c.scrolls = 0
		return true
	}
	return false
}

// emptyPage records a snapshot without interactive elements. It reports
// whether another scroll is allowed; false ends the loop.
func (c *counters) emptyPage() bool {
	if c.scrolls >= MaxConsecutiveScrolls {
		return false
	}
	c.scrolls++
	return true
}

// extract records an Extract decision and reports whether the pipeline may
// run.
func (c *counters) extract() (attempt int, ok bool) {
	c.extractions++
	c.attempted = true
	return c.extractions, c.extractions <= MaxExtractionAttempts
}

// moved records a successful interaction. Actions that may leave the page
// also reset the extraction attempts.
func (c *counters) moved(leftPage bool) {
	c.scrolls = 0
	if leftPage {
		c.extractions = 0
	}
}
