package importer

// sweepLimiter bounds the number of sweeps in one run. Records that keep
// waiting on each other, for example a chain of bare identifiers longer
// than the bound, are left unresolved instead of looping forever.
type sweepLimiter struct {
	max     int
	current int
}

func newSweepLimiter(max int) *sweepLimiter {
	return &sweepLimiter{max: max}
}

// Next starts another sweep. It reports false once the bound is reached.
func (l *sweepLimiter) Next() bool {
	if l.current >= l.max {
		return false
	}
	l.current++
	return true
}

// Current returns the number of sweeps started.
func (l *sweepLimiter) Current() int {
	return l.current
}
