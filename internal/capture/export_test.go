package capture

import "time"

// WithChunkInterval returns cfg with a shorter fragment cadence so tests do
// not wait on the real one.
func WithChunkInterval(cfg Config, d time.Duration) Config {
	cfg.chunkInterval = d
	return cfg
}

// Interval reports the cadence the controller cuts fragments at.
func (c *Controller) Interval() time.Duration {
	return c.interval
}
