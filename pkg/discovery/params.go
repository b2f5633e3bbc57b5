package discovery

import "time"

// AnnounceParameters is the protocol state learned from the tracker.
type AnnounceParameters struct {
	// Interval is the renewal interval. Zero until the first response.
	Interval time.Duration
	// TrackerID is sent back as "trackerid" once the tracker assigns one.
	TrackerID string
	// Leechers and Seeders are advisory.
	Leechers int64
	Seeders  int64
}

// interval returns the renewal interval, or def when none is known.
func (p *AnnounceParameters) interval(def time.Duration) time.Duration {
	if p.Interval <= 0 {
		return def
	}
	return p.Interval
}
