package multilevel

import "go.uber.org/atomic"

// Stats is a point-in-time view of the orchestrator's counters. Counters
// are eventually consistent; they feed monitoring, not correctness.
type Stats struct {
	L1Hits       int64
	L1Misses     int64
	RemoteHits   int64
	RemoteMisses int64

	// RemoteErrors counts remote-tier failures that were absorbed.
	// Fallbacks counts Gets answered "not found" because the remote tier
	// was unreachable, not because the key was absent.
	RemoteErrors int64
	Fallbacks    int64

	Sets    int64
	Deletes int64

	L1Entries int

	HitRate       float64
	L1HitRate     float64
	RemoteHitRate float64

	Degraded bool
}

type counters struct {
	l1Hits       atomic.Int64
	l1Misses     atomic.Int64
	remoteHits   atomic.Int64
	remoteMisses atomic.Int64
	remoteErrors atomic.Int64
	fallbacks    atomic.Int64
	sets         atomic.Int64
	deletes      atomic.Int64
}

func ratio(hits, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
