package call

// flushPolicy is the write-back policy for the hybrid in-memory/durable
// strategy. Writes are batched by turn count, not wall-clock time, so the
// worst-case data-loss window on a crash is exactly threshold-1 turns. A
// full flush at finalize is mandatory regardless of the counter.
type flushPolicy struct {
	threshold int
	dirty     int
}

func newFlushPolicy(threshold int) flushPolicy {
	if threshold <= 0 {
		threshold = 5
	}
	return flushPolicy{threshold: threshold}
}

// noteAppend records one appended turn and reports whether a partial sync
// is due. When it is, the dirty counter resets: the sync attempt consumes
// the batch whether or not the write later succeeds, because the in-memory
// transcript remains authoritative until finalize.
func (p *flushPolicy) noteAppend() (syncDue bool) {
	p.dirty++
	if p.dirty >= p.threshold {
		p.dirty = 0
		return true
	}
	return false
}

// pending reports how many turns have not been covered by a sync trigger.
func (p *flushPolicy) pending() int {
	return p.dirty
}
