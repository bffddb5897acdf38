// Package dedup suppresses duplicate alerts by fingerprint and feeds the
// ingestion pipeline from both the push webhook and the poll loop.
package dedup

import (
	"sync"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Deduplicator tracks fingerprints of alerts currently firing. The
// check-and-insert is atomic under one mutex so at most one incident is ever
// created per fingerprint while it fires.
type Deduplicator struct {
	mu     sync.Mutex
	firing map[string]struct{}
}

// New initializes an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{firing: make(map[string]struct{})}
}

// Ingest reports whether the alert should enter the pipeline. Firing alerts
// with an untracked fingerprint are accepted and tracked; duplicates are
// suppressed. Resolved alerts release their fingerprint and are never
// accepted.
func (d *Deduplicator) Ingest(al *alert.Alert) bool {
	key := al.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	if al.Status != alert.StatusFiring {
		delete(d.firing, key)
		return false
	}
	if _, seen := d.firing[key]; seen {
		return false
	}
	d.firing[key] = struct{}{}
	return true
}

// Release drops a fingerprint from the tracking set, typically after
// verification observed the alert cleared. A later alert with the same
// fingerprint opens a fresh incident.
func (d *Deduplicator) Release(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.firing, fingerprint)
}

// Tracking reports whether a fingerprint is currently suppressed.
func (d *Deduplicator) Tracking(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.firing[fingerprint]
	return ok
}
