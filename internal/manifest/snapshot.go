package manifest

import (
	"reflect"
	"sync/atomic"
)

// manifestSnapshot pairs a Manifest with the version it was installed at.
type manifestSnapshot struct {
	manifest *Manifest
	version  uint64
}

// Handle is the atomic-pointer-backed manifest holder: a live refresh is
// modeled as an immutable snapshot swap rather than an in-place mutation,
// so readers never observe a manifest mid-update. Consumers detect changes
// with Version(); the orchestrator publishes ManifestUpdate off this.
type Handle struct {
	ptr atomic.Pointer[manifestSnapshot]
}

// NewHandle creates a Handle holding the given initial manifest at version 1.
func NewHandle(initial *Manifest) *Handle {
	h := &Handle{}
	h.ptr.Store(&manifestSnapshot{manifest: initial, version: 1})
	return h
}

// Load returns the current manifest snapshot.
func (h *Handle) Load() *Manifest {
	return h.ptr.Load().manifest
}

// Version returns the current snapshot's version counter.
func (h *Handle) Version() uint64 {
	return h.ptr.Load().version
}

// Update merges a freshly-fetched manifest into the held one, preserving
// period identity (period.ID is carried across refreshes) and installing
// the result as a new snapshot. Update is idempotent: applying an equal
// manifest twice leaves Version() and Load() unchanged after the first
// application.
func (h *Handle) Update(fresh *Manifest) {
	current := h.ptr.Load()
	merged := mergePeriods(current.manifest, fresh)

	if manifestsEqual(current.manifest, merged) {
		return
	}

	h.ptr.Store(&manifestSnapshot{manifest: merged, version: current.version + 1})
}

// mergePeriods builds the merged manifest from fresh: its URL, IsLive flag
// and periods, in the order fresh declares them. Periods of current are not
// matched by ID; a period that fresh no longer lists is not carried over.
func mergePeriods(current, fresh *Manifest) *Manifest {
	merged := &Manifest{
		URL:    fresh.URL,
		IsLive: fresh.IsLive,
	}
	for _, fp := range fresh.Periods {
		merged.Periods = append(merged.Periods, fp)
	}
	return merged
}

// manifestsEqual compares two manifests by value, ignoring the snapshot
// version wrapper. Kept as reflect.DeepEqual since manifests are small,
// infrequently-refreshed snapshots, not a hot-path comparison.
func manifestsEqual(a, b *Manifest) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
