/*
	This file holds the bounded working set of label volumes.  Capacity is a
	fixed entry count since each resident volume may be hundreds of
	megabytes.  Eviction order is strict least-recently-used over the
	Get/Touch sequence.

	A dirty entry is never evicted without first being flushed through the
	persistence adapter: losing unflushed edits on eviction is treated as a
	fatal bug, so a failed or timed-out flush keeps the entry resident and
	surfaces the error instead.
*/

package segmentation

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DmitriyVTitov/size"
	humanize "github.com/dustin/go-humanize"

	"github.com/voxelmed/segvol/segvol"
)

// EvictionHook is called after an entry leaves the working set, so externally
// cached rendered overlays and serialized masks keyed by the segmentation id
// can be invalidated.
type EvictionHook func(id segvol.SegmentationID, depth int32)

type cacheEntry struct {
	seg *Segmentation
	vol *VolumeStore

	// hits counts recency events, letting eviction detect an entry that
	// was touched while its flush was in flight.
	hits uint64
}

// WorkingSet is a bounded, least-recently-used cache of loaded label volumes
// keyed by segmentation id.  It is explicitly constructed and passed to
// request handlers; there is no process-wide instance.
type WorkingSet struct {
	adapter      Adapter
	flushTimeout time.Duration
	onEvict      EvictionHook

	mu       sync.Mutex // guards bookkeeping only, never held across flush I/O
	capacity int
	entries  map[segvol.SegmentationID]*list.Element
	order    *list.List // front is most recently used
}

// NewWorkingSet returns a working set of the given capacity.  hook may be nil.
func NewWorkingSet(adapter Adapter, cfg segvol.WorkingSetConfig, hook EvictionHook) *WorkingSet {
	capacity := cfg.Capacity
	if capacity < 1 {
		capacity = segvol.DefaultWorkingSetCapacity
	}
	flushTimeout := time.Duration(cfg.FlushTimeout) * time.Second
	if flushTimeout <= 0 {
		flushTimeout = segvol.DefaultFlushTimeoutSec * time.Second
	}
	return &WorkingSet{
		adapter:      adapter,
		flushTimeout: flushTimeout,
		onEvict:      hook,
		capacity:     capacity,
		entries:      make(map[segvol.SegmentationID]*list.Element),
		order:        list.New(),
	}
}

// Len returns the number of resident entries.
func (ws *WorkingSet) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.order.Len()
}

// Get returns the resident volume for a segmentation, loading it through the
// persistence adapter on a miss and inserting it into the working set.
func (ws *WorkingSet) Get(ctx context.Context, id segvol.SegmentationID) (*Segmentation, *VolumeStore, error) {
	ws.mu.Lock()
	if elem, found := ws.entries[id]; found {
		ws.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.hits++
		ws.mu.Unlock()
		return entry.seg, entry.vol, nil
	}
	ws.mu.Unlock()

	seg, vol, err := ws.adapter.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return ws.insert(ctx, seg, vol)
}

// Add inserts a newly created segmentation into the working set.
func (ws *WorkingSet) Add(ctx context.Context, seg *Segmentation, vol *VolumeStore) error {
	_, _, err := ws.insert(ctx, seg, vol)
	return err
}

func (ws *WorkingSet) insert(ctx context.Context, seg *Segmentation, vol *VolumeStore) (*Segmentation, *VolumeStore, error) {
	ws.mu.Lock()
	if elem, found := ws.entries[seg.ID]; found {
		// A concurrent request loaded it first; use the resident copy.
		ws.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.hits++
		ws.mu.Unlock()
		return entry.seg, entry.vol, nil
	}
	entry := &cacheEntry{seg: seg, vol: vol, hits: 1}
	ws.entries[seg.ID] = ws.order.PushFront(entry)
	resident := ws.order.Len()
	ws.mu.Unlock()

	memBytes := uint64(len(vol.voxels)) + uint64(size.Of(seg))
	segvol.Debugf("Working set holds %q (%s), %d of %d slots used.\n",
		seg.ID, humanize.IBytes(memBytes), resident, ws.capacity)

	if err := ws.EvictIfOverCapacity(ctx); err != nil {
		return seg, vol, err
	}
	return seg, vol, nil
}

// Touch marks a segmentation recently used.  Returns false if not resident.
func (ws *WorkingSet) Touch(id segvol.SegmentationID) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	elem, found := ws.entries[id]
	if !found {
		return false
	}
	ws.order.MoveToFront(elem)
	elem.Value.(*cacheEntry).hits++
	return true
}

// EvictIfOverCapacity evicts least-recently-used entries until the working
// set is within capacity, flushing dirty entries first.  A failed flush
// leaves the entry resident and returns the error.
func (ws *WorkingSet) EvictIfOverCapacity(ctx context.Context) error {
	for {
		ws.mu.Lock()
		if ws.order.Len() <= ws.capacity {
			ws.mu.Unlock()
			return nil
		}
		elem := ws.order.Back()
		entry := elem.Value.(*cacheEntry)
		hitsAtSelection := entry.hits
		ws.mu.Unlock()

		if err := ws.flushEntry(ctx, entry); err != nil {
			segvol.Errorf("Eviction flush of %q failed; keeping it resident: %v\n", entry.seg.ID, err)
			return err
		}

		ws.mu.Lock()
		// If the entry was touched or re-dirtied while flushing, it has
		// earned another stay; retry against the new LRU order.  A
		// concurrent Remove+Add can also replace the mapping, in which
		// case the stale element must not unmap the new entry.
		if entry.hits != hitsAtSelection || entry.vol.IsDirty() {
			ws.mu.Unlock()
			continue
		}
		if current, found := ws.entries[entry.seg.ID]; !found || current != elem {
			ws.order.Remove(elem)
			ws.mu.Unlock()
			continue
		}
		delete(ws.entries, entry.seg.ID)
		ws.order.Remove(elem)
		ws.mu.Unlock()

		segvol.Infof("Evicted segmentation %q from working set.\n", entry.seg.ID)
		if ws.onEvict != nil {
			ws.onEvict(entry.seg.ID, entry.seg.Shape.Depth())
		}
	}
}

// flushEntry writes back a dirty entry under a bounded timeout.  The
// persistence adapter holds the volume's exclusive lock for the duration, so
// no concurrent paint can mark new slices dirty mid-flush.
func (ws *WorkingSet) flushEntry(ctx context.Context, entry *cacheEntry) error {
	if !entry.vol.IsDirty() {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, ws.flushTimeout)
	defer cancel()
	return ws.adapter.Save(flushCtx, entry.seg, entry.vol)
}

// Flush writes back one resident segmentation without evicting it.
func (ws *WorkingSet) Flush(ctx context.Context, id segvol.SegmentationID) error {
	ws.mu.Lock()
	elem, found := ws.entries[id]
	if !found {
		ws.mu.Unlock()
		return fmt.Errorf("segmentation %q not resident: %w", id, segvol.ErrNotFound)
	}
	entry := elem.Value.(*cacheEntry)
	ws.mu.Unlock()
	return ws.adapter.Save(ctx, entry.seg, entry.vol)
}

// Remove flushes (if dirty) and drops one segmentation from the working set,
// e.g. on explicit close.  The entry stays resident if the flush fails.
func (ws *WorkingSet) Remove(ctx context.Context, id segvol.SegmentationID) error {
	ws.mu.Lock()
	elem, found := ws.entries[id]
	if !found {
		ws.mu.Unlock()
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	ws.mu.Unlock()

	if err := ws.flushEntry(ctx, entry); err != nil {
		return err
	}

	ws.mu.Lock()
	if elem, found := ws.entries[id]; found {
		delete(ws.entries, id)
		ws.order.Remove(elem)
	}
	ws.mu.Unlock()

	if ws.onEvict != nil {
		ws.onEvict(entry.seg.ID, entry.seg.Shape.Depth())
	}
	return nil
}

// FlushAll writes back every dirty resident entry, returning the first error.
func (ws *WorkingSet) FlushAll(ctx context.Context) error {
	ws.mu.Lock()
	entries := make([]*cacheEntry, 0, ws.order.Len())
	for elem := ws.order.Front(); elem != nil; elem = elem.Next() {
		entries = append(entries, elem.Value.(*cacheEntry))
	}
	ws.mu.Unlock()

	for _, entry := range entries {
		if err := ws.flushEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
