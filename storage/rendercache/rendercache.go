/*
	Package rendercache provides an opportunistic in-process cache for
	rendered overlays, serialized masks, and segmentation metadata.  The
	engine is functionally correct without it, only slower, so every
	operation fails open: a nil or errored cache behaves as a miss and the
	caller falls through to direct computation or storage access.

	Keys follow the platform convention:

		segmentation:meta:{id}
		segmentation:mask:{id}:{slice}
		segmentation:overlay:{id}:{slice}

	No TTL is used; entries are invalidated explicitly on mutation and on
	working-set eviction.
*/
package rendercache

import (
	"fmt"

	"github.com/coocood/freecache"

	"github.com/voxelmed/segvol/segvol"
)

// Cache wraps a freecache instance.  A nil *Cache is valid and disabled.
type Cache struct {
	fc *freecache.Cache
}

// New creates a cache of approximately mbs megabytes.  Returns nil
// (a disabled cache) if mbs is zero or negative.
func New(mbs int) *Cache {
	if mbs <= 0 {
		return nil
	}
	numBytes := mbs * segvol.Mega
	segvol.Infof("Created render cache of ~ %d MB.\n", mbs)
	return &Cache{fc: freecache.NewCache(numBytes)}
}

// MetaKey returns the cache key for segmentation metadata.
func MetaKey(id segvol.SegmentationID) []byte {
	return []byte(fmt.Sprintf("segmentation:meta:%s", id))
}

// MaskKey returns the cache key for a serialized label mask slice.
func MaskKey(id segvol.SegmentationID, slice int32) []byte {
	return []byte(fmt.Sprintf("segmentation:mask:%s:%d", id, slice))
}

// OverlayKey returns the cache key for an encoded overlay slice.
func OverlayKey(id segvol.SegmentationID, slice int32) []byte {
	return []byte(fmt.Sprintf("segmentation:overlay:%s:%d", id, slice))
}

// Get returns a cached value and whether it was found.  Misses and cache
// errors are indistinguishable to the caller.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	if c == nil || c.fc == nil {
		return nil, false
	}
	v, err := c.fc.Get(key)
	if err != nil {
		if err != freecache.ErrNotFound {
			segvol.Warningf("render cache degraded on get of %q: %v\n", string(key), err)
		}
		return nil, false
	}
	return v, true
}

// Set stores a value with no expiration.  Failures are logged and dropped.
func (c *Cache) Set(key, value []byte) {
	if c == nil || c.fc == nil {
		return
	}
	if err := c.fc.Set(key, value, 0); err != nil {
		// Typically the entry is larger than 1/1024 of the cache size.
		segvol.Warningf("render cache could not store %q (%d bytes): %v\n", string(key), len(value), err)
	}
}

// Del removes a single key.
func (c *Cache) Del(key []byte) {
	if c == nil || c.fc == nil {
		return
	}
	c.fc.Del(key)
}

// InvalidateSlice drops the cached mask and overlay for one slice.
func (c *Cache) InvalidateSlice(id segvol.SegmentationID, slice int32) {
	if c == nil {
		return
	}
	c.Del(MaskKey(id, slice))
	c.Del(OverlayKey(id, slice))
}

// InvalidateSegmentation drops all cached entries for a segmentation with
// the given depth.  Used as the working-set eviction hook.
func (c *Cache) InvalidateSegmentation(id segvol.SegmentationID, depth int32) {
	if c == nil {
		return
	}
	c.Del(MetaKey(id))
	for z := int32(0); z < depth; z++ {
		c.InvalidateSlice(id, z)
	}
}
