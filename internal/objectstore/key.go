package objectstore

import "strings"

// RegionKey returns the object key of path inside a region's namespace.
// A leading slash on path is dropped: RegionKey("eu", "/a/b") == "eu/a/b".
func RegionKey(regionID, path string) string {
	return regionID + "/" + strings.TrimPrefix(path, "/")
}

// RegionPrefix returns the list prefix for a region's namespace.
func RegionPrefix(regionID string) string {
	return regionID + "/"
}

// UnscopedRegion labels keys that sit outside any region namespace.
const UnscopedRegion = "unscoped"

// RegionOf returns the region namespace a key or list prefix belongs to,
// or UnscopedRegion when it has none.
func RegionOf(key string) string {
	regionID, _, ok := strings.Cut(key, "/")
	if !ok || regionID == "" {
		return UnscopedRegion
	}
	return regionID
}
