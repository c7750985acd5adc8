// Package keys provides key encoding/decoding for the georoute keyspace.
//
// Layout:
//
//	/georoute/v1/regions                          region directory (one record)
//	/georoute/v1/replication/jobs/<jobId>         terminal replication job
//	/georoute/v1/cache/<regionId>/<escapedPath>   region-scoped cache entry
//
// Object paths are escaped into a single key segment so that every cache
// entry of a region is a direct child of the region prefix. Oxia lists
// hierarchical keys one level at a time.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Key prefixes.
const (
	// Prefix is the root prefix for all georoute keys.
	Prefix = "/georoute/v1"

	// RegionsKey holds the serialized region directory.
	RegionsKey = Prefix + "/regions"

	// ReplicationJobsPrefix is the prefix for persisted replication jobs.
	// Format: /georoute/v1/replication/jobs/<jobId>
	ReplicationJobsPrefix = Prefix + "/replication/jobs"

	// CachePrefix is the prefix for region-scoped cache entries.
	// Format: /georoute/v1/cache/<regionId>/<escapedPath>
	CachePrefix = Prefix + "/cache"
)

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key format")

// ReplicationJobKey returns the key for a persisted replication job.
func ReplicationJobKey(jobID string) string {
	return fmt.Sprintf("%s/%s", ReplicationJobsPrefix, jobID)
}

// ReplicationJobsListPrefix returns the prefix for listing all persisted jobs.
func ReplicationJobsListPrefix() string {
	return ReplicationJobsPrefix + "/"
}

// ParseReplicationJobKey extracts the job id from a job key.
func ParseReplicationJobKey(key string) (string, error) {
	prefix := ReplicationJobsListPrefix()
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	id := key[len(prefix):]
	if id == "" || strings.Contains(id, "/") {
		return "", ErrInvalidKey
	}
	return id, nil
}

// CacheKey returns the region-scoped cache key for an object path.
// Paths are normalized to a leading slash, so "/a.png" and "a.png" share a key.
func CacheKey(path, regionID string) string {
	return CacheRegionPrefix(regionID) + url.PathEscape(normalizePath(path))
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// CacheRegionPrefix returns the prefix for listing one region's cache entries.
func CacheRegionPrefix(regionID string) string {
	return fmt.Sprintf("%s/%s/", CachePrefix, regionID)
}

// ParseCacheKey parses a cache key into its region id and object path.
// The returned path always has a leading slash.
func ParseCacheKey(key string) (regionID, path string, err error) {
	prefix := CachePrefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", "", ErrInvalidKey
	}

	rest := key[len(prefix):]
	regionID, escaped, ok := strings.Cut(rest, "/")
	if !ok || regionID == "" || escaped == "" || strings.Contains(escaped, "/") {
		return "", "", ErrInvalidKey
	}

	path, err = url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return regionID, normalizePath(path), nil
}
