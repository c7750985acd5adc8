// Package gc deletes durable KV records whose TTL has passed.
//
// Stores that emulate TTLs (the Oxia store wraps values in an expiry
// envelope) hide expired records from reads but keep them on disk. The
// [ExpirySweeper] periodically lists expired keys under a set of prefixes
// and deletes them:
//
//	/georoute/v1/replication/jobs/           terminal job records (7d TTL)
//	/georoute/v1/cache/<regionId>/           region-scoped cache entries
//
// # Usage
//
//	sweeper := gc.NewExpirySweeper(metaStore, gc.ExpirySweeperConfig{
//	    Interval: 10 * time.Minute,
//	    Prefixes: gc.GeoRoutePrefixes(directory),
//	})
//	sweeper.Start()
//	defer sweeper.Stop()
package gc
