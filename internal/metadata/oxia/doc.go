// Package oxia implements the MetadataStore interface using Oxia.
//
// This package wraps the Oxia Go SDK to provide the durable key-value store
// used by georoute for the region directory, replication job records and
// region-scoped cache entries.
//
// Usage:
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "georoute",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// Store a value that expires in a week
//	version, err := store.Put(ctx, keys.ReplicationJobKey(id), data, metadata.WithTTL(7*24*time.Hour))
//
// TTL:
//
// Oxia has no per-record expiry, so every value is stored inside the
// metadata envelope carrying its absolute expiry time. Get and List hide
// expired records; gc.ExpirySweeper deletes them using ListExpired.
package oxia
