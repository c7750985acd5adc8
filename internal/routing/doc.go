// Package routing selects a region and an origin for an incoming request.
//
// Route evaluates, in order:
//
//  1. The first region (directory order) whose country set contains the
//     request's country. Reason "geo".
//  2. If that region has no healthy origin and declares a fallback, the
//     fallback region. Reason "failover", Fallback=true. Only one hop is
//     followed; fallback chains are never traversed.
//  3. With no country match, or a fallback id that names no region, the
//     region with the lowest average healthy-origin latency among regions
//     that have at least one healthy origin. Reason "latency".
//  4. ErrNoHealthyRegion when no region has a healthy origin.
//
// Within the chosen region an origin is drawn by weighted random sampling
// over healthy origins. A single healthy origin is returned without a draw.
// A region with no healthy origin (reachable through step 1 or 2) yields its
// first origin as a degraded choice.
//
// Routing reads a snapshot of the directory and never mutates it, so an
// Engine is safe for concurrent use.
package routing
