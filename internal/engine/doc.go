// Package engine is the trip-lifecycle reconciliation core.
//
// It maintains one consistent view of a passenger's in-progress trips while
// updates arrive from three independent sources: server push events, poll
// snapshots of trip history, and optimistic local actions. The sources can
// race, duplicate, and disagree; the engine converges on a canonical status
// per trip via a rank-based merge, keeps exactly one trip selected as
// "current", and publishes every registry change to subscribers.
//
// All mutation happens on the single-writer Run loop. Adapters only ever
// Submit normalized updates; nothing outside this package touches the
// registry directly.
package engine
