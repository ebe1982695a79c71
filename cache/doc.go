// Component for caching JSON-serializable values in a remote key/value store, with a fixed default TTL, per-write TTL overrides, and pattern purging.
//
// Includes a store interface with implementations using redis and in-process memory, and a fail-soft Service facade on top of it.
//
// Cache failures never propagate to callers as errors that should abort a request: the cache is optional infrastructure, and callers always fall back to the authoritative data source.
package cache
