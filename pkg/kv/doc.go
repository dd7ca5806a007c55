// Package kv provides the small key-value abstraction that backs browser-style
// local persistence. Backends are registered by their packages' init functions:
// memory for tests and single-process runs, redis and postgres for shared
// deployments. Remote backends are wrapped in a FailoverStore that drops to
// memory while the primary is unreachable and promotes it back once a probe
// succeeds.
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if _, err := store.Get(ctx, "stormcast_markets"); errors.Is(err, kv.ErrNotFound) {
//		// nothing stored yet
//	}
package kv
