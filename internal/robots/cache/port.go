package cache

// Cache is the store port for fetched robots.txt files.
// Keys are robots.txt URLs; values are serialized entries owned by the caller.
//
// Implementations must be safe for concurrent use. A store failure is
// reported as a miss: the caller then fetches from the network.
type Cache interface {
	// Get returns the value stored under key and whether it was found.
	Get(key string) (string, bool)

	// Put stores value under key, overwriting any previous value.
	Put(key string, value string)
}
