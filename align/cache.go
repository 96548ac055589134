package align

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultCachePath is the default path for the registration cache
const DefaultCachePath = ".registration-cache.json"

// CachedRegistration is the last accepted registration of a pairing
type CachedRegistration struct {
	AttemptID   string              `json:"attemptId"`
	Transform   Matrix4             `json:"transform"`
	Metrics     RegistrationMetrics `json:"metrics"`
	Quality     string              `json:"quality"`
	ModelPoints int                 `json:"modelPoints"`
	ScanPoints  int                 `json:"scanPoints"`
	LastUpdated int64               `json:"lastUpdated"`
}

// RegistrationCache stores registrations per pairing as JSON. The engine
// never reads it; the application decides when a cached transform is reused.
type RegistrationCache struct {
	Pairings    map[string]CachedRegistration `json:"pairings"`
	LastUpdated int64                         `json:"lastUpdated"`
}

// NewRegistrationCache creates an empty cache
func NewRegistrationCache() *RegistrationCache {
	return &RegistrationCache{Pairings: make(map[string]CachedRegistration)}
}

// LoadCache loads the cache file. A missing file yields (nil, nil).
func LoadCache(path string) (*RegistrationCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading registration cache: %w", err)
	}

	var cache RegistrationCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing registration cache: %w", err)
	}
	if cache.Pairings == nil {
		cache.Pairings = make(map[string]CachedRegistration)
	}
	return &cache, nil
}

// SaveCache writes the cache file, creating its directory
func SaveCache(path string, cache *RegistrationCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registration cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing registration cache: %w", err)
	}
	return nil
}

// Get returns the cached registration for a pairing
func (c *RegistrationCache) Get(pairingID string) (CachedRegistration, bool) {
	if c == nil || c.Pairings == nil {
		return CachedRegistration{}, false
	}
	entry, ok := c.Pairings[pairingID]
	return entry, ok
}

// GetTransform returns the cached transform or identity
func (c *RegistrationCache) GetTransform(pairingID string) Matrix4 {
	if entry, ok := c.Get(pairingID); ok {
		return entry.Transform
	}
	return Identity()
}

// Update stores a registration result for a pairing
func (c *RegistrationCache) Update(pairingID string, entry CachedRegistration) {
	if c.Pairings == nil {
		c.Pairings = make(map[string]CachedRegistration)
	}
	if entry.LastUpdated == 0 {
		entry.LastUpdated = time.Now().Unix()
	}
	c.Pairings[pairingID] = entry
}

// NeedsRecompute reports whether a pairing has no entry or one older than maxAge
func (c *RegistrationCache) NeedsRecompute(pairingID string, maxAge time.Duration) bool {
	entry, ok := c.Get(pairingID)
	if !ok || entry.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(entry.LastUpdated, 0)) > maxAge
}

// CacheStatus provides status information about cached registrations
type CacheStatus struct {
	RegisteredPairings []string  `json:"registeredPairings"`
	MissingPairings    []string  `json:"missingPairings"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// GetStatus compares the cache against the expected pairing IDs
func (c *RegistrationCache) GetStatus(expected []string) CacheStatus {
	status := CacheStatus{}
	if c == nil {
		status.MissingPairings = expected
		return status
	}
	status.LastUpdated = time.Unix(c.LastUpdated, 0)

	for id := range c.Pairings {
		status.RegisteredPairings = append(status.RegisteredPairings, id)
	}
	sort.Strings(status.RegisteredPairings)

	for _, id := range expected {
		if _, ok := c.Pairings[id]; !ok {
			status.MissingPairings = append(status.MissingPairings, id)
		}
	}
	return status
}
