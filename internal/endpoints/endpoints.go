package endpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Region selects which URL of an endpoint applies.
type Region string

const (
	RegionIN Region = "in"
	RegionUS Region = "us"
)

// ParseRegion accepts the region spellings used by callers.
func ParseRegion(s string) (Region, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN", "IND":
		return RegionIN, nil
	case "US", "USA":
		return RegionUS, nil
	default:
		return "", fmt.Errorf("region not supported: %s", s)
	}
}

// Endpoint holds the per-region URLs of a single service. Default is
// mandatory; the regional URLs are optional and fall back to Default.
type Endpoint struct {
	Default string `json:"default"`
	IN      string `json:"in,omitempty"`
	US      string `json:"us,omitempty"`
}

// URL returns the endpoint for the given region, falling back to the
// default when no regional URL is configured. An empty region always
// yields the default.
func (e Endpoint) URL(region Region) string {
	switch region {
	case RegionIN:
		if e.IN != "" {
			return e.IN
		}
	case RegionUS:
		if e.US != "" {
			return e.US
		}
	}
	return e.Default
}

// File is the parsed siblings configuration object: service name to its
// regional endpoints.
type File map[string]Endpoint

// Parse decodes a siblings JSON document and validates that every service
// carries a default URL.
func Parse(data []byte) (File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse siblings file: %w", err)
	}
	for name, ep := range f {
		if strings.TrimSpace(ep.Default) == "" {
			return nil, fmt.Errorf("parse siblings file: service %q has no default endpoint", name)
		}
	}
	return f, nil
}

// Load reads and parses a siblings file from disk.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read siblings file: %w", err)
	}
	return Parse(data)
}

// Services returns the service names in sorted order.
func (f File) Services() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheKey derives the cache key for a service. Dev entries are prefixed so
// prod and dev can share one cache.
func CacheKey(service string, dev bool) string {
	if dev {
		return "dev-ep-" + service
	}
	return "ep-" + service
}

// CacheEntry is one seedable key/value pair.
type CacheEntry struct {
	Key   string
	Value []byte
}

// CacheEntries serializes every service back to JSON under its cache key,
// in sorted key order.
func (f File) CacheEntries(dev bool) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0, len(f))
	for _, name := range f.Services() {
		b, err := json.Marshal(f[name])
		if err != nil {
			return nil, fmt.Errorf("marshal endpoint %s: %w", name, err)
		}
		entries = append(entries, CacheEntry{Key: CacheKey(name, dev), Value: b})
	}
	return entries, nil
}
