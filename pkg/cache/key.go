package cache

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached resource: a logical resource path plus an optional
// parameter set.
type Key struct {
	// Resource is the logical resource identifier (e.g., "/keywords/research")
	Resource string

	// Params are the request parameters (e.g., {"country": "de", "limit": "50"})
	Params url.Values
}

// NewKey builds a Key from a resource and alternating name/value pairs.
// A trailing name without a value is ignored.
func NewKey(resource string, pairs ...string) Key {
	k := Key{Resource: resource}
	if len(pairs) >= 2 {
		k.Params = make(url.Values, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			k.Params.Add(pairs[i], pairs[i+1])
		}
	}
	return k
}

// String generates a deterministic cache key string.
// Format: resource:param1=val1:param2=val2a,val2b
//
// Parameter names are sorted; repeated values keep the order they were added in.
//
// Example:
//
//	keywords/research:country=de:limit=50
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(strings.Trim(k.Resource, "/"))

	if len(k.Params) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(k.Params[name], ","))
	}
	return b.String()
}
