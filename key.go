package restbucket

// BucketKey identifies a bucket: the unit of request serialization.
//
// A key is either global, shared by every global endpoint of a credential,
// or scoped to a single endpoint. Both kinds are further split by the
// major parameter value, if any. BucketKey is comparable and is used
// directly as a map key.
type BucketKey struct {
	endpoint *Endpoint // nil for global keys
	major    string
	hasMajor bool
}

// GlobalKey returns the key shared by all global endpoints for the given
// major parameter.
func GlobalKey(major string, hasMajor bool) BucketKey {
	return BucketKey{major: major, hasMajor: hasMajor}
}

// ScopedKey returns the key for a non-global endpoint. A nil endpoint or one
// marked Global yields a global key.
func ScopedKey(e *Endpoint, major string, hasMajor bool) BucketKey {
	if e == nil || e.Global {
		return GlobalKey(major, hasMajor)
	}
	return BucketKey{endpoint: e, major: major, hasMajor: hasMajor}
}

// KeyFor derives the bucket key of a request to e with the given URL params.
func KeyFor(e *Endpoint, params []string) BucketKey {
	major, ok := e.MajorParameter(params)
	return ScopedKey(e, major, ok)
}

// Global reports whether the key is shared by all global endpoints.
func (k BucketKey) Global() bool {
	return k.endpoint == nil
}

// Endpoint returns the scoped endpoint, or nil for global keys.
func (k BucketKey) Endpoint() *Endpoint {
	return k.endpoint
}

// Major returns the major parameter value.
func (k BucketKey) Major() (string, bool) {
	return k.major, k.hasMajor
}

func (k BucketKey) String() string {
	scope := "global"
	if k.endpoint != nil {
		scope = k.endpoint.String()
	}
	if !k.hasMajor {
		return scope
	}
	return scope + "[" + k.major + "]"
}
