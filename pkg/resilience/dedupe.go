package resilience

import "golang.org/x/sync/singleflight"

// Deduper collapses concurrent lookups for the same key into one in-flight
// call; every waiter observes the same outcome. A key leaves the map the
// moment its call settles, and can be force-cleared after a state-changing
// write so the next lookup is guaranteed to hit the store.
type Deduper struct {
	group singleflight.Group
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{}
}

// Do executes fn under key, sharing the result with concurrent callers of
// the same key. shared reports whether the result was given to more than
// one caller.
func (d *Deduper) Do(key string, fn func() (interface{}, error)) (v interface{}, shared bool, err error) {
	v, err, shared = d.group.Do(key, fn)
	return v, shared, err
}

// Forget drops any in-flight entry for key, so the next Do call runs fresh.
func (d *Deduper) Forget(key string) {
	d.group.Forget(key)
}
