package rediscluster

import (
	"math/rand"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"golang.org/x/sync/singleflight"
)

// a *rand.Rand is not safe for concurrent access
var rnd = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

func shuffledKeys(keys []string) []string {
	rnd.Lock()
	perm := rnd.Perm(len(keys))
	rnd.Unlock()
	out := make([]string, len(keys))
	for i, ix := range perm {
		out[i] = keys[ix]
	}
	return out
}

func intn(n int) int {
	rnd.Lock()
	defer rnd.Unlock()
	return rnd.Intn(n)
}

// slotRange is one parsed CLUSTER SLOTS tuple: the slot interval and
// its endpoints, primary first.
type slotRange struct {
	start, end int
	endpoints  []Endpoint
}

// refresher rebuilds the pool and the slot map from CLUSTER SLOTS.
// At most one refresh is in flight; overlapping requests attach to
// the in-flight one.
type refresher struct {
	c     *Cluster
	group singleflight.Group
}

// Refresh runs (or attaches to) a slot cache refresh and returns its
// result.
func (r *refresher) Refresh() error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return nil, r.doRefresh()
	})
	return err
}

// RefreshAsync kicks a background refresh, routing a terminal failure
// through the controller's failure path.
func (r *refresher) RefreshAsync() {
	go func() {
		if err := r.Refresh(); err != nil {
			r.c.handleRefreshFailure(err)
		}
	}()
}

// doRefresh walks a shuffled snapshot of the pool's endpoints and
// applies the first successful CLUSTER SLOTS reply.
func (r *refresher) doRefresh() error {
	keys := shuffledKeys(r.c.pool.Keys())

	var lastErr error
	for _, key := range keys {
		if r.c.Status() == StatusEnd {
			return errClusterDisconnected
		}
		node := r.c.pool.Get(key)
		if node == nil {
			continue
		}
		raw, err := node.Client.ClusterSlots(r.c.opts.SlotsRefreshTimeout)
		if err == nil {
			var ranges []slotRange
			if ranges, err = parseClusterSlots(raw); err == nil {
				r.apply(ranges)
				r.c.events.emit(EventRefresh)
				return nil
			}
		}
		lastErr = err
		r.c.events.emit(EventNodeError, err)
	}
	return &RefreshError{LastNodeError: lastErr}
}

// apply rebuilds the endpoint set and the slot table atomically with
// respect to routing: the pool is reset first so every key the new
// table references resolves to a live node.
func (r *refresher) apply(ranges []slotRange) {
	var slots [hashSlots][]string
	byKey := make(map[string]Endpoint)
	for _, sr := range ranges {
		keys := make([]string, 0, len(sr.endpoints))
		for _, ep := range sr.endpoints {
			key := ep.Key()
			keys = append(keys, key)
			// a primary anywhere wins over a replica marker
			if prev, ok := byKey[key]; !ok || (prev.ReadOnly && !ep.ReadOnly) {
				byKey[key] = ep
			}
		}
		for i := sr.start; i <= sr.end && i < hashSlots; i++ {
			slots[i] = keys
		}
	}
	endpoints := make([]Endpoint, 0, len(byKey))
	for _, ep := range byKey {
		endpoints = append(endpoints, ep)
	}
	r.c.pool.Reset(endpoints)
	r.c.slots.ReplaceAll(slots)
}

// parseClusterSlots parses the raw CLUSTER SLOTS reply:
// [[start, end, [host, port, ...], ...], ...]. The first endpoint of
// each tuple is the primary, the rest are marked read-only.
func parseClusterSlots(raw interface{}) ([]slotRange, error) {
	vals, err := redis.Values(raw, nil)
	if err != nil {
		return nil, err
	}

	ranges := make([]slotRange, 0, len(vals))
	for len(vals) > 0 {
		var tuple []interface{}
		vals, err = redis.Scan(vals, &tuple)
		if err != nil {
			return nil, err
		}

		var start, end int
		nodes, err := redis.Scan(tuple, &start, &end)
		if err != nil {
			return nil, err
		}

		sr := slotRange{start: start, end: end}
		for len(nodes) > 0 {
			var node []interface{}
			nodes, err = redis.Scan(nodes, &node)
			if err != nil {
				return nil, err
			}
			var host string
			var port int
			if _, err = redis.Scan(node, &host, &port); err != nil {
				return nil, err
			}
			ep := Endpoint{Host: host, Port: port, ReadOnly: len(sr.endpoints) > 0}
			sr.endpoints = append(sr.endpoints, ep)
		}
		ranges = append(ranges, sr)
	}
	return ranges, nil
}
