// Package rediscluster implements the client-side core of a redis
// cluster driver: it routes command submissions to the right cluster
// member based on a cached hash-slot map, follows MOVED and ASK
// redirections within a bounded budget, holds commands across
// transient cluster states, and exposes an event stream describing
// the connection pool's lifecycle.
// See http://redis.io/topics/cluster-spec for details.
//
// # Cluster
//
// The Cluster type is created with New from an Options value whose
// StartupNodes list the initial members as "host:port" addresses or
// redis:// URLs. Connect resets the pool with the startup endpoints
// and performs the first slot cache refresh; once it succeeds the
// cluster is ready and queued commands drain in submission order:
//
//	c, err := rediscluster.New(&rediscluster.Options{
//		StartupNodes: []string{"10.0.0.1:7000"},
//	})
//	if err != nil {
//		// handle error
//	}
//	if err := c.Connect(); err != nil {
//		// none of the startup nodes was available
//	}
//	reply, err := c.Do("GET", "my-key")
//
// A cluster that is no longer used must be torn down with
// Disconnect(false).
//
// # Routing
//
// Every submission computes the target slot from the command's first
// argument (see Slot) and resolves it through the slot map, primary
// first. Read-only commands can be spread over replicas with
// Options.ScaleReads or a custom ScaleReadsFunc. A MOVED reply
// patches the slot's primary eagerly and kicks a background refresh;
// an ASK reply retries once against the hinted endpoint behind an
// ASKING prefix without touching the map. Commands that hit
// CLUSTERDOWN or lose their connection mid-flight are parked on a
// shared-timer retry queue so that many failures within the delay
// window share a single refresh.
//
// # Events
//
// The cluster emits "+node", "-node" and "drain" for pool changes,
// "refresh" after each successful slot cache rebuild, "node error"
// for individual probe failures, "error" for terminal refresh
// failures, pub/sub forwarding events, and one event per status
// transition, named after the status. Events are delivered
// asynchronously but strictly in emission order.
//
// # Pub/sub
//
// One pool member is dedicated as the subscriber node; subscribe and
// psubscribe submissions are routed to it and its deliveries re-emit
// from the cluster as "message", "messageBuffer", "pmessage" and
// "pmessageBuffer". When the subscriber leaves the pool a new member
// is selected and the previous channel sets are re-subscribed.
package rediscluster
