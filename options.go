package rediscluster

import (
	"time"

	"github.com/gomodule/redigo/redis"
)

// ScaleReads policies for routing read-only commands.
const (
	ReadsMaster = "master"
	ReadsSlave  = "slave"
	ReadsAll    = "all"
)

// NodeSelector is a custom scaleReads policy. It receives the nodes
// serving the command's slot (primary first) and the command name.
// Returning an empty slice falls back to the primary; multiple nodes
// are sampled uniformly.
type NodeSelector func(nodes []*Node, command string) []*Node

// Options configure a Cluster and should be passed to New.
type Options struct {
	// StartupNodes is the list of initial nodes that make up the
	// cluster, as "host:port" addresses or redis:// URLs. Any db
	// selector is stripped; cluster sessions use database 0.
	StartupNodes []string

	// MaxRedirections bounds the MOVED+ASK hops a single command may
	// take. Default 16.
	MaxRedirections int

	// RetryDelayOnFailover is the wait before retrying commands whose
	// connection closed mid-flight. A negative value disables the
	// retry queue. Zero means the default of 100ms.
	RetryDelayOnFailover time.Duration

	// RetryDelayOnClusterDown is the wait before retrying commands
	// that got a CLUSTERDOWN reply. A negative value disables the
	// retry queue. Zero means the default of 100ms.
	RetryDelayOnClusterDown time.Duration

	// ScaleReads routes read-only commands: ReadsMaster, ReadsSlave
	// or ReadsAll. Default ReadsMaster. Ignored when ScaleReadsFunc
	// is set.
	ScaleReads string

	// ScaleReadsFunc is a custom read routing policy.
	ScaleReadsFunc NodeSelector

	// DisableOfflineQueue rejects commands submitted while the
	// cluster is not ready instead of queueing them.
	DisableOfflineQueue bool

	// ClusterRetryStrategy returns the wait before the next connect
	// attempt, or ok=false to give up. Default min(100+attempt*2,
	// 2000) milliseconds.
	ClusterRetryStrategy func(attempt int) (delay time.Duration, ok bool)

	// SlotsRefreshTimeout bounds each per-node CLUSTER SLOTS probe.
	// Default 1s.
	SlotsRefreshTimeout time.Duration

	// RedisOptions are passed through to each single-node client.
	RedisOptions []redis.DialOption

	// NewClient overrides the single-node client factory. The default
	// dials with redigo using RedisOptions.
	NewClient func(ep Endpoint, opts []redis.DialOption) Client
}

func (o *Options) init() {
	if o.MaxRedirections == 0 {
		o.MaxRedirections = 16
	}
	if o.RetryDelayOnFailover == 0 {
		o.RetryDelayOnFailover = 100 * time.Millisecond
	} else if o.RetryDelayOnFailover < 0 {
		o.RetryDelayOnFailover = 0
	}
	if o.RetryDelayOnClusterDown == 0 {
		o.RetryDelayOnClusterDown = 100 * time.Millisecond
	} else if o.RetryDelayOnClusterDown < 0 {
		o.RetryDelayOnClusterDown = 0
	}
	if o.ScaleReads == "" {
		o.ScaleReads = ReadsMaster
	}
	if o.ClusterRetryStrategy == nil {
		o.ClusterRetryStrategy = func(attempt int) (time.Duration, bool) {
			d := time.Duration(100+attempt*2) * time.Millisecond
			if d > 2*time.Second {
				d = 2 * time.Second
			}
			return d, true
		}
	}
	if o.SlotsRefreshTimeout == 0 {
		o.SlotsRefreshTimeout = time.Second
	}
	if o.NewClient == nil {
		o.NewClient = newNodeClient
	}
}
