package rediscluster

import (
	"sync"
	"time"
)

// Cluster routes commands to the members of a redis cluster based on
// a cached slot map, following MOVED/ASK redirections and holding
// commands across transient cluster states. Its event stream exposes
// the pool lifecycle and every status transition; see the Event
// constants and Status.
type Cluster struct {
	opts    *Options
	startup []Endpoint

	events           emitter
	pool             *pool
	slots            *slotMap
	refresher        refresher
	offline          *offlineQueue
	failoverQueue    *retryQueue
	clusterDownQueue *retryQueue
	sub              *subscriber

	mu              sync.Mutex
	status          Status
	retryAttempts   int
	manuallyClosing bool
	refreshFailed   bool // terminal refresh error already emitted this attempt
	reconnectTimer  *time.Timer
	connectNotify   chan error
}

// New creates a cluster client for the given options. The client does
// not connect until Connect is called.
func New(opts *Options) (*Cluster, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.init()

	startup, err := parseEndpoints(opts.StartupNodes)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		opts:    opts,
		startup: startup,
		slots:   &slotMap{},
		offline: newOfflineQueue(),
		status:  StatusWait,
	}
	c.pool = newPool(&c.events, func(ep Endpoint) Client {
		return opts.NewClient(ep, opts.RedisOptions)
	})
	c.pool.onDrain = c.handleDrain
	c.refresher.c = c
	c.failoverQueue = newRetryQueue(opts.RetryDelayOnFailover, c.retryBatch)
	c.clusterDownQueue = newRetryQueue(opts.RetryDelayOnClusterDown, c.retryBatch)
	c.sub = newSubscriber(c)
	c.events.On(EventNodeRemoved, func(args ...interface{}) {
		if n, ok := args[0].(*Node); ok {
			c.sub.handleNodeRemoved(n)
		}
	})
	return c, nil
}

// On registers a listener for the named event.
func (c *Cluster) On(event string, fn Listener) { c.events.On(event, fn) }

// Once registers a listener for the next delivery of the named event.
func (c *Cluster) Once(event string, fn Listener) { c.events.Once(event, fn) }

// Status reports the cluster lifecycle state.
func (c *Cluster) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Nodes returns a snapshot of the pool for the role "all", "master"
// or "slave".
func (c *Cluster) Nodes(role string) []*Node {
	return c.pool.Nodes(role)
}

func (c *Cluster) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.events.emit(s.String())
}

// Connect resets the pool with the startup endpoints and blocks until
// the first slot refresh succeeds or every startup node fails. On
// failure the reconnect policy keeps running in the background
// according to ClusterRetryStrategy.
func (c *Cluster) Connect() error {
	c.mu.Lock()
	switch c.status {
	case StatusConnecting, StatusConnect, StatusReady:
		c.mu.Unlock()
		return errAlreadyConnecting
	}
	c.status = StatusConnecting
	c.refreshFailed = false
	notify := make(chan error, 1)
	c.connectNotify = notify
	c.mu.Unlock()
	c.events.emit(StatusConnecting.String())

	c.startAttempt()
	return <-notify
}

// connectAttempt re-enters the connect path from the reconnect timer.
func (c *Cluster) connectAttempt() {
	c.mu.Lock()
	c.status = StatusConnecting
	c.refreshFailed = false
	c.mu.Unlock()
	c.events.emit(StatusConnecting.String())
	c.startAttempt()
}

// startAttempt seeds the pool with the startup endpoints and runs the
// first refresh of the attempt.
func (c *Cluster) startAttempt() {
	c.pool.Reset(c.startup)
	go func() {
		if err := c.refresher.Refresh(); err != nil {
			c.handleRefreshFailure(err)
			return
		}
		c.becomeReady()
	}()
}

// becomeReady runs once per successful connect attempt: clears the
// retry bookkeeping, transitions connect then ready, and drains the
// offline queue in submission order.
func (c *Cluster) becomeReady() {
	c.mu.Lock()
	c.retryAttempts = 0
	c.manuallyClosing = false
	notify := c.connectNotify
	c.connectNotify = nil
	c.mu.Unlock()

	c.setStatus(StatusConnect)
	c.setStatus(StatusReady)
	c.sub.SelectInitial()
	c.offline.Drain(func(it offlineItem) {
		c.Send(it.cmd, it.ref)
	})
	if notify != nil {
		notify <- nil
	}
}

// handleRefreshFailure is the terminal refresh failure path: emit the
// error at most once per connect attempt and empty the pool, which
// cascades to drain, close and the reconnect policy.
func (c *Cluster) handleRefreshFailure(err error) {
	c.mu.Lock()
	emitted := c.refreshFailed
	c.refreshFailed = true
	c.mu.Unlock()
	if !emitted {
		c.events.emit(EventError, err)
	}
	if c.pool.Size() == 0 {
		c.closeAndRetry()
		return
	}
	c.pool.Reset(nil)
}

func (c *Cluster) handleDrain() {
	c.closeAndRetry()
}

// closeAndRetry transitions to close and applies the reconnect
// policy: reconnecting with a timer when the strategy yields a delay,
// end otherwise.
func (c *Cluster) closeAndRetry() {
	c.setStatus(StatusClose)

	c.mu.Lock()
	manual := c.manuallyClosing
	attempts := c.retryAttempts + 1
	c.mu.Unlock()

	var delay time.Duration
	ok := false
	if !manual {
		delay, ok = c.opts.ClusterRetryStrategy(attempts)
	}
	if !ok {
		c.mu.Lock()
		notify := c.connectNotify
		c.connectNotify = nil
		c.mu.Unlock()
		c.setStatus(StatusEnd)
		c.offline.Drain(func(it offlineItem) {
			it.cmd.fail(errNoStartupNodes)
		})
		if notify != nil {
			notify <- errNoStartupNodes
		}
		return
	}

	c.setStatus(StatusReconnecting)
	c.mu.Lock()
	c.retryAttempts = attempts
	notify := c.connectNotify
	c.connectNotify = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.connectAttempt()
	})
	c.mu.Unlock()
	if notify != nil {
		notify <- errNoStartupNodes
	}
}

// Disconnect tears the cluster down. With reconnect set, the retry
// strategy may bring it back; otherwise the cluster transitions to
// end and stays there.
func (c *Cluster) Disconnect(reconnect bool) {
	c.mu.Lock()
	if !reconnect {
		c.manuallyClosing = true
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	if c.pool.Size() == 0 {
		if c.Status() != StatusEnd {
			c.closeAndRetry()
		}
		return
	}
	c.pool.Reset(nil)
}

// retryBatch is the shared-timer discipline of the failover and
// cluster-down queues: one refresh, then every thunk in insertion
// order.
func (c *Cluster) retryBatch(thunks []func()) {
	if err := c.refresher.Refresh(); err != nil {
		c.handleRefreshFailure(err)
	}
	for _, thunk := range thunks {
		thunk()
	}
}

// RefreshSlotsCache forces a slot cache refresh, attaching to any
// refresh already in flight.
func (c *Cluster) RefreshSlotsCache() error {
	return c.refresher.Refresh()
}
