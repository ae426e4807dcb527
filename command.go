package rediscluster

import (
	"strings"
	"sync"
)

// Command is a single redis command submission with a future holding
// its result. The cluster router stores its redirection state on it:
// the remaining redirection budget and whether the reject path has
// been wrapped with the cluster error classifier.
type Command struct {
	name string
	args []interface{}

	mu      sync.Mutex
	done    chan struct{}
	reply   interface{}
	err     error
	reject  func(error) // classifier interposed by the router
	wrapped bool
	ttl     int // remaining redirections, -1 until initialized
}

// NewCommand creates a command for the named redis command and its
// arguments. The name is case-insensitive.
func NewCommand(name string, args ...interface{}) *Command {
	return &Command{
		name: strings.ToLower(name),
		args: args,
		done: make(chan struct{}),
		ttl:  -1,
	}
}

// Name returns the lowercased command name.
func (c *Command) Name() string { return c.name }

// Args returns the command arguments.
func (c *Command) Args() []interface{} { return c.args }

// Slot returns the hash slot of the command's first argument, or -1
// if the command carries no key.
func (c *Command) Slot() int {
	if len(c.args) == 0 {
		return -1
	}
	if key, ok := argToString(c.args[0]); ok {
		return Slot(key)
	}
	return -1
}

func argToString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// Resolve completes the command successfully. Resolving or rejecting
// an already completed command is a no-op.
func (c *Command) Resolve(reply interface{}) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	c.reply = reply
	close(c.done)
	c.mu.Unlock()
}

// Reject fails the command. If the router has wrapped the reject path,
// the error is routed through its classifier first, which may retry
// the command instead of completing it.
func (c *Command) Reject(err error) {
	c.mu.Lock()
	reject := c.reject
	c.mu.Unlock()
	if reject != nil {
		reject(err)
		return
	}
	c.fail(err)
}

// fail completes the command with err, bypassing any wrapped reject.
func (c *Command) fail(err error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	c.err = err
	close(c.done)
	c.mu.Unlock()
}

// wrapReject installs the router's classifier on the reject path. It
// is applied at most once per command, so a command re-entering
// submission through the offline queue keeps its original wrap.
func (c *Command) wrapReject(fn func(error)) {
	c.mu.Lock()
	if !c.wrapped {
		c.wrapped = true
		c.reject = fn
	}
	c.mu.Unlock()
}

// consumeTTL initializes the redirection budget to max on first use
// and reports whether one more redirection may be attempted,
// consuming one unit if so.
func (c *Command) consumeTTL(max int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl < 0 {
		c.ttl = max
	}
	if c.ttl <= 0 {
		return false
	}
	c.ttl--
	return true
}

// Done returns a channel closed when the command completes.
func (c *Command) Done() <-chan struct{} { return c.done }

// Result blocks until the command completes and returns its reply.
func (c *Command) Result() (interface{}, error) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reply, c.err
}

// Command registry: the flags the router consults when routing.

var readOnlyCommands = map[string]bool{
	"bitcount": true, "bitpos": true, "dbsize": true, "dump": true,
	"exists": true, "expiretime": true, "geodist": true, "geohash": true,
	"geopos": true, "georadius_ro": true, "georadiusbymember_ro": true,
	"get": true, "getbit": true, "getrange": true, "hexists": true,
	"hget": true, "hgetall": true, "hkeys": true, "hlen": true,
	"hmget": true, "hrandfield": true, "hscan": true, "hstrlen": true,
	"hvals": true, "keys": true, "lindex": true, "llen": true,
	"lpos": true, "lrange": true, "memory": true, "mget": true,
	"object": true, "pexpiretime": true, "pttl": true, "randomkey": true,
	"scan": true, "scard": true, "sdiff": true, "sinter": true,
	"sintercard": true, "sismember": true, "smembers": true,
	"smismember": true, "srandmember": true, "sscan": true,
	"strlen": true, "substr": true, "sunion": true, "touch": true,
	"ttl": true, "type": true, "xinfo": true, "xlen": true,
	"xpending": true, "xrange": true, "xread": true, "xrevrange": true,
	"zcard": true, "zcount": true, "zdiff": true, "zinter": true,
	"zintercard": true, "zlexcount": true, "zmscore": true,
	"zrandmember": true, "zrange": true, "zrangebylex": true,
	"zrangebyscore": true, "zrank": true, "zrevrange": true,
	"zrevrangebylex": true, "zrevrangebyscore": true, "zrevrank": true,
	"zscan": true, "zscore": true, "zunion": true,
}

var enterSubscriberMode = map[string]bool{
	"subscribe":  true,
	"psubscribe": true,
}

var exitSubscriberMode = map[string]bool{
	"unsubscribe":  true,
	"punsubscribe": true,
}

// isReadOnlyCommand reports whether the command may be served by a
// replica.
func isReadOnlyCommand(name string) bool {
	return readOnlyCommands[name]
}

// isSubscriberCommand reports whether the command enters or exits
// subscriber mode and must therefore target the subscriber node.
func isSubscriberCommand(name string) bool {
	return enterSubscriberMode[name] || exitSubscriberMode[name]
}
