package rediscluster

import (
	"strings"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Message is a pub/sub delivery received on the subscriber node. For
// pattern deliveries Pattern is the matched pattern, otherwise it is
// empty.
type Message struct {
	Pattern string
	Channel string
	Payload []byte
}

// Client is the single-node redis client the cluster core drives. The
// default implementation dials with redigo; tests substitute scripted
// fakes through Options.NewClient.
type Client interface {
	// Status reports the client lifecycle state.
	Status() Status
	// Connect establishes the connection. Calling it on a client that
	// is already connecting or connected is an error.
	Connect() error
	// Disconnect tears the connection down. In-flight commands are
	// rejected with the connection-loss error.
	Disconnect()
	// Send submits a command. The client completes the command's
	// future; it never blocks the caller.
	Send(cmd *Command)
	// Asking arms a one-shot ASKING prefix for the next command sent.
	Asking()
	// ClusterSlots runs CLUSTER SLOTS with the given timeout and
	// returns the raw reply values.
	ClusterSlots(timeout time.Duration) (interface{}, error)
	// Subscriptions returns the channels of the given kind
	// ("subscribe" or "psubscribe") this client is subscribed to.
	Subscriptions(kind string) []string
	// OnMessage registers a forwarder for pub/sub deliveries.
	OnMessage(fn func(Message))
}

// nodeClient is the redigo-backed Client.
type nodeClient struct {
	ep       Endpoint
	dialOpts []redis.DialOption

	mu        sync.Mutex
	status    Status
	conn      redis.Conn
	psc       *redis.PubSubConn
	asking    bool
	subs      map[string]struct{}
	psubs     map[string]struct{}
	onMessage []func(Message)
}

func newNodeClient(ep Endpoint, opts []redis.DialOption) Client {
	return &nodeClient{
		ep:       ep,
		dialOpts: opts,
		status:   StatusWait,
		subs:     make(map[string]struct{}),
		psubs:    make(map[string]struct{}),
	}
}

func (n *nodeClient) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *nodeClient) Connect() error {
	n.mu.Lock()
	switch n.status {
	case StatusConnecting, StatusConnect, StatusReady:
		n.mu.Unlock()
		return errAlreadyConnecting
	}
	n.status = StatusConnecting
	n.mu.Unlock()

	conn, err := redis.Dial("tcp", n.ep.Key(), n.dialOpts...)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.status = StatusEnd
		return err
	}
	if n.status == StatusEnd {
		// disconnected while dialing
		conn.Close()
		return errConnectionClosed
	}
	n.conn = conn
	n.status = StatusReady
	return nil
}

func (n *nodeClient) Disconnect() {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.psc = nil
	n.status = StatusEnd
	n.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (n *nodeClient) Asking() {
	n.mu.Lock()
	n.asking = true
	n.mu.Unlock()
}

func (n *nodeClient) OnMessage(fn func(Message)) {
	n.mu.Lock()
	n.onMessage = append(n.onMessage, fn)
	n.mu.Unlock()
}

func (n *nodeClient) Subscriptions(kind string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var set map[string]struct{}
	switch kind {
	case "subscribe":
		set = n.subs
	case "psubscribe":
		set = n.psubs
	default:
		return nil
	}
	chans := make([]string, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	return chans
}

func (n *nodeClient) Send(cmd *Command) {
	go n.run(cmd)
}

func (n *nodeClient) run(cmd *Command) {
	n.mu.Lock()
	if n.status == StatusWait {
		n.mu.Unlock()
		if err := n.Connect(); err != nil {
			cmd.Reject(err)
			return
		}
		n.mu.Lock()
	}
	conn := n.conn
	asking := n.asking
	n.asking = false
	n.mu.Unlock()

	if conn == nil {
		cmd.Reject(errConnectionClosed)
		return
	}

	if isSubscriberCommand(cmd.Name()) {
		n.runSubscriber(conn, cmd)
		return
	}

	if asking {
		if err := conn.Send("ASKING"); err != nil {
			cmd.Reject(errConnectionClosed)
			return
		}
	}
	// Do flushes the pending ASKING, discards its reply and returns
	// the command's own.
	reply, err := conn.Do(strings.ToUpper(cmd.Name()), cmd.Args()...)
	if err != nil {
		if _, ok := err.(redis.Error); !ok {
			err = errConnectionClosed
		}
		cmd.Reject(err)
		return
	}
	cmd.Resolve(reply)
}

func (n *nodeClient) runSubscriber(conn redis.Conn, cmd *Command) {
	n.mu.Lock()
	psc := n.psc
	startLoop := false
	if psc == nil && enterSubscriberMode[cmd.Name()] {
		psc = &redis.PubSubConn{Conn: conn}
		n.psc = psc
		startLoop = true
	}
	n.mu.Unlock()
	if psc == nil {
		cmd.Reject(errConnectionClosed)
		return
	}

	args := cmd.Args()
	var err error
	switch cmd.Name() {
	case "subscribe":
		err = psc.Subscribe(args...)
	case "psubscribe":
		err = psc.PSubscribe(args...)
	case "unsubscribe":
		err = psc.Unsubscribe(args...)
	case "punsubscribe":
		err = psc.PUnsubscribe(args...)
	}
	if err != nil {
		cmd.Reject(errConnectionClosed)
		return
	}
	n.trackSubscriptions(cmd.Name(), args)
	if startLoop {
		go n.receiveLoop(psc)
	}
	cmd.Resolve("OK")
}

func (n *nodeClient) trackSubscriptions(name string, args []interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range args {
		ch, ok := argToString(a)
		if !ok {
			continue
		}
		switch name {
		case "subscribe":
			n.subs[ch] = struct{}{}
		case "psubscribe":
			n.psubs[ch] = struct{}{}
		case "unsubscribe":
			delete(n.subs, ch)
		case "punsubscribe":
			delete(n.psubs, ch)
		}
	}
}

func (n *nodeClient) receiveLoop(psc *redis.PubSubConn) {
	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			n.deliver(Message{Pattern: v.Pattern, Channel: v.Channel, Payload: v.Data})
		case redis.Subscription:
			// channel count bookkeeping happens in trackSubscriptions
		case error:
			return
		}
	}
}

func (n *nodeClient) deliver(m Message) {
	n.mu.Lock()
	fns := append([]func(Message){}, n.onMessage...)
	n.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (n *nodeClient) ClusterSlots(timeout time.Duration) (interface{}, error) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		c, err := redis.Dial("tcp", n.ep.Key(),
			append([]redis.DialOption{redis.DialConnectTimeout(timeout)}, n.dialOpts...)...)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return redis.DoWithTimeout(c, timeout, "CLUSTER", "SLOTS")
	}
	return redis.DoWithTimeout(conn, timeout, "CLUSTER", "SLOTS")
}
