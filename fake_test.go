package rediscluster

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
)

// fakeClient is a scripted in-process Client, the stand-in for a real
// single-node connection in these tests.
type fakeClient struct {
	ep      Endpoint
	factory *fakeFactory

	slotsCalls int32 // atomic
	askings    int32 // atomic

	mu      sync.Mutex
	status  Status
	sent    []*Command
	handler func(f *fakeClient, cmd *Command)
	slotsFn func(f *fakeClient) (interface{}, error)
	subs    []string
	psubs   []string
	msgFns  []func(Message)
}

func (f *fakeClient) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeClient) setStatus(s Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeClient) Connect() error {
	f.setStatus(StatusReady)
	return nil
}

func (f *fakeClient) Disconnect() {
	f.setStatus(StatusEnd)
}

func (f *fakeClient) Asking() {
	atomic.AddInt32(&f.askings, 1)
}

func (f *fakeClient) Send(cmd *Command) {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	handler := f.handler
	f.mu.Unlock()

	if handler != nil {
		handler(f, cmd)
		return
	}
	// default behavior: track subscriptions, answer OK
	if enterSubscriberMode[cmd.Name()] || exitSubscriberMode[cmd.Name()] {
		f.trackSubscription(cmd)
	}
	cmd.Resolve("OK")
}

func (f *fakeClient) trackSubscription(cmd *Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range cmd.Args() {
		ch, ok := argToString(a)
		if !ok {
			continue
		}
		switch cmd.Name() {
		case "subscribe":
			f.subs = append(f.subs, ch)
		case "psubscribe":
			f.psubs = append(f.psubs, ch)
		}
	}
}

func (f *fakeClient) ClusterSlots(timeout time.Duration) (interface{}, error) {
	atomic.AddInt32(&f.slotsCalls, 1)
	f.mu.Lock()
	fn := f.slotsFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no slots scripted")
	}
	return fn(f)
}

func (f *fakeClient) Subscriptions(kind string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch kind {
	case "subscribe":
		return append([]string(nil), f.subs...)
	case "psubscribe":
		return append([]string(nil), f.psubs...)
	}
	return nil
}

func (f *fakeClient) OnMessage(fn func(Message)) {
	f.mu.Lock()
	f.msgFns = append(f.msgFns, fn)
	f.mu.Unlock()
}

func (f *fakeClient) deliver(m Message) {
	f.mu.Lock()
	fns := append([]func(Message){}, f.msgFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (f *fakeClient) sentCommands() []*Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Command(nil), f.sent...)
}

// fakeFactory hands out one fakeClient per endpoint and remembers
// them so tests can script and inspect each node.
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient

	// configure is applied to every new client.
	configure func(f *fakeClient)
}

func newFakeFactory(configure func(f *fakeClient)) *fakeFactory {
	return &fakeFactory{
		clients:   make(map[string]*fakeClient),
		configure: configure,
	}
}

func (ff *fakeFactory) newClient(ep Endpoint, _ []redis.DialOption) Client {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if f, ok := ff.clients[ep.Key()]; ok {
		return f
	}
	f := &fakeClient{ep: ep, factory: ff, status: StatusWait}
	if ff.configure != nil {
		ff.configure(f)
	}
	ff.clients[ep.Key()] = f
	return f
}

func (ff *fakeFactory) get(key string) *fakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.clients[key]
}

// slotsReply builds a raw CLUSTER SLOTS reply the way redigo would
// deliver it.
func slotsReply(ranges ...[]interface{}) interface{} {
	out := make([]interface{}, len(ranges))
	for i, r := range ranges {
		out[i] = r
	}
	return out
}

// slotsRange builds one reply tuple from "host:port" addresses, the
// first being the primary.
func slotsRange(start, end int, addrs ...string) []interface{} {
	tuple := []interface{}{int64(start), int64(end)}
	for _, a := range addrs {
		host, portStr, _ := net.SplitHostPort(a)
		port, _ := strconv.Atoi(portStr)
		tuple = append(tuple, []interface{}{[]byte(host), int64(port)})
	}
	return tuple
}

// staticSlots scripts every node of the factory to return the same
// reply.
func staticSlots(reply interface{}) func(f *fakeClient) {
	return func(f *fakeClient) {
		f.slotsFn = func(*fakeClient) (interface{}, error) {
			return reply, nil
		}
	}
}

// newTestCluster builds a cluster over the fake factory.
func newTestCluster(t *testing.T, opts *Options, ff *fakeFactory) *Cluster {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if len(opts.StartupNodes) == 0 {
		opts.StartupNodes = []string{"10.0.0.1:7000"}
	}
	opts.NewClient = ff.newClient
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}
