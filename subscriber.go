package rediscluster

import "sync"

// subscriber dedicates one pool member to pub/sub. It re-runs
// selection when the current subscriber leaves the pool, carrying the
// previous subscriber's channel sets over to the new node and
// forwarding its deliveries through the cluster's event stream.
type subscriber struct {
	c *Cluster

	mu         sync.Mutex
	current    *Node
	lastActive *Node
	forwarding map[*Node]bool
}

func newSubscriber(c *Cluster) *subscriber {
	return &subscriber{c: c, forwarding: make(map[*Node]bool)}
}

// Current returns the selected subscriber node, or nil.
func (s *subscriber) Current() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SelectInitial picks a subscriber on the first ready transition if
// none is selected yet.
func (s *subscriber) SelectInitial() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		s.selectNode()
	}
}

// handleNodeRemoved re-runs selection when the removed node was the
// current subscriber.
func (s *subscriber) handleNodeRemoved(n *Node) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == n {
		s.selectNode()
	}
}

// selectNode picks a uniformly random pool member as the subscriber.
// If a previous subscriber recorded channels, they are re-issued on
// the new node and last-active designation waits for those calls to
// resolve; a re-subscription failure is silently ignored and the node
// stays selected.
func (s *subscriber) selectNode() {
	nodes := s.c.pool.Nodes("all")
	if len(nodes) == 0 {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		return
	}
	node := nodes[intn(len(nodes))]

	s.mu.Lock()
	prev := s.lastActive
	s.current = node
	forward := !s.forwarding[node]
	s.forwarding[node] = true
	s.mu.Unlock()

	if forward {
		n := node
		n.Client.OnMessage(func(m Message) {
			s.forwardFrom(n, m)
		})
	}

	var resubs []*Command
	if prev != nil {
		if chans := prev.Client.Subscriptions("subscribe"); len(chans) > 0 {
			cmd := NewCommand("subscribe", channelArgs(chans)...)
			node.Client.Send(cmd)
			resubs = append(resubs, cmd)
		}
		if pats := prev.Client.Subscriptions("psubscribe"); len(pats) > 0 {
			cmd := NewCommand("psubscribe", channelArgs(pats)...)
			node.Client.Send(cmd)
			resubs = append(resubs, cmd)
		}
	}
	if len(resubs) > 0 {
		go func() {
			for _, cmd := range resubs {
				if _, err := cmd.Result(); err != nil {
					return
				}
			}
			s.mu.Lock()
			s.lastActive = node
			s.mu.Unlock()
		}()
		return
	}

	if node.Client.Status() == StatusWait {
		go node.Client.Connect()
	}
	s.mu.Lock()
	s.lastActive = node
	s.mu.Unlock()
}

// forwardFrom re-emits a delivery from the subscriber node on the
// cluster, both in string and buffer form. Deliveries from a node
// that is no longer the subscriber are dropped.
func (s *subscriber) forwardFrom(node *Node, m Message) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != node {
		return
	}
	if m.Pattern != "" {
		s.c.events.emit(EventPMessage, m.Pattern, m.Channel, string(m.Payload))
		s.c.events.emit(EventPMessageBuffer, m.Pattern, m.Channel, m.Payload)
		return
	}
	s.c.events.emit(EventMessage, m.Channel, string(m.Payload))
	s.c.events.emit(EventMessageBuffer, m.Channel, m.Payload)
}

func channelArgs(chans []string) []interface{} {
	args := make([]interface{}, len(chans))
	for i, ch := range chans {
		args[i] = ch
	}
	return args
}
