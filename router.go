package rediscluster

// NodeRef pins a command to a node across retries. When Slot is
// non-negative it overrides the slot computed from the command; the
// router caches the resolved node on first selection and reuses it.
type NodeRef struct {
	Endpoint Endpoint
	Slot     int

	node *Node
}

// NewNodeRef returns a pin for the endpoint with no slot override.
func NewNodeRef(ep Endpoint) *NodeRef {
	return &NodeRef{Endpoint: ep, Slot: -1}
}

// Do submits the named command and blocks for its result.
func (c *Cluster) Do(name string, args ...interface{}) (interface{}, error) {
	cmd := NewCommand(name, args...)
	c.Send(cmd, nil)
	return cmd.Result()
}

// Send routes the command through the cluster, optionally pinned to a
// node. It returns cmd so callers can wait on its future.
func (c *Cluster) Send(cmd *Command, ref *NodeRef) *Command {
	if c.Status() == StatusEnd {
		cmd.fail(errConnectionClosed)
		return cmd
	}

	to := c.opts.ScaleReads
	custom := c.opts.ScaleReadsFunc
	if custom != nil {
		to = ReadsAll
	}
	if (to != ReadsMaster || custom != nil) && !isReadOnlyCommand(cmd.Name()) {
		to = ReadsMaster
		custom = nil
	}

	slot := cmd.Slot()
	if ref != nil && ref.Slot >= 0 {
		slot = ref.Slot
	}

	cmd.wrapReject(func(err error) {
		c.classify(cmd, ref, to, custom, slot, err)
	})
	c.tryConnection(cmd, ref, to, custom, slot, false, "")
	return cmd
}

// tryConnection is one routing attempt. With random set, slot-based
// selection is skipped and any node of the target role serves; with
// askingKey set, the attempt targets that endpoint behind a one-shot
// ASKING.
func (c *Cluster) tryConnection(cmd *Command, ref *NodeRef, to string, custom NodeSelector, slot int, random bool, askingKey string) {
	if c.Status() == StatusEnd {
		cmd.fail(errClusterEnded)
		return
	}

	var node *Node
	if c.Status() == StatusReady {
		switch {
		case ref != nil && ref.node != nil:
			node = ref.node
		case ref != nil && ref.Endpoint.Host != "":
			node = c.pool.FindOrCreate(ref.Endpoint)
		case isSubscriberCommand(cmd.Name()):
			node = c.sub.Current()
		case !random:
			if keys := c.slots.Get(slot); len(keys) > 0 {
				node = c.selectByPolicy(keys, to, custom, cmd.Name())
			}
			if askingKey != "" {
				if ep, err := parseEndpoint(askingKey); err == nil {
					node = c.pool.FindOrCreate(ep)
					node.Client.Asking()
				}
			}
		}
		if node == nil {
			node = sampleNodes(c.pool.Nodes(to))
		}
		if node == nil {
			node = sampleNodes(c.pool.Nodes("all"))
		}
		if ref != nil && ref.node == nil {
			ref.node = node
		}
	}

	if node != nil {
		node.Client.Send(cmd)
		return
	}
	if !c.opts.DisableOfflineQueue {
		c.offline.Enqueue(offlineItem{cmd: cmd, ref: ref})
		return
	}
	cmd.fail(errOfflineQueueOff)
}

// selectByPolicy picks a node from the slot's ordered endpoint keys
// (primary first) according to the read policy.
func (c *Cluster) selectByPolicy(keys []string, to string, custom NodeSelector, command string) *Node {
	if custom != nil {
		nodes := make([]*Node, 0, len(keys))
		for _, k := range keys {
			if n := c.pool.Get(k); n != nil {
				nodes = append(nodes, n)
			}
		}
		if len(nodes) == 0 {
			return nil
		}
		picked := custom(nodes, command)
		if len(picked) == 0 {
			return nodes[0]
		}
		return picked[intn(len(picked))]
	}

	var key string
	switch {
	case to == ReadsAll:
		key = keys[intn(len(keys))]
	case to == ReadsSlave && len(keys) > 1:
		key = keys[1+intn(len(keys)-1)]
	default:
		key = keys[0]
	}
	return c.pool.Get(key)
}

func sampleNodes(nodes []*Node) *Node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[intn(len(nodes))]
}

// classify is the wrapped reject path: it dispatches cluster errors
// into redirections and deferred retries, within the command's
// redirection budget, and passes everything else through to the
// command's original reject.
func (c *Cluster) classify(cmd *Command, ref *NodeRef, to string, custom NodeSelector, slot int, err error) {
	if !cmd.consumeTTL(c.opts.MaxRedirections) {
		cmd.fail(tooManyRedirections(err))
		return
	}

	if re := ParseRedir(err); re != nil {
		switch re.Type {
		case "MOVED":
			c.slots.SetPrimary(re.NewSlot, re.Addr)
			if ep, perr := parseEndpoint(re.Addr); perr == nil {
				c.pool.FindOrCreate(ep)
			}
			c.refresher.RefreshAsync()
			c.tryConnection(cmd, ref, to, custom, slot, false, "")
		case "ASK":
			c.tryConnection(cmd, ref, to, custom, slot, false, re.Addr)
		}
		return
	}

	if isClusterDown(err) && c.opts.RetryDelayOnClusterDown > 0 {
		c.clusterDownQueue.Push(func() {
			c.tryConnection(cmd, ref, to, custom, slot, true, "")
		})
		return
	}
	if isConnectionClosed(err) && c.opts.RetryDelayOnFailover > 0 {
		c.failoverQueue.Push(func() {
			c.tryConnection(cmd, ref, to, custom, slot, true, "")
		})
		return
	}

	cmd.fail(err)
}
