package rediscluster

import "sync"

// pool owns one node per known endpoint and keeps three views over the
// same set: all, masters and slaves. It emits "+node" exactly once per
// node creation, "-node" once per removal, and "drain" when the pool
// becomes empty after having been non-empty.
type pool struct {
	events    *emitter
	newClient func(Endpoint) Client
	onDrain   func()

	mu      sync.Mutex
	all     map[string]*Node
	masters map[string]*Node
	slaves  map[string]*Node
}

func newPool(events *emitter, newClient func(Endpoint) Client) *pool {
	return &pool{
		events:    events,
		newClient: newClient,
		all:       make(map[string]*Node),
		masters:   make(map[string]*Node),
		slaves:    make(map[string]*Node),
	}
}

func (p *pool) roleView(r Role) map[string]*Node {
	if r == RoleSlave {
		return p.slaves
	}
	return p.masters
}

// Reset reconciles the pool against a new endpoint set: endpoints not
// yet known get nodes, known endpoints absent from the set are
// disconnected and removed, and role changes are applied in place
// without churning the node.
func (p *pool) Reset(endpoints []Endpoint) {
	desired := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		desired[ep.Key()] = ep
	}

	var added, removed []*Node

	p.mu.Lock()
	wasEmpty := len(p.all) == 0
	for key, node := range p.all {
		ep, keep := desired[key]
		if !keep {
			delete(p.all, key)
			delete(p.masters, key)
			delete(p.slaves, key)
			removed = append(removed, node)
			continue
		}
		role := RoleMaster
		if ep.ReadOnly {
			role = RoleSlave
		}
		if node.Role() != role {
			delete(p.roleView(node.Role()), key)
			node.setRole(role)
			p.roleView(role)[key] = node
		}
	}
	for key, ep := range desired {
		if _, ok := p.all[key]; ok {
			continue
		}
		node := newNode(ep, p.newClient(ep))
		p.all[key] = node
		p.roleView(node.Role())[key] = node
		added = append(added, node)
	}
	drained := !wasEmpty && len(p.all) == 0
	p.mu.Unlock()

	for _, node := range added {
		p.events.emit(EventNodeAdded, node)
	}
	for _, node := range removed {
		node.Client.Disconnect()
		p.events.emit(EventNodeRemoved, node)
	}
	if drained {
		p.events.emit(EventDrain)
		if p.onDrain != nil {
			p.onDrain()
		}
	}
}

// FindOrCreate returns the node for the endpoint, creating it with the
// default master role if the pool does not hold one yet.
func (p *pool) FindOrCreate(ep Endpoint) *Node {
	key := ep.Key()
	p.mu.Lock()
	if node, ok := p.all[key]; ok {
		p.mu.Unlock()
		return node
	}
	node := newNode(Endpoint{Host: ep.Host, Port: ep.Port}, p.newClient(ep))
	p.all[key] = node
	p.masters[key] = node
	p.mu.Unlock()

	p.events.emit(EventNodeAdded, node)
	return node
}

// Get returns the node for the endpoint key, or nil.
func (p *pool) Get(key string) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.all[key]
}

// Nodes returns a snapshot of the nodes in the given role view.
func (p *pool) Nodes(role string) []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	var view map[string]*Node
	switch role {
	case "master":
		view = p.masters
	case "slave":
		view = p.slaves
	default:
		view = p.all
	}
	nodes := make([]*Node, 0, len(view))
	for _, n := range view {
		nodes = append(nodes, n)
	}
	return nodes
}

// Keys returns a snapshot of all endpoint keys.
func (p *pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.all))
	for k := range p.all {
		keys = append(keys, k)
	}
	return keys
}

func (p *pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
