package rediscluster

import "sync/atomic"

// Role of a cluster member within its replication group.
type Role int32

const (
	RoleMaster Role = iota
	RoleSlave
)

func (r Role) String() string {
	if r == RoleSlave {
		return "slave"
	}
	return "master"
}

// Node is a pool-owned handle to one cluster member: the endpoint, its
// single-node client and its current role. The pool creates a node on
// findOrCreate and disconnects its client when a reset computes it
// absent from the new endpoint set.
type Node struct {
	Endpoint Endpoint
	Client   Client

	role int32 // atomic, reassigned in place on reset
}

func newNode(ep Endpoint, client Client) *Node {
	n := &Node{Endpoint: ep, Client: client}
	if ep.ReadOnly {
		n.setRole(RoleSlave)
	}
	return n
}

// Key returns the node's "host:port" identity.
func (n *Node) Key() string { return n.Endpoint.Key() }

// Role returns the node's current role.
func (n *Node) Role() Role { return Role(atomic.LoadInt32(&n.role)) }

func (n *Node) setRole(r Role) { atomic.StoreInt32(&n.role, int32(r)) }
