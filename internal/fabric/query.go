package fabric

import (
	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// FindNodeByGUID returns the node with the given GUID, or nil.
func (f *Fabric) FindNodeByGUID(guid uint64) *Node {
	return f.findNodeByGUID(guid)
}

// FindPortByGUID returns the port with the given port GUID, or nil. All
// ports of a switch share the node's port-0 GUID; the most recently
// registered one wins.
func (f *Fabric) FindPortByGUID(guid uint64) *Port {
	for p := f.portstbl[hashGUID(guid)]; p != nil; p = p.hashNext {
		if p.GUID == guid {
			return p
		}
	}
	return nil
}

// FindNodeByDR resolves a dotted directed-route string ("0,1,7") by walking
// peer links from the root, skipping zero hops. It returns nil when the
// string does not parse or any intermediate port or peer is missing.
func (f *Fabric) FindNodeByDR(drStr string) *Node {
	path, err := mad.ParseDRPath(drStr)
	if err != nil {
		return nil
	}

	node := f.Root
	for i := 0; i <= path.Len(); i++ {
		hop := path.Hop(i)
		if hop == 0 {
			continue
		}
		if node == nil || node.Ports == nil || hop >= len(node.Ports) {
			return nil
		}
		port := node.Ports[hop]
		if port == nil || port.Remote == nil {
			return nil
		}
		node = port.Remote.Node
	}
	return node
}

// IterNodes visits every node in the fabric. The order is the reverse of
// insertion order.
func (f *Fabric) IterNodes(fn func(*Node)) {
	for n := f.nodes; n != nil; n = n.next {
		fn(n)
	}
}

// IterNodesOfKind visits every node of one kind. Unknown kinds yield no
// visits.
func (f *Fabric) IterNodesOfKind(t mad.NodeType, fn func(*Node)) {
	var list *Node
	switch t {
	case mad.NodeCA:
		list = f.chAdapters
	case mad.NodeSwitch:
		list = f.switches
	case mad.NodeRouter:
		list = f.routers
	default:
		f.logger.Debug("invalid node type for iteration", "type", int(t))
		return
	}
	for n := list; n != nil; n = n.typeNext {
		fn(n)
	}
}
