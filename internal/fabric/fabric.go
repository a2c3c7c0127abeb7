// Package fabric discovers the topology of an InfiniBand fabric by probing
// it with directed-route SMPs and assembles a typed in-memory graph of
// nodes, ports, and the links between them. The graph is indexed by node
// GUID, port GUID, node kind, and switch-hop distance from the discovery
// root, and supports incremental refresh of a single node.
package fabric

import (
	"log/slog"
	"os"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// htSize is the chain count of the GUID hash tables.
const htSize = 137

// hashGUID folds a 64-bit GUID into a hash bucket index.
func hashGUID(guid uint64) int {
	h := uint32(guid)*101 ^ uint32(guid>>32)*103
	return int(h % htSize)
}

// Fabric is the root container of a discovered topology. It owns every node
// record; nodes own their ports; peer links are non-owning references.
type Fabric struct {
	client *mad.Client

	// Root is the node the discovery walk started from.
	Root *Node

	nodes      *Node // global list, reverse insertion order
	chAdapters *Node
	switches   *Node
	routers    *Node

	// nodesdist buckets switches by switch-hop distance from the root;
	// non-switches all land in the MaxHops bucket.
	nodesdist [mad.MaxHops + 1]*Node

	nodestbl [htSize]*Node
	portstbl [htSize]*Port

	// MaxHopsDiscovered is the length of the deepest directed-route path
	// the walk cursor was extended to, whether or not the probe along it
	// succeeded.
	MaxHopsDiscovered int

	// Chassis heads the chassis list attached by the grouping pass.
	Chassis *Chassis

	logger   *slog.Logger
	progress bool
}

// Process-wide diagnostic toggles. They only affect logging, never
// semantics, and must not be raced against a running discovery.
var (
	debugLogger  *slog.Logger
	showProgress bool
)

// SetDebug switches the package default logger between info and debug
// verbosity. Zero disables debug output.
func SetDebug(level int) {
	if level > 0 {
		debugLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		debugLogger = nil
	}
}

// SetProgress toggles per-node progress logging for discoveries that do not
// set DiscoverOptions.Progress themselves.
func SetProgress(on bool) {
	showProgress = on
}

func defaultLogger() *slog.Logger {
	if debugLogger != nil {
		return debugLogger
	}
	return slog.Default()
}

// findNodeByGUID walks the GUID hash chain.
func (f *Fabric) findNodeByGUID(guid uint64) *Node {
	for n := f.nodestbl[hashGUID(guid)]; n != nil; n = n.hashNext {
		if n.GUID == guid {
			return n
		}
	}
	return nil
}

// registerNode installs a node in the global list, its kind list, its
// distance bucket, and the GUID hash. The registrations cannot partially
// fail: a created node is always fully indexed.
func (f *Fabric) registerNode(n *Node) {
	n.fabric = f

	h := hashGUID(n.GUID)
	n.hashNext = f.nodestbl[h]
	f.nodestbl[h] = n

	n.next = f.nodes
	f.nodes = n

	switch n.Type {
	case mad.NodeCA:
		n.typeNext = f.chAdapters
		f.chAdapters = n
	case mad.NodeSwitch:
		n.typeNext = f.switches
		f.switches = n
	case mad.NodeRouter:
		n.typeNext = f.routers
		f.routers = n
	}

	dist := n.Dist
	if n.Type != mad.NodeSwitch {
		dist = mad.MaxHops // leaf bucket
	}
	n.distNext = f.nodesdist[dist]
	f.nodesdist[dist] = n
}

// createNode materializes a node from a query template, stamping the
// distance and a copy of the path it was reached on, and registers it.
// No port table is allocated yet.
func (f *Fabric) createNode(tmpl *Node, path *mad.DRPath, dist int) *Node {
	n := &Node{
		GUID:       tmpl.GUID,
		Type:       tmpl.Type,
		NumPorts:   tmpl.NumPorts,
		Info:       tmpl.Info,
		Desc:       tmpl.Desc,
		SwitchInfo: tmpl.SwitchInfo,
		SMALID:     tmpl.SMALID,
		SMALMC:     tmpl.SMALMC,
		EnhSP0:     tmpl.EnhSP0,
		Dist:       dist,
		Path:       *path,
	}
	f.registerNode(n)
	return n
}

// findPort returns the already-installed port at portnum, if any.
func (f *Fabric) findPort(n *Node, portnum int) *Port {
	if portnum > n.NumPorts || n.Ports == nil {
		return nil
	}
	return n.Ports[portnum]
}

// addPortToNode materializes a port from a template, installs it in the
// node's port table (allocated lazily, sized NumPorts+1), and registers it
// in the port GUID hash.
func (f *Fabric) addPortToNode(n *Node, tmpl *Port) *Port {
	p := &Port{
		Node:    n,
		PortNum: tmpl.PortNum,
		GUID:    tmpl.GUID,
		Info:    tmpl.Info,
		BaseLID: tmpl.BaseLID,
		LMC:     tmpl.LMC,
	}
	if n.Ports == nil {
		n.Ports = make([]*Port, n.NumPorts+1)
	}
	n.Ports[p.PortNum] = p

	h := hashGUID(p.GUID)
	p.hashNext = f.portstbl[h]
	f.portstbl[h] = p
	return p
}

// linkPorts stitches two port records into a symmetric peer link. A port
// that already has a peer is unlinked from it first, so re-walking a link
// is idempotent.
func (f *Fabric) linkPorts(port, remote *Port) {
	f.logger.Debug("linking ports",
		"local", port.String(), "remote", remote.String())
	if port.Remote != nil {
		port.Remote.Remote = nil
	}
	if remote.Remote != nil {
		remote.Remote.Remote = nil
	}
	port.Remote = remote
	remote.Remote = port
}

// extendPath appends an egress port to the walk cursor and tracks the
// deepest extension observed.
func (f *Fabric) extendPath(path *mad.DRPath, port int) error {
	if err := path.Extend(port); err != nil {
		return err
	}
	if path.Len() > f.MaxHopsDiscovered {
		f.MaxHopsDiscovered = path.Len()
	}
	return nil
}

// Destroy unlinks every index and every port table so a retained Fabric
// pointer cannot keep the whole graph reachable. Peer links are never
// followed; ownership is fabric → nodes → ports.
func (f *Fabric) Destroy() {
	f.Chassis = nil
	for dist := 0; dist <= mad.MaxHops; dist++ {
		n := f.nodesdist[dist]
		for n != nil {
			next := n.distNext
			for i := range n.Ports {
				n.Ports[i] = nil
			}
			n.Ports = nil
			n.next, n.typeNext, n.distNext, n.hashNext = nil, nil, nil, nil
			n.fabric = nil
			n = next
		}
		f.nodesdist[dist] = nil
	}
	for i := range f.nodestbl {
		f.nodestbl[i] = nil
	}
	for i := range f.portstbl {
		f.portstbl[i] = nil
	}
	f.nodes, f.chAdapters, f.switches, f.routers = nil, nil, nil, nil
	f.Root = nil
	f.client = nil
}
