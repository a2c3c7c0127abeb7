package fabric

import (
	"fmt"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// Node is one InfiniBand endpoint: a channel adapter, switch, or router,
// identified by its 64-bit node GUID. A node owns its port table; everything
// else holding a *Node or *Port is a non-owning reference.
type Node struct {
	GUID     uint64
	Type     mad.NodeType
	NumPorts int

	// Info is the raw NodeInfo attribute block; Desc the decoded
	// NodeDescription.
	Info []byte
	Desc string

	// Switch-only state. SMALID/SMALMC come from the port-0 PortInfo,
	// EnhSP0 from SwitchInfo (false when the SwitchInfo query fails).
	SwitchInfo []byte
	SMALID     uint16
	SMALMC     uint8
	EnhSP0     bool

	// Dist is the switch-hop distance from the discovery root; Path the
	// directed route the node was first reached on.
	Dist int
	Path mad.DRPath

	// Ports is indexed by physical port number 1..NumPorts; entry 0 is
	// unused. It stays nil until the first port is installed.
	Ports []*Port

	fabric *Fabric

	// Intrusive chains: global list, kind list, distance bucket, GUID hash.
	next     *Node
	typeNext *Node
	distNext *Node
	hashNext *Node
}

// Fabric returns the fabric the node is registered with.
func (n *Node) Fabric() *Fabric { return n.fabric }

// LocalPort reports which physical port the discovery SMP arrived on,
// straight from the NodeInfo block.
func (n *Node) LocalPort() int {
	return int(mad.DecodeNodeInfo(n.Info).LocalPort)
}

// PortGUID reports the NodeInfo port GUID: for a switch this is the port-0
// GUID shared by every physical port.
func (n *Node) PortGUID() uint64 {
	return mad.DecodeNodeInfo(n.Info).PortGUID
}

// SystemGUID reports the NodeInfo system image GUID.
func (n *Node) SystemGUID() uint64 {
	return mad.DecodeNodeInfo(n.Info).SystemGUID
}

// Port returns the port at physical number p, or nil when absent.
func (n *Node) Port(p int) *Port {
	if n.Ports == nil || p < 0 || p >= len(n.Ports) {
		return nil
	}
	return n.Ports[p]
}

func (n *Node) String() string {
	return fmt.Sprintf("%s 0x%016x %q", n.Type, n.GUID, n.Desc)
}

// Port is one physical port of a node. Remote is the peer across the link,
// nil when the link is down or the peer was unreachable.
type Port struct {
	Node    *Node
	PortNum int
	GUID    uint64

	// Info is the raw PortInfo block; BaseLID/LMC its decoded scalars.
	Info    []byte
	BaseLID uint16
	LMC     uint8

	// ExtPortNum is the external port label. It starts at 0; the built-in
	// chassis grouping does not set it.
	ExtPortNum int

	Remote *Port

	hashNext *Port
}

// PhysState reports the decoded physical port state.
func (p *Port) PhysState() uint8 {
	return mad.DecodePortInfo(p.Info).PhysState
}

// State reports the decoded logical port state.
func (p *Port) State() uint8 {
	return mad.DecodePortInfo(p.Info).State
}

func (p *Port) String() string {
	return fmt.Sprintf("0x%016x[%d]", p.Node.GUID, p.PortNum)
}
