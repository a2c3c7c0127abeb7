// Package mad defines the subnet management datagram surface the fabric
// discovery core consumes: SMP attribute identifiers, the wire codec for the
// NodeInfo/PortInfo/SwitchInfo/NodeDescription attribute blocks, the
// directed-route path buffer, and the Transport contract a MAD port
// implementation has to satisfy.
package mad

import "time"

// Management classes carried by SMPs.
const (
	ClassSMI       uint8 = 0x01 // LID-routed subnet management
	ClassSMIDirect uint8 = 0x81 // directed-route subnet management
)

// SMP attribute identifiers.
type AttrID uint16

const (
	AttrNodeDesc   AttrID = 0x0010
	AttrNodeInfo   AttrID = 0x0011
	AttrSwitchInfo AttrID = 0x0012
	AttrPortInfo   AttrID = 0x0015
)

func (a AttrID) String() string {
	switch a {
	case AttrNodeDesc:
		return "NodeDescription"
	case AttrNodeInfo:
		return "NodeInfo"
	case AttrSwitchInfo:
		return "SwitchInfo"
	case AttrPortInfo:
		return "PortInfo"
	}
	return "Attr(unknown)"
}

// SMPDataSize is the size of the attribute payload of an SMP.
const SMPDataSize = 64

// Node types as encoded in NodeInfo.
type NodeType uint8

const (
	NodeCA     NodeType = 1
	NodeSwitch NodeType = 2
	NodeRouter NodeType = 3
)

func (t NodeType) String() string {
	switch t {
	case NodeCA:
		return "CA"
	case NodeSwitch:
		return "Switch"
	case NodeRouter:
		return "Router"
	}
	return "Unknown"
}

// Port logical states from PortInfo.
const (
	PortStateNop    uint8 = 0
	PortStateDown   uint8 = 1
	PortStateInit   uint8 = 2
	PortStateArmed  uint8 = 3
	PortStateActive uint8 = 4
)

// Port physical states from PortInfo. PhysStateLinkUp is the discriminator
// for whether a peer can sit across the link.
const (
	PhysStateSleep    uint8 = 1
	PhysStatePolling  uint8 = 2
	PhysStateDisabled uint8 = 3
	PhysStateTraining uint8 = 4
	PhysStateLinkUp   uint8 = 5
	PhysStateRecovery uint8 = 6
	PhysStatePhyTest  uint8 = 7
)

// PhysStateName returns a printable name for a PortInfo physical state value.
func PhysStateName(s uint8) string {
	switch s {
	case PhysStateSleep:
		return "SLEEP"
	case PhysStatePolling:
		return "POLLING"
	case PhysStateDisabled:
		return "DISABLED"
	case PhysStateTraining:
		return "TRAINING"
	case PhysStateLinkUp:
		return "LINK_UP"
	case PhysStateRecovery:
		return "LINK_ERROR_RECOVERY"
	case PhysStatePhyTest:
		return "PHY_TEST"
	}
	return "UNKNOWN"
}

// Transport is the MAD port handle the discovery core drives. Implementations
// own the wire I/O, including any retransmits within a single query.
//
// ClassAgent reports the registered agent id for a management class, or -1
// when no agent is registered for it.
//
// SMPQuery issues a Get of the given attribute along a directed-route path
// and returns the SMPDataSize attribute block on success.
type Transport interface {
	ClassAgent(class uint8) int
	SMPQuery(path DRPath, attr AttrID, mod uint32, timeout time.Duration) ([]byte, error)
}
