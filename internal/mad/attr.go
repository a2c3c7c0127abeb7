package mad

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// NodeInfo is the decoded form of the NodeInfo attribute block.
type NodeInfo struct {
	BaseVersion  uint8
	ClassVersion uint8
	Type         NodeType
	NumPorts     uint8
	SystemGUID   uint64
	GUID         uint64
	PortGUID     uint64
	PartitionCap uint16
	DeviceID     uint16
	Revision     uint32
	LocalPort    uint8
	VendorID     uint32
}

// DecodeNodeInfo extracts the NodeInfo fields from a raw attribute block.
func DecodeNodeInfo(b []byte) NodeInfo {
	var ni NodeInfo
	if len(b) < 40 {
		return ni
	}
	ni.BaseVersion = b[0]
	ni.ClassVersion = b[1]
	ni.Type = NodeType(b[2])
	ni.NumPorts = b[3]
	ni.SystemGUID = binary.BigEndian.Uint64(b[4:12])
	ni.GUID = binary.BigEndian.Uint64(b[12:20])
	ni.PortGUID = binary.BigEndian.Uint64(b[20:28])
	ni.PartitionCap = binary.BigEndian.Uint16(b[28:30])
	ni.DeviceID = binary.BigEndian.Uint16(b[30:32])
	ni.Revision = binary.BigEndian.Uint32(b[32:36])
	ni.LocalPort = b[36]
	ni.VendorID = uint32(b[37])<<16 | uint32(b[38])<<8 | uint32(b[39])
	return ni
}

// Marshal renders the NodeInfo into a fresh SMPDataSize block.
func (ni NodeInfo) Marshal() []byte {
	b := make([]byte, SMPDataSize)
	b[0] = ni.BaseVersion
	b[1] = ni.ClassVersion
	b[2] = uint8(ni.Type)
	b[3] = ni.NumPorts
	binary.BigEndian.PutUint64(b[4:12], ni.SystemGUID)
	binary.BigEndian.PutUint64(b[12:20], ni.GUID)
	binary.BigEndian.PutUint64(b[20:28], ni.PortGUID)
	binary.BigEndian.PutUint16(b[28:30], ni.PartitionCap)
	binary.BigEndian.PutUint16(b[30:32], ni.DeviceID)
	binary.BigEndian.PutUint32(b[32:36], ni.Revision)
	b[36] = ni.LocalPort
	b[37] = uint8(ni.VendorID >> 16)
	b[38] = uint8(ni.VendorID >> 8)
	b[39] = uint8(ni.VendorID)
	return b
}

// PortInfo is the decoded form of the PortInfo attribute block. Only the
// fields the discovery core consumes are carried.
type PortInfo struct {
	MKey            uint64
	GIDPrefix       uint64
	LID             uint16
	MasterSMLID     uint16
	CapabilityMask  uint32
	LocalPort       uint8
	LinkWidthActive uint8
	State           uint8
	PhysState       uint8
	LMC             uint8
	LinkSpeedActive uint8
}

// DecodePortInfo extracts the PortInfo fields from a raw attribute block.
func DecodePortInfo(b []byte) PortInfo {
	var pi PortInfo
	if len(b) < 36 {
		return pi
	}
	pi.MKey = binary.BigEndian.Uint64(b[0:8])
	pi.GIDPrefix = binary.BigEndian.Uint64(b[8:16])
	pi.LID = binary.BigEndian.Uint16(b[16:18])
	pi.MasterSMLID = binary.BigEndian.Uint16(b[18:20])
	pi.CapabilityMask = binary.BigEndian.Uint32(b[20:24])
	pi.LocalPort = b[28]
	pi.LinkWidthActive = b[31]
	pi.State = b[32] & 0x0f
	pi.PhysState = b[33] >> 4
	pi.LMC = b[34] & 0x07
	pi.LinkSpeedActive = b[35] >> 4
	return pi
}

// Marshal renders the PortInfo into a fresh SMPDataSize block.
func (pi PortInfo) Marshal() []byte {
	b := make([]byte, SMPDataSize)
	binary.BigEndian.PutUint64(b[0:8], pi.MKey)
	binary.BigEndian.PutUint64(b[8:16], pi.GIDPrefix)
	binary.BigEndian.PutUint16(b[16:18], pi.LID)
	binary.BigEndian.PutUint16(b[18:20], pi.MasterSMLID)
	binary.BigEndian.PutUint32(b[20:24], pi.CapabilityMask)
	b[28] = pi.LocalPort
	b[31] = pi.LinkWidthActive
	b[32] = pi.State & 0x0f
	b[33] = pi.PhysState << 4
	b[34] = pi.LMC & 0x07
	b[35] = pi.LinkSpeedActive << 4
	return b
}

// SwitchInfo is the decoded form of the SwitchInfo attribute block.
type SwitchInfo struct {
	LinearFDBCap    uint16
	RandomFDBCap    uint16
	MulticastFDBCap uint16
	LinearFDBTop    uint16
	DefaultPort     uint8
	LIDsPerPort     uint16
	EnhancedPort0   bool
}

// DecodeSwitchInfo extracts the SwitchInfo fields from a raw attribute block.
func DecodeSwitchInfo(b []byte) SwitchInfo {
	var si SwitchInfo
	if len(b) < 17 {
		return si
	}
	si.LinearFDBCap = binary.BigEndian.Uint16(b[0:2])
	si.RandomFDBCap = binary.BigEndian.Uint16(b[2:4])
	si.MulticastFDBCap = binary.BigEndian.Uint16(b[4:6])
	si.LinearFDBTop = binary.BigEndian.Uint16(b[6:8])
	si.DefaultPort = b[8]
	si.LIDsPerPort = binary.BigEndian.Uint16(b[12:14])
	si.EnhancedPort0 = b[16]&0x08 != 0
	return si
}

// Marshal renders the SwitchInfo into a fresh SMPDataSize block.
func (si SwitchInfo) Marshal() []byte {
	b := make([]byte, SMPDataSize)
	binary.BigEndian.PutUint16(b[0:2], si.LinearFDBCap)
	binary.BigEndian.PutUint16(b[2:4], si.RandomFDBCap)
	binary.BigEndian.PutUint16(b[4:6], si.MulticastFDBCap)
	binary.BigEndian.PutUint16(b[6:8], si.LinearFDBTop)
	b[8] = si.DefaultPort
	binary.BigEndian.PutUint16(b[12:14], si.LIDsPerPort)
	if si.EnhancedPort0 {
		b[16] |= 0x08
	}
	return b
}

// DecodeNodeDesc turns a raw NodeDescription block into a printable string.
// The block is NUL padded and may carry vendor garbage past the terminator;
// unprintable bytes are mapped to spaces.
func DecodeNodeDesc(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			c = ' '
		}
		sb.WriteByte(c)
	}
	return strings.TrimRight(sb.String(), " ")
}

// EncodeNodeDesc renders a description string into a NUL-padded block.
func EncodeNodeDesc(s string) []byte {
	b := make([]byte, SMPDataSize)
	copy(b, s)
	return b
}
