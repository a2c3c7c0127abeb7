package fabric

import (
	"errors"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// ErrNodeDetached is returned when refreshing a node that is not registered
// with a fabric.
var ErrNodeDetached = errors.New("fabric: node does not belong to a fabric")

// UpdateNode re-fetches a node's NodeInfo, NodeDescription, and per-port
// PortInfo along the directed route it was discovered on, updating the
// existing records in place. Peer links and port presence are untouched:
// topology change after discovery is not modeled here.
func (f *Fabric) UpdateNode(n *Node) error {
	if n == nil || n.fabric != f {
		return ErrNodeDetached
	}
	path := &n.Path

	info, err := f.client.Query(path, mad.AttrNodeInfo, 0)
	if err != nil {
		return err
	}
	n.Info = info

	desc, err := f.client.Query(path, mad.AttrNodeDesc, 0)
	if err != nil {
		return err
	}
	n.Desc = mad.DecodeNodeDesc(desc)

	// Refresh every known port's PortInfo. Missing ports stay missing.
	for p := 1; p <= n.NumPorts; p++ {
		port := f.findPort(n, p)
		if port == nil {
			continue
		}
		pinfo, err := f.client.Query(path, mad.AttrPortInfo, uint32(p))
		if err != nil {
			f.logger.Warn("port refresh failed",
				"path", path.String(), "port", p, "err", err)
			continue
		}
		pi := mad.DecodePortInfo(pinfo)
		port.Info = pinfo
		port.BaseLID = pi.LID
		port.LMC = pi.LMC
	}

	if n.Type != mad.NodeSwitch {
		return nil
	}

	pinfo, err := f.client.Query(path, mad.AttrPortInfo, 0)
	if err != nil {
		return err
	}
	pi := mad.DecodePortInfo(pinfo)
	n.SMALID = pi.LID
	n.SMALMC = pi.LMC

	sinfo, err := f.client.Query(path, mad.AttrSwitchInfo, 0)
	if err != nil {
		n.EnhSP0 = false // assume base SP0
	} else {
		n.SwitchInfo = sinfo
		n.EnhSP0 = mad.DecodeSwitchInfo(sinfo).EnhancedPort0
	}
	return nil
}
