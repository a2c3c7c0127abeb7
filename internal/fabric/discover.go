package fabric

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// ErrRootUnreachable is returned when the node at the starting port cannot
// be queried at all.
var ErrRootUnreachable = errors.New("fabric: discovery root unreachable")

// DiscoverOptions tunes a discovery run. The zero value of From starts from
// the local port; a negative MaxHops walks everything reachable.
type DiscoverOptions struct {
	// Timeout applies to each individual SMP query.
	Timeout time.Duration

	// From is the directed route of the starting port. Nil means the
	// local port.
	From *mad.DRPath

	// MaxHops bounds the breadth-first walk. Negative means no bound
	// short of the directed-route limit.
	MaxHops int

	// Logger receives per-probe debug lines and mid-walk warnings. Nil
	// falls back to the package default (see SetDebug).
	Logger *slog.Logger

	// Progress logs one line per processed node, like SetProgress but
	// scoped to this run.
	Progress bool

	// GroupNodes is the chassis-grouping pass run over the completed
	// graph. Nil selects the built-in system-GUID grouping.
	GroupNodes func(*Fabric) *Chassis
}

const defaultTimeout = 2 * time.Second

// Discover probes the fabric reachable from the starting port and returns
// the assembled graph. Configuration problems and an unreachable root fail
// the call; protocol failures further into the walk are logged and the
// affected port or link is skipped.
func Discover(tr mad.Transport, opts DiscoverOptions) (*Fabric, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}

	client, err := mad.NewClient(tr, opts.Timeout, logger)
	if err != nil {
		return nil, err
	}

	maxHops := opts.MaxHops
	if maxHops < 0 {
		maxHops = mad.MaxHops - 1
	}

	var from mad.DRPath
	if opts.From != nil {
		from = *opts.From
	}

	f := &Fabric{
		client:   client,
		logger:   logger,
		progress: opts.Progress || showProgress,
	}

	logger.Debug("discovering fabric", "from", from.String(), "max_hops", maxHops)

	nodeTmpl, portTmpl, err := f.queryNode(&from)
	if err != nil {
		logger.Warn("cannot reach discovery root", "path", from.String(), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrRootUnreachable, err)
	}

	root := f.createNode(&nodeTmpl, &from, 0)
	f.Root = root
	port := f.addPortToNode(root, &portTmpl)

	// A non-switch root cannot forward directed-route traffic, so its
	// single neighbor is probed straight through the arriving port. When
	// that probe fails the partially built fabric is returned as-is.
	if root.Type != mad.NodeSwitch {
		if err := f.probeRemote(root, port, &from, root.LocalPort(), 0); err != nil {
			return f, nil
		}
	}

	for dist := 0; dist <= maxHops; dist++ {
		// The bucket head is read when the layer is reached, so switches
		// linked in by deeper probes of earlier layers are picked up.
		for node := f.nodesdist[dist]; node != nil; node = node.distNext {
			path := &node.Path
			localPort := node.LocalPort()

			f.dumpProgress(path, "processing", node, nil)
			logger.Debug("processing node", "dist", dist, "node", node.String())

			for i := 1; i <= node.NumPorts; i++ {
				if i == localPort {
					continue
				}

				portTmpl, err := f.queryPortInfo(path, i)
				if err != nil {
					logger.Warn("cannot reach port, skipping",
						"path", path.String(), "port", i, "err", err)
					continue
				}

				if f.findPort(node, i) != nil {
					continue // already visited via another walk
				}

				if node.Type == mad.NodeSwitch {
					// On a switch every port shares the port-0 GUID.
					portTmpl.GUID = node.PortGUID()
				}
				port := f.addPortToNode(node, &portTmpl)

				f.probeRemote(node, port, path, i, dist)
			}
		}
	}

	group := opts.GroupNodes
	if group == nil {
		group = groupBySystemGUID
	}
	f.Chassis = group(f)

	return f, nil
}

// queryNode probes whatever sits at the end of path and builds node and
// port templates from its NodeInfo, NodeDescription, and PortInfo. For a
// switch the management LID comes from port 0 while the arriving port's
// physical state comes from its own PortInfo.
func (f *Fabric) queryNode(path *mad.DRPath) (Node, Port, error) {
	var node Node
	var port Port

	info, err := f.client.Query(path, mad.AttrNodeInfo, 0)
	if err != nil {
		return node, port, err
	}
	ni := mad.DecodeNodeInfo(info)
	node.Info = info
	node.GUID = ni.GUID
	node.Type = ni.Type
	node.NumPorts = int(ni.NumPorts)

	port.PortNum = int(ni.LocalPort)
	port.GUID = ni.PortGUID

	desc, err := f.client.Query(path, mad.AttrNodeDesc, 0)
	if err != nil {
		return node, port, err
	}
	node.Desc = mad.DecodeNodeDesc(desc)

	pinfo, err := f.client.Query(path, mad.AttrPortInfo, 0)
	if err != nil {
		return node, port, err
	}
	port.Info = pinfo
	pi := mad.DecodePortInfo(pinfo)
	port.BaseLID = pi.LID
	port.LMC = pi.LMC

	if node.Type != mad.NodeSwitch {
		return node, port, nil
	}

	node.SMALID = pi.LID
	node.SMALMC = pi.LMC

	// With the management LID recorded, fetch the real PortInfo of the
	// arriving physical port.
	pinfo, err = f.client.Query(path, mad.AttrPortInfo, uint32(port.PortNum))
	if err != nil {
		return node, port, err
	}
	port.Info = pinfo

	// LID is still defined by port 0.
	port.BaseLID = node.SMALID
	port.LMC = node.SMALMC

	sinfo, err := f.client.Query(path, mad.AttrSwitchInfo, 0)
	if err != nil {
		node.EnhSP0 = false // assume base SP0
	} else {
		node.SwitchInfo = sinfo
		node.EnhSP0 = mad.DecodeSwitchInfo(sinfo).EnhancedPort0
	}

	f.logger.Debug("got node", "path", path.String(), "node", node.String())
	return node, port, nil
}

// queryPortInfo fetches PortInfo for one physical port along path and
// builds a port template from it.
func (f *Fabric) queryPortInfo(path *mad.DRPath, portnum int) (Port, error) {
	var port Port
	info, err := f.client.Query(path, mad.AttrPortInfo, uint32(portnum))
	if err != nil {
		return port, err
	}
	pi := mad.DecodePortInfo(info)
	port.PortNum = portnum
	port.Info = info
	port.BaseLID = pi.LID
	port.LMC = pi.LMC
	f.logger.Debug("port info",
		"path", path.String(), "port", portnum,
		"base_lid", pi.LID, "state", pi.State, "phys_state", mad.PhysStateName(pi.PhysState),
		"width", pi.LinkWidthActive, "speed", pi.LinkSpeedActive)
	return port, nil
}

// probeRemote follows one link: it extends the walk cursor through portnum,
// queries the peer, materializes or reuses its records, and links the two
// ends. The cursor is retracted on every exit path past the extension.
func (f *Fabric) probeRemote(node *Node, port *Port, path *mad.DRPath, portnum, dist int) error {
	if port.PhysState() != mad.PhysStateLinkUp {
		return errLinkDown
	}

	if err := f.extendPath(path, portnum); err != nil {
		return err
	}

	nodeTmpl, portTmpl, err := f.queryNode(path)
	if err != nil {
		f.logger.Warn("NodeInfo query failed, skipping port",
			"path", path.String(), "err", err)
		path.Retract()
		return err
	}

	remoteNode := f.findNodeByGUID(nodeTmpl.GUID)
	known := remoteNode != nil
	if !known {
		remoteNode = f.createNode(&nodeTmpl, path, dist+1)
	}

	remotePort := f.findPort(remoteNode, portTmpl.PortNum)
	if remotePort == nil {
		remotePort = f.addPortToNode(remoteNode, &portTmpl)
	}

	if known {
		f.dumpProgress(path, "known remote", remoteNode, remotePort)
	} else {
		f.dumpProgress(path, "new remote", remoteNode, remotePort)
	}

	f.linkPorts(port, remotePort)

	path.Retract()
	return nil
}

var errLinkDown = errors.New("fabric: port is not LinkUp")

// dumpProgress logs one line per end node when progress output is on.
func (f *Fabric) dumpProgress(path *mad.DRPath, prompt string, node *Node, port *Port) {
	if !f.progress {
		return
	}
	attrs := []any{
		"path", path.String(),
		"type", node.Type.String(),
		"guid", fmt.Sprintf("0x%016x", node.GUID),
		"desc", node.Desc,
	}
	if port != nil && node.Type != mad.NodeSwitch {
		attrs = append(attrs,
			"port", port.PortNum,
			"lid_first", port.BaseLID,
			"lid_last", port.BaseLID+(1<<port.LMC)-1)
	}
	f.logger.Info(prompt, attrs...)
}
