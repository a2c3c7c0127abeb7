package fabric

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// The tests drive discovery against a simulated fabric: a little graph of
// simNodes whose transport answers SMP queries by walking the directed
// route hop by hop, exactly like a real subnet would.

var errSimUnreachable = errors.New("sim: node unreachable")

type simPort struct {
	num       int
	guid      uint64
	lid       uint16
	lmc       uint8
	state     uint8
	physState uint8

	failPortInfo bool

	node   *simNode
	remote *simPort
}

type simNode struct {
	guid     uint64
	sysGUID  uint64
	portGUID uint64
	typ      mad.NodeType
	numPorts int
	desc     string

	smaLID uint16
	smaLMC uint8
	enhSP0 bool

	failSwitchInfo bool
	unreachable    bool

	// entryPort is the port the SM reaches this node on when it is the
	// discovery root.
	entryPort int

	ports map[int]*simPort
}

func newSimHCA(guid uint64, numPorts int, desc string) *simNode {
	n := &simNode{
		guid:      guid,
		portGUID:  guid + 0x100,
		typ:       mad.NodeCA,
		numPorts:  numPorts,
		desc:      desc,
		entryPort: 1,
		ports:     make(map[int]*simPort),
	}
	n.port(1)
	return n
}

func newSimSwitch(guid uint64, numPorts int, lid uint16, desc string) *simNode {
	return &simNode{
		guid:      guid,
		portGUID:  guid,
		typ:       mad.NodeSwitch,
		numPorts:  numPorts,
		desc:      desc,
		smaLID:    lid,
		entryPort: numPorts, // roots attach on their last port unless linked
		ports:     make(map[int]*simPort),
	}
}

// port returns the simulated port, materializing an unconnected one in the
// polling state on first use, the way a real switch answers PortInfo for
// empty cages.
func (n *simNode) port(i int) *simPort {
	p := n.ports[i]
	if p == nil {
		p = &simPort{
			num:       i,
			guid:      n.guid + 0x100 + uint64(i),
			lid:       n.smaLID,
			lmc:       n.smaLMC,
			state:     mad.PortStateDown,
			physState: mad.PhysStatePolling,
			node:      n,
		}
		n.ports[i] = p
	}
	return p
}

// simLink cables two ports together and brings both ends up.
func simLink(a *simNode, ap int, b *simNode, bp int) {
	pa, pb := a.port(ap), b.port(bp)
	pa.state, pb.state = mad.PortStateActive, mad.PortStateActive
	pa.physState, pb.physState = mad.PhysStateLinkUp, mad.PhysStateLinkUp
	pa.remote, pb.remote = pb, pa
}

type simTransport struct {
	root     *simNode
	noAgents bool
}

func (s *simTransport) ClassAgent(class uint8) int {
	if s.noAgents {
		return -1
	}
	return int(class & 0x0f)
}

// walk resolves a directed-route path to the node it lands on and the port
// the SMP arrives through.
func (s *simTransport) walk(path mad.DRPath) (*simNode, int, error) {
	cur, arrival := s.root, s.root.entryPort
	for i := 1; i <= path.Len(); i++ {
		egress := cur.ports[path.Hop(i)]
		if egress == nil || egress.physState != mad.PhysStateLinkUp || egress.remote == nil {
			return nil, 0, errSimUnreachable
		}
		arrival = egress.remote.num
		cur = egress.remote.node
	}
	if cur.unreachable {
		return nil, 0, errSimUnreachable
	}
	return cur, arrival, nil
}

func (s *simTransport) SMPQuery(path mad.DRPath, attr mad.AttrID, mod uint32, _ time.Duration) ([]byte, error) {
	node, arrival, err := s.walk(path)
	if err != nil {
		return nil, err
	}

	switch attr {
	case mad.AttrNodeInfo:
		portGUID := node.portGUID
		if node.typ != mad.NodeSwitch {
			portGUID = node.port(arrival).guid
		}
		return mad.NodeInfo{
			BaseVersion:  1,
			ClassVersion: 1,
			Type:         node.typ,
			NumPorts:     uint8(node.numPorts),
			SystemGUID:   node.sysGUID,
			GUID:         node.guid,
			PortGUID:     portGUID,
			LocalPort:    uint8(arrival),
		}.Marshal(), nil

	case mad.AttrNodeDesc:
		return mad.EncodeNodeDesc(node.desc), nil

	case mad.AttrPortInfo:
		if mod == 0 && node.typ == mad.NodeSwitch {
			// Port 0 carries the switch management address.
			return mad.PortInfo{
				LID:       node.smaLID,
				LMC:       node.smaLMC,
				State:     mad.PortStateActive,
				PhysState: mad.PhysStateLinkUp,
				LocalPort: uint8(arrival),
			}.Marshal(), nil
		}
		num := int(mod)
		if num == 0 {
			num = arrival
		}
		if num < 1 || num > node.numPorts {
			return nil, errSimUnreachable
		}
		p := node.port(num)
		if p.failPortInfo {
			return nil, errSimUnreachable
		}
		return mad.PortInfo{
			LID:       p.lid,
			LMC:       p.lmc,
			State:     p.state,
			PhysState: p.physState,
			LocalPort: uint8(arrival),
		}.Marshal(), nil

	case mad.AttrSwitchInfo:
		if node.typ != mad.NodeSwitch || node.failSwitchInfo {
			return nil, errSimUnreachable
		}
		return mad.SwitchInfo{LinearFDBCap: 49152, EnhancedPort0: node.enhSP0}.Marshal(), nil
	}
	return nil, errSimUnreachable
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func discoverSim(t *testing.T, root *simNode, maxHops int) *Fabric {
	t.Helper()
	f, err := Discover(&simTransport{root: root}, DiscoverOptions{
		Timeout: time.Second,
		MaxHops: maxHops,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	return f
}

func countNodes(f *Fabric) int {
	n := 0
	f.IterNodes(func(*Node) { n++ })
	return n
}

func nodeGUIDs(f *Fabric) []uint64 {
	var guids []uint64
	f.IterNodes(func(n *Node) { guids = append(guids, n.GUID) })
	return guids
}

// checkInvariants verifies the structural invariants every discovered
// fabric has to satisfy: unique index membership, port numbering, link
// symmetry, shared switch port GUIDs, and the hop counter.
func checkInvariants(t *testing.T, f *Fabric) {
	t.Helper()

	longestPath := 0
	total := 0
	f.IterNodes(func(n *Node) {
		total++

		// Exactly one entry with this GUID in its hash chain.
		hits := 0
		for c := f.nodestbl[hashGUID(n.GUID)]; c != nil; c = c.hashNext {
			if c.GUID == n.GUID {
				hits++
			}
		}
		if hits != 1 {
			t.Errorf("node 0x%x: %d hash chain entries", n.GUID, hits)
		}

		// Exactly once in the kind list.
		hits = 0
		f.IterNodesOfKind(n.Type, func(k *Node) {
			if k == n {
				hits++
			}
		})
		if hits != 1 {
			t.Errorf("node 0x%x: %d kind list entries", n.GUID, hits)
		}

		// Exactly once in its distance bucket.
		bucket := n.Dist
		if n.Type != mad.NodeSwitch {
			bucket = mad.MaxHops
		}
		hits = 0
		for d := f.nodesdist[bucket]; d != nil; d = d.distNext {
			if d == n {
				hits++
			}
		}
		if hits != 1 {
			t.Errorf("node 0x%x: %d entries in distance bucket %d", n.GUID, hits, bucket)
		}

		if n.Path.Len() > longestPath {
			longestPath = n.Path.Len()
		}

		for p := 1; p <= n.NumPorts; p++ {
			port := n.Port(p)
			if port == nil {
				continue
			}
			if port.PortNum != p {
				t.Errorf("node 0x%x: port table slot %d holds portnum %d", n.GUID, p, port.PortNum)
			}
			if port.Node != n {
				t.Errorf("node 0x%x port %d: bad owner back-reference", n.GUID, p)
			}
			if port.Remote != nil && port.Remote.Remote != port {
				t.Errorf("node 0x%x port %d: asymmetric peer link", n.GUID, p)
			}
			if n.Type == mad.NodeSwitch && port.GUID != n.PortGUID() {
				t.Errorf("node 0x%x port %d: guid 0x%x != node port guid 0x%x",
					n.GUID, p, port.GUID, n.PortGUID())
			}
		}
	})

	// The global list and the hash tables cover the same population.
	hashed := 0
	for i := range f.nodestbl {
		for c := f.nodestbl[i]; c != nil; c = c.hashNext {
			hashed++
		}
	}
	if hashed != total {
		t.Errorf("global list has %d nodes, hash tables %d", total, hashed)
	}

	// Probes of already-known peers extend the cursor past the deepest
	// stored path, so the counter can run ahead of it but never behind.
	if f.MaxHopsDiscovered < longestPath {
		t.Errorf("MaxHopsDiscovered %d < longest stored path %d", f.MaxHopsDiscovered, longestPath)
	}
}
