package fabric

import (
	"testing"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

func TestFindNodeByGUIDRoundTrip(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	f.IterNodes(func(n *Node) {
		if got := f.FindNodeByGUID(n.GUID); got != n {
			t.Fatalf("FindNodeByGUID(0x%x) = %v, want %v", n.GUID, got, n)
		}
	})

	if f.FindNodeByGUID(0xdead) != nil {
		t.Fatalf("expected nil for an unknown guid")
	}
}

func TestFindPortByGUID(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	rootPort := f.Root.Port(1)
	if rootPort == nil {
		t.Fatalf("root port missing")
	}
	if got := f.FindPortByGUID(rootPort.GUID); got != rootPort {
		t.Fatalf("FindPortByGUID(0x%x) = %v, want the root port", rootPort.GUID, got)
	}

	// Every switch port shares the node's port-0 GUID; the lookup resolves
	// to one of them.
	sw := f.FindNodeByGUID(0x10)
	p := f.FindPortByGUID(sw.PortGUID())
	if p == nil || p.Node != sw {
		t.Fatalf("switch port guid lookup failed")
	}

	if f.FindPortByGUID(0xbeef) != nil {
		t.Fatalf("expected nil for an unknown port guid")
	}
}

func TestIterNodesOrder(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	// Insertion order is root HCA, switch, far HCA; iteration reverses it.
	want := []uint64{0x02, 0x10, 0x01}
	got := nodeGUIDs(f)
	if len(got) != len(want) {
		t.Fatalf("expected %d nodes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iteration order %x, want %x", got, want)
		}
	}
}

func TestIterNodesOfKind(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	var cas, switches, routers []uint64
	f.IterNodesOfKind(mad.NodeCA, func(n *Node) { cas = append(cas, n.GUID) })
	f.IterNodesOfKind(mad.NodeSwitch, func(n *Node) { switches = append(switches, n.GUID) })
	f.IterNodesOfKind(mad.NodeRouter, func(n *Node) { routers = append(routers, n.GUID) })

	if len(cas) != 2 || cas[0] != 0x02 || cas[1] != 0x01 {
		t.Fatalf("unexpected CA list %x", cas)
	}
	if len(switches) != 1 || switches[0] != 0x10 {
		t.Fatalf("unexpected switch list %x", switches)
	}
	if len(routers) != 0 {
		t.Fatalf("unexpected router list %x", routers)
	}

	// Invalid kinds yield no visits.
	visits := 0
	f.IterNodesOfKind(mad.NodeType(9), func(*Node) { visits++ })
	if visits != 0 {
		t.Fatalf("expected no visits for an invalid kind, got %d", visits)
	}
}

func TestFindNodeByDRBadInput(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	if n := f.FindNodeByDR(""); n != f.Root {
		t.Fatalf("expected the empty route to resolve to the root")
	}
	if f.FindNodeByDR("junk") != nil {
		t.Fatalf("expected nil for an unparsable route")
	}
	if f.FindNodeByDR("1,7,1,9") != nil {
		t.Fatalf("expected nil when the route runs off the graph")
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	t.Parallel()

	root, _, _ := hcaSwitchHCA()
	f := discoverSim(t, root, -1)

	f.Destroy()

	if f.Root != nil || f.Chassis != nil {
		t.Fatalf("expected root and chassis cleared")
	}
	if got := countNodes(f); got != 0 {
		t.Fatalf("expected no nodes after destroy, got %d", got)
	}
	if f.FindNodeByGUID(0x10) != nil {
		t.Fatalf("expected hash tables cleared")
	}
}
