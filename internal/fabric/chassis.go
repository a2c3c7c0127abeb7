package fabric

import "github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"

// Chassis groups nodes that sit in one physical enclosure. The default
// grouping keys on the NodeInfo system image GUID, which multi-board
// switch chassis share across their spine and line boards.
type Chassis struct {
	Num        int
	SystemGUID uint64
	Nodes      []*Node
	Next       *Chassis
}

// groupBySystemGUID is the built-in chassis grouping pass: switches sharing
// a non-zero system image GUID with at least one other switch form a
// chassis, numbered in switch-list order (most recently discovered switch
// first).
func groupBySystemGUID(f *Fabric) *Chassis {
	byGUID := make(map[uint64]*Chassis)
	var head, tail *Chassis
	num := 0

	f.IterNodesOfKind(mad.NodeSwitch, func(n *Node) {
		sysGUID := n.SystemGUID()
		if sysGUID == 0 {
			return
		}
		ch := byGUID[sysGUID]
		if ch == nil {
			num++
			ch = &Chassis{Num: num, SystemGUID: sysGUID}
			byGUID[sysGUID] = ch
			if tail == nil {
				head = ch
			} else {
				tail.Next = ch
			}
			tail = ch
		}
		ch.Nodes = append(ch.Nodes, n)
	})

	// A lone switch is not a chassis; drop singleton groups.
	var pruned, prunedTail *Chassis
	num = 0
	for ch := head; ch != nil; ch = ch.Next {
		if len(ch.Nodes) < 2 {
			continue
		}
		num++
		ch.Num = num
		if prunedTail == nil {
			pruned = ch
		} else {
			prunedTail.Next = ch
		}
		prunedTail = ch
	}
	if prunedTail != nil {
		prunedTail.Next = nil
	}
	return pruned
}
