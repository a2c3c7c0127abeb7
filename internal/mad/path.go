package mad

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxHops bounds directed-route depth. It also sizes the per-distance node
// buckets of a fabric.
const MaxHops = 63

// ErrPathOverflow is returned when extending a path past MaxHops.
var ErrPathOverflow = errors.New("mad: directed-route path overflow")

// DRPath is a directed route: a bounded sequence of egress port numbers.
// Hop 0 is always zero (the local port convention), real hops occupy
// indices 1..Len(). The zero value is the path to the local node.
//
// A DRPath is the shared mutable cursor of a discovery walk: every Extend
// must be matched by a Retract on every exit path.
type DRPath struct {
	cnt  int
	hops [MaxHops + 1]uint8
}

// Len reports the number of hops on the path.
func (p *DRPath) Len() int { return p.cnt }

// Extend appends an egress port to the path. The buffer is left untouched
// when the hop bound would be exceeded.
func (p *DRPath) Extend(port int) error {
	if p.cnt+1 > MaxHops {
		return ErrPathOverflow
	}
	p.cnt++
	p.hops[p.cnt] = uint8(port)
	return nil
}

// Retract drops the last hop. Retracting the empty path is a no-op.
func (p *DRPath) Retract() {
	if p.cnt > 0 {
		p.cnt--
	}
}

// Hop returns the egress port at index i (0..Len()). Index 0 is always 0.
func (p *DRPath) Hop(i int) int {
	if i < 0 || i > p.cnt {
		return 0
	}
	return int(p.hops[i])
}

// String renders the path in the dotted form "0,7,1". The empty path
// renders as "0".
func (p *DRPath) String() string {
	var sb strings.Builder
	sb.WriteByte('0')
	for i := 1; i <= p.cnt; i++ {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(int(p.hops[i])))
	}
	return sb.String()
}

// ParseDRPath parses a comma-separated directed-route string such as
// "0,1,7". A leading zero element is the conventional local hop and lands at
// index 0; without one the first element is treated as the first egress hop.
func ParseDRPath(s string) (DRPath, error) {
	var p DRPath
	s = strings.TrimSpace(s)
	if s == "" {
		return p, nil
	}
	fields := strings.Split(s, ",")
	idx := 0
	for _, f := range fields {
		f = strings.TrimSpace(f)
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 || v > 254 {
			return DRPath{}, fmt.Errorf("mad: bad directed-route element %q", f)
		}
		if idx == 0 && v == 0 {
			continue // local hop, already in place
		}
		idx++
		if idx > MaxHops {
			return DRPath{}, ErrPathOverflow
		}
		p.hops[idx] = uint8(v)
	}
	p.cnt = idx
	return p, nil
}
