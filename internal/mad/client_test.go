package mad

import (
	"errors"
	"testing"
	"time"
)

type stubTransport struct {
	agents map[uint8]int
	data   []byte
	err    error

	lastAttr AttrID
	lastMod  uint32
	lastPath string
}

func (s *stubTransport) ClassAgent(class uint8) int {
	if id, ok := s.agents[class]; ok {
		return id
	}
	return -1
}

func (s *stubTransport) SMPQuery(path DRPath, attr AttrID, mod uint32, _ time.Duration) ([]byte, error) {
	s.lastAttr = attr
	s.lastMod = mod
	s.lastPath = path.String()
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func bothAgents() map[uint8]int {
	return map[uint8]int{ClassSMI: 0, ClassSMIDirect: 1}
}

func TestNewClientNilTransport(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil, time.Second, nil)
	if !errors.Is(err, ErrNilTransport) {
		t.Fatalf("expected ErrNilTransport, got %v", err)
	}
}

func TestNewClientRequiresBothAgents(t *testing.T) {
	t.Parallel()

	for _, agents := range []map[uint8]int{
		{},
		{ClassSMI: 0},
		{ClassSMIDirect: 1},
	} {
		_, err := NewClient(&stubTransport{agents: agents}, time.Second, nil)
		if !errors.Is(err, ErrNoAgents) {
			t.Fatalf("agents %v: expected ErrNoAgents, got %v", agents, err)
		}
	}

	if _, err := NewClient(&stubTransport{agents: bothAgents()}, time.Second, nil); err != nil {
		t.Fatalf("expected client, got error %v", err)
	}
}

func TestClientQuery(t *testing.T) {
	t.Parallel()

	tr := &stubTransport{agents: bothAgents(), data: make([]byte, SMPDataSize)}
	tr.data[0] = 0xab

	c, err := NewClient(tr, time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	var path DRPath
	if err := path.Extend(4); err != nil {
		t.Fatalf("Extend returned error: %v", err)
	}

	block, err := c.Query(&path, AttrPortInfo, 4)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(block) != SMPDataSize || block[0] != 0xab {
		t.Fatalf("unexpected attribute block %v", block[:2])
	}
	if tr.lastAttr != AttrPortInfo || tr.lastMod != 4 || tr.lastPath != "0,4" {
		t.Fatalf("unexpected query: attr %v mod %d path %q", tr.lastAttr, tr.lastMod, tr.lastPath)
	}
}

func TestClientQueryFailures(t *testing.T) {
	t.Parallel()

	var path DRPath

	tr := &stubTransport{agents: bothAgents(), err: errors.New("remote unreachable")}
	c, err := NewClient(tr, time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Query(&path, AttrNodeInfo, 0); err == nil {
		t.Fatalf("expected transport error to surface")
	}

	tr = &stubTransport{agents: bothAgents(), data: make([]byte, 10)}
	c, err = NewClient(tr, time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Query(&path, AttrNodeInfo, 0); err == nil {
		t.Fatalf("expected short-block error")
	}
}
