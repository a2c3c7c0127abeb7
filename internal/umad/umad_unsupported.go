//go:build !linux

// Package umad implements the MAD transport over the kernel's
// /dev/infiniband/umad* character devices. Only linux carries that
// interface; other platforms get a stub that fails to open.
package umad

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

// ErrUnsupported is returned by Open on platforms without kernel umad
// support.
var ErrUnsupported = errors.New("umad: not supported on " + runtime.GOOS)

// Port is a placeholder; Open never returns one on this platform.
type Port struct{}

// Open fails: there is no umad interface on this platform.
func Open(device string, portNum int, logger *slog.Logger) (*Port, error) {
	return nil, ErrUnsupported
}

// Close implements the open-port surface for symmetry.
func (p *Port) Close() error { return nil }

// Device reports the CA name the port would be bound to.
func (p *Port) Device() string { return "" }

// PortNum reports the CA port number the port would be bound to.
func (p *Port) PortNum() int { return 0 }

// ClassAgent implements mad.Transport.
func (p *Port) ClassAgent(class uint8) int { return -1 }

// SMPQuery implements mad.Transport.
func (p *Port) SMPQuery(path mad.DRPath, attr mad.AttrID, mod uint32, timeout time.Duration) ([]byte, error) {
	return nil, ErrUnsupported
}
