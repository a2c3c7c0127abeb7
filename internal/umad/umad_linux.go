//go:build linux

// Package umad implements the MAD transport over the kernel's
// /dev/infiniband/umad* character devices: it registers SMP class agents,
// frames directed-route SMPs, and drives the send/poll/receive cycle with a
// per-query timeout. Device selection falls back to the first RDMA device
// the kernel reports.
package umad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/yuuki/prometheus-ibfabric-exporter/internal/mad"
)

const (
	// ib_user_mad_hdr with pkey_index, ABI version 5+.
	umadHdrSize = 64
	madSize     = 256
	frameSize   = umadHdrSize + madSize

	minABIVersion = 5

	// _IOWR(0x1b, 1, struct ib_user_mad_reg_req), sizeof == 28.
	iocRegisterAgent = (3 << 30) | (28 << 16) | (0x1b << 8) | 1

	permissiveLID = 0xffff

	methodGet        = 0x01
	methodGetResp    = 0x81
	statusDirection  = 0x8000
	defaultSendRetry = 3
)

var (
	ErrNoDevice   = errors.New("umad: no RDMA device found")
	ErrNoUmadDev  = errors.New("umad: no umad device for CA port")
	ErrTimeout    = errors.New("umad: query timed out")
	ErrMADStatus  = errors.New("umad: remote returned MAD error status")
	ErrShortReply = errors.New("umad: short MAD reply")
)

// Port is an open umad character device with SMP agents registered for the
// LID-routed and directed-route classes. It satisfies mad.Transport.
type Port struct {
	dev     string
	portNum int

	mu     sync.Mutex // serializes send/recv cycles on the fd
	f      *os.File
	agents map[uint8]uint32
	tid    atomic.Uint64

	retries int
	logger  *slog.Logger
}

// Open opens the umad device backing the given CA port and registers the
// SMP class agents. An empty device name selects the first RDMA device on
// the host; portNum 0 selects port 1.
func Open(device string, portNum int, logger *slog.Logger) (*Port, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if portNum <= 0 {
		portNum = 1
	}

	device, devPath, err := resolveDevice(device, portNum)
	if err != nil {
		return nil, err
	}

	if err := checkABIVersion(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("umad: open %s: %w", devPath, err)
	}

	p := &Port{
		dev:     device,
		portNum: portNum,
		f:       f,
		agents:  make(map[uint8]uint32, 2),
		retries: defaultSendRetry,
		logger:  logger,
	}
	p.tid.Store(uint64(time.Now().UnixNano()))

	for _, class := range []uint8{mad.ClassSMI, mad.ClassSMIDirect} {
		id, err := p.registerAgent(class)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("umad: register agent for class 0x%02x: %w", class, err)
		}
		p.agents[class] = id
	}

	logger.Debug("umad port opened", "device", device, "port", portNum, "dev_path", devPath)
	return p, nil
}

// Close releases the device; the kernel unregisters the agents with it.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

// Device reports the CA name the port is bound to.
func (p *Port) Device() string { return p.dev }

// PortNum reports the CA port number the port is bound to.
func (p *Port) PortNum() int { return p.portNum }

// ClassAgent implements mad.Transport.
func (p *Port) ClassAgent(class uint8) int {
	id, ok := p.agents[class]
	if !ok {
		return -1
	}
	return int(id)
}

// registerAgent issues the register-agent ioctl for one management class
// with the full method mask and SMP class version 1.
func (p *Port) registerAgent(class uint8) (uint32, error) {
	var req struct {
		id           uint32
		methodMask   [4]uint32
		qpn          uint8
		mgmtClass    uint8
		classVersion uint8
		oui          [3]uint8
		rmppVersion  uint8
	}
	req.mgmtClass = class
	req.classVersion = 1
	req.qpn = 0 // SMPs travel on QP0

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, p.f.Fd(), iocRegisterAgent, uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return 0, errno
	}
	return req.id, nil
}

// SMPQuery implements mad.Transport: one directed-route SMP Get with
// kernel-side retransmits, bounded by timeout.
func (p *Port) SMPQuery(path mad.DRPath, attr mad.AttrID, mod uint32, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return nil, os.ErrClosed
	}

	tid := p.tid.Add(1)
	frame := p.buildFrame(path, attr, mod, tid, timeout)

	if _, err := p.f.Write(frame); err != nil {
		return nil, fmt.Errorf("umad: send: %w", err)
	}

	deadline := time.Now().Add(timeout + time.Duration(p.retries+1)*timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if err := p.waitReadable(remaining); err != nil {
			return nil, err
		}

		reply := make([]byte, frameSize)
		n, err := p.f.Read(reply)
		if err != nil {
			return nil, fmt.Errorf("umad: recv: %w", err)
		}
		if n < frameSize {
			return nil, ErrShortReply
		}

		// The kernel reports send timeouts as a frame with nonzero status.
		if status := binary.NativeEndian.Uint32(reply[4:8]); status != 0 {
			return nil, fmt.Errorf("%w (status %d)", ErrTimeout, status)
		}

		smp := reply[umadHdrSize:]
		if binary.BigEndian.Uint64(smp[8:16]) != tid || smp[3] != methodGetResp {
			continue // stale reply from an earlier query
		}
		if status := binary.BigEndian.Uint16(smp[4:6]) &^ statusDirection; status != 0 {
			return nil, fmt.Errorf("%w: 0x%04x", ErrMADStatus, status)
		}
		out := make([]byte, mad.SMPDataSize)
		copy(out, smp[64:64+mad.SMPDataSize])
		return out, nil
	}
}

func (p *Port) waitReadable(timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(p.f.Fd()), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("umad: poll: %w", err)
		}
		if n == 0 {
			return ErrTimeout
		}
		return nil
	}
}

// buildFrame assembles the umad header plus the directed-route SMP.
func (p *Port) buildFrame(path mad.DRPath, attr mad.AttrID, mod uint32, tid uint64, timeout time.Duration) []byte {
	frame := make([]byte, frameSize)

	class := mad.ClassSMIDirect
	binary.NativeEndian.PutUint32(frame[0:4], p.agents[class])
	binary.NativeEndian.PutUint32(frame[8:12], uint32(timeout/time.Millisecond))
	binary.NativeEndian.PutUint32(frame[12:16], uint32(p.retries))
	binary.NativeEndian.PutUint32(frame[16:20], madSize)
	// addr: QP0, permissive LID, no GRH.
	binary.BigEndian.PutUint16(frame[28:30], permissiveLID)

	smp := frame[umadHdrSize:]
	smp[0] = 1 // base version
	smp[1] = class
	smp[2] = 1 // class version
	smp[3] = methodGet
	smp[7] = uint8(path.Len()) // hop count, hop pointer starts at 0
	binary.BigEndian.PutUint64(smp[8:16], tid)
	binary.BigEndian.PutUint16(smp[16:18], uint16(attr))
	binary.BigEndian.PutUint32(smp[20:24], mod)
	binary.BigEndian.PutUint16(smp[32:34], permissiveLID) // DrSLID
	binary.BigEndian.PutUint16(smp[34:36], permissiveLID) // DrDLID
	for i := 1; i <= path.Len(); i++ {
		smp[128+i] = uint8(path.Hop(i))
	}
	return frame
}
