package mad

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Configuration errors surfaced by NewClient.
var (
	ErrNilTransport = errors.New("mad: nil transport")
	ErrNoAgents     = errors.New("mad: transport has no SMP class agents registered")
)

// Client issues typed SMP queries against directed-route paths. It is
// stateless beyond the injected transport handle; retransmits within a
// single query are the transport's business.
type Client struct {
	tr      Transport
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient wraps a transport after verifying it carries active class agents
// for both the LID-routed and the directed-route SMP classes.
func NewClient(tr Transport, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if tr.ClassAgent(ClassSMI) == -1 || tr.ClassAgent(ClassSMIDirect) == -1 {
		return nil, ErrNoAgents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{tr: tr, timeout: timeout, logger: logger}, nil
}

// Timeout reports the per-query timeout the client was built with.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Query fetches one attribute along path. The modifier carries the port
// number for PortInfo queries and is zero otherwise.
func (c *Client) Query(path *DRPath, attr AttrID, mod uint32) ([]byte, error) {
	data, err := c.tr.SMPQuery(*path, attr, mod, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("smp query %s mod %d via %s: %w", attr, mod, path, err)
	}
	if len(data) < SMPDataSize {
		return nil, fmt.Errorf("smp query %s via %s: short attribute block (%d bytes)", attr, path, len(data))
	}
	c.logger.Debug("smp query ok", "attr", attr.String(), "mod", mod, "path", path.String())
	return data[:SMPDataSize], nil
}
