// File: reactor/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
)

const (
	DefaultPort           = 9090
	DefaultMaxConnections = 1024
	DefaultQueueDepth     = 512
	DefaultSlotSize       = 1024
	DefaultBacklog        = 128
)

// Buffer strategies.
const (
	BuffersFixed = "fixed"
	BuffersHeap  = "heap"
)

// Completion retrieval modes.
const (
	ModeBlocking = "blocking"
	ModePoll     = "poll"
)

// Config holds reactor parameters. Zero values are replaced by defaults in
// New; Validate reports what cannot be defaulted.
type Config struct {
	Host           string
	Port           int
	Backlog        int
	MaxConnections int
	QueueDepth     uint32
	SlotSize       int

	// Backend is "auto", "io_uring" or "emulated".
	Backend      string
	SQPoll       bool
	SQThreadIdle time.Duration

	// Buffers is BuffersFixed or BuffersHeap.
	Buffers string
	// Mode is ModeBlocking or ModePoll.
	Mode        string
	WaitTimeout time.Duration

	AdminMask  uint32
	VerdictAck bool

	// PinCPU pins the reactor thread to CPU for the lifetime of Run.
	PinCPU bool
	CPU    int

	// IdleTimeout of zero disables the reaper.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	DrainTimeout time.Duration
}

// DefaultConfig returns the stock reactor configuration.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		Backlog:        DefaultBacklog,
		MaxConnections: DefaultMaxConnections,
		QueueDepth:     DefaultQueueDepth,
		SlotSize:       DefaultSlotSize,
		Backend:        "auto",
		SQPoll:         true,
		SQThreadIdle:   2 * time.Millisecond,
		Buffers:        BuffersFixed,
		Mode:           ModeBlocking,
		WaitTimeout:    100 * time.Millisecond,
		AdminMask:      packet.AdminMask,
		ReapInterval:   time.Second,
		DrainTimeout:   2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.SlotSize == 0 {
		c.SlotSize = d.SlotSize
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Buffers == "" {
		c.Buffers = d.Buffers
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.AdminMask == 0 {
		c.AdminMask = d.AdminMask
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range: %w", c.Port, api.ErrInvalidArgument)
	case c.MaxConnections <= 0 || c.MaxConnections > 1<<16:
		return fmt.Errorf("max connections %d out of range: %w", c.MaxConnections, api.ErrInvalidArgument)
	case c.SlotSize < packet.Size:
		return fmt.Errorf("slot size %d below packet size %d: %w", c.SlotSize, packet.Size, api.ErrInvalidArgument)
	case c.IdleTimeout < 0:
		return fmt.Errorf("negative idle timeout: %w", api.ErrInvalidArgument)
	case c.PinCPU && c.CPU < 0:
		return fmt.Errorf("cpu %d: %w", c.CPU, api.ErrInvalidArgument)
	}
	switch c.Buffers {
	case BuffersFixed, BuffersHeap:
	default:
		return fmt.Errorf("buffer strategy %q: %w", c.Buffers, api.ErrInvalidArgument)
	}
	switch c.Mode {
	case ModeBlocking, ModePoll:
	default:
		return fmt.Errorf("completion mode %q: %w", c.Mode, api.ErrInvalidArgument)
	}
	return nil
}

// opCapacity bounds in-flight operations: one read per connection, one
// verdict write per connection when enabled, and the accept.
func (c Config) opCapacity() int {
	n := c.MaxConnections + 2
	if c.VerdictAck {
		n += c.MaxConnections
	}
	return n
}
