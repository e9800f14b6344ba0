// File: client/generator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Load generator: N concurrent connections, each sending a fixed number of
// batches with a configurable share of admin packets.

package client

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
)

// Config describes one load run.
type Config struct {
	Addr        string
	Connections int
	// Batches per connection.
	Batches int
	// AdminRatio is the probability that a packet carries the admin mask.
	AdminRatio float64
	// Interval between batches on one connection.
	Interval     time.Duration
	WriteTimeout time.Duration
	// Acks waits for the verdict byte after every batch.
	Acks       bool
	AckTimeout time.Duration
	Seed       int64
}

// Report aggregates a finished run.
type Report struct {
	Connections   int           `json:"connections"`
	Failed        int           `json:"failed"`
	Batches       uint64        `json:"batches"`
	Packets       uint64        `json:"packets"`
	AdminPackets  uint64        `json:"admin_packets"`
	// DropExpected counts sent batches whose first packet is admin. It
	// equals the server's drop count only when every batch lands in its
	// own read (Acks, or an Interval wide enough to keep writes apart);
	// back-to-back batches merge into one read and one verdict.
	DropExpected  uint64        `json:"drop_expected"`
	Acks          uint64        `json:"acks"`
	AckMismatches uint64        `json:"ack_mismatches"`
	Elapsed       time.Duration `json:"elapsed"`
}

type tally struct {
	batches, packets, admin, drops, acks, mismatches atomic.Uint64
}

// Run executes cfg and blocks until every connection finished or ctx ends.
// Connection failures are counted in the report; an error is returned only
// when no connection could be established.
func Run(ctx context.Context, cfg Config, log logrus.FieldLogger) (Report, error) {
	if cfg.Connections <= 0 || cfg.Batches < 0 || cfg.AdminRatio < 0 || cfg.AdminRatio > 1 {
		return Report{}, fmt.Errorf("load config: %w", api.ErrInvalidArgument)
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}

	var (
		t      tally
		failed atomic.Int32
		wg     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < cfg.Connections; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(id)))
			if err := runConn(ctx, cfg, rng, &t); err != nil {
				failed.Add(1)
				log.WithError(err).WithField("conn", id).Warn("load connection failed")
			}
		}(i)
	}
	wg.Wait()

	r := Report{
		Connections:   cfg.Connections,
		Failed:        int(failed.Load()),
		Batches:       t.batches.Load(),
		Packets:       t.packets.Load(),
		AdminPackets:  t.admin.Load(),
		DropExpected:  t.drops.Load(),
		Acks:          t.acks.Load(),
		AckMismatches: t.mismatches.Load(),
		Elapsed:       time.Since(start),
	}
	if r.Failed == cfg.Connections {
		return r, errors.New("load: every connection failed")
	}
	return r, nil
}

func runConn(ctx context.Context, cfg Config, rng *rand.Rand, t *tally) error {
	c, err := Dial(ctx, cfg.Addr, cfg.WriteTimeout)
	if err != nil {
		return err
	}
	defer c.Close()

	for i := 0; i < cfg.Batches; i++ {
		if ctx.Err() != nil {
			return nil
		}
		mask := adminMask(rng, cfg.AdminRatio)
		b := c.NextBatch(mask)
		if err := c.SendBatch(&b); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		t.batches.Add(1)
		t.packets.Add(packet.BatchSize)
		t.admin.Add(uint64(bits.OnesCount8(mask)))
		if mask&1 != 0 {
			t.drops.Add(1)
		}

		if cfg.Acks {
			ack, err := c.ReadAck(cfg.AckTimeout)
			if err != nil {
				return fmt.Errorf("ack %d: %w", i, err)
			}
			t.acks.Add(1)
			if ack != mask {
				t.mismatches.Add(1)
			}
		}
		if cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.Interval):
			}
		}
	}
	return nil
}

func adminMask(rng *rand.Rand, ratio float64) uint8 {
	var m uint8
	for i := 0; i < packet.BatchSize; i++ {
		if ratio > 0 && rng.Float64() < ratio {
			m |= 1 << i
		}
	}
	return m
}
