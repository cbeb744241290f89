package probing

import (
	"context"
	"sync/atomic"
	"time"

	packet "pinger/packet_handler"

	log "github.com/sirupsen/logrus"
)

type transmitter interface {
	Send(b []byte) error
}

type SenderConfig struct {
	PollInterval time.Duration
	Retries      int // extra attempts after a failed send, 0 = fire and forget
	RetryDelay   time.Duration
}

// Sender transmits one probe every time the wall-clock second changes, so instances on
// different hosts fire close to the same instant.
type Sender struct {
	out    transmitter
	clock  packet.Clock
	config SenderConfig

	sent   atomic.Int64
	failed atomic.Int64
}

func NewSender(out transmitter, clock packet.Clock, config SenderConfig) *Sender {
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	return &Sender{out: out, clock: clock, config: config}
}

// Run returns nil once ctx is done. The first poll only records the current second,
// so the first probe leaves at the next second boundary.
func (s *Sender) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	currentSecond := s.clock.Now().Unix()
	for {
		select {
		case <-ctx.Done():
			log.Debugf("sender stopping, %d probes sent, %d failed", s.sent.Load(), s.failed.Load())
			return nil
		case <-ticker.C:
			now := s.clock.Now()
			if now.Unix() == currentSecond {
				continue
			}
			currentSecond = now.Unix()
			s.send(ctx, packet.Encode(packet.TicksFromTime(now)))
		}
	}
}

func (s *Sender) send(ctx context.Context, probe []byte) {
	for attempt := 0; ; attempt++ {
		err := s.out.Send(probe)
		if err == nil {
			s.sent.Add(1)
			return
		}
		if attempt >= s.config.Retries {
			s.failed.Add(1)
			log.Warnf("probe send failed, dropping it: %v", err)
			return
		}
		log.Warnf("probe send failed (attempt %d/%d), retrying: %v", attempt+1, s.config.Retries+1, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.RetryDelay):
		}
	}
}

func (s *Sender) Sent() int64 {
	return s.sent.Load()
}

func (s *Sender) Failed() int64 {
	return s.failed.Load()
}
