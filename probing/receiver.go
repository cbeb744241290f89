package probing

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	packet "pinger/packet_handler"
	"pinger/storage"

	log "github.com/sirupsen/logrus"
)

// maxDatagram is large enough that oversized probes are seen at their real length.
const maxDatagram = 64 * 1024

// pause after consecutive receive errors, doubling up to the max
const (
	minReceiveBackoff = 10 * time.Millisecond
	maxReceiveBackoff = time.Second
)

type datagramSource interface {
	Receive(buf []byte) (int, *net.UDPAddr, error)
}

type ReceiverStats struct {
	Received int64
	Invalid  int64
	Enqueued int64
}

// Receiver turns every valid probe into a record on the hand-off queue.
type Receiver struct {
	in    datagramSource
	clock packet.Clock
	queue *storage.Queue[packet.Record]

	received atomic.Int64
	invalid  atomic.Int64
	enqueued atomic.Int64
}

func NewReceiver(in datagramSource, clock packet.Clock, queue *storage.Queue[packet.Record]) *Receiver {
	return &Receiver{in: in, clock: clock, queue: queue}
}

// Run blocks on the source until it is closed or ctx is done. Bad datagrams never stop it.
func (r *Receiver) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	var backoff time.Duration
	for {
		n, from, err := r.in.Receive(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Debugf("receiver stopping: %v", err)
				return nil
			}
			backoff = nextReceiveBackoff(backoff)
			log.Warnf("receive failed, retrying in %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		r.handle(buf[:n], from)
	}
}

func nextReceiveBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minReceiveBackoff
	}
	if next := 2 * prev; next < maxReceiveBackoff {
		return next
	}
	return maxReceiveBackoff
}

func (r *Receiver) handle(data []byte, from *net.UDPAddr) {
	arrived := packet.TicksFromTime(r.clock.Now())
	r.received.Add(1)

	sent, err := packet.Decode(data)
	if err != nil {
		r.invalid.Add(1)
		log.Warnf("Got invalid message from %v (%d bytes)", from, len(data))
		return
	}

	record := packet.NewRecord(sent, arrived)
	log.Infof("Got time from %v, diff: %d", from, record.LatencyMs)
	if r.queue.Enqueue(record) {
		r.enqueued.Add(1)
	} else {
		log.Warnf("probe log closed, dropping record %q", record.String())
	}
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Received: r.received.Load(),
		Invalid:  r.invalid.Load(),
		Enqueued: r.enqueued.Load(),
	}
}
