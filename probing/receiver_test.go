package probing

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	packet "pinger/packet_handler"
	"pinger/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	datagrams [][]byte
	errs      []error
}

func (s *scriptedSource) Receive(buf []byte) (int, *net.UDPAddr, error) {
	from := &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 9010}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return 0, nil, err
	}
	if len(s.datagrams) == 0 {
		return 0, nil, net.ErrClosed
	}
	d := s.datagrams[0]
	s.datagrams = s.datagrams[1:]
	return copy(buf, d), from, nil
}

var sentAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestReceiver_ValidProbeYieldsRecord(t *testing.T) {
	sent := packet.TicksFromTime(sentAt)
	// arrival 50000 ticks (5ms) after the probe was stamped
	clock := newFakeClock(sentAt.Add(5 * time.Millisecond))
	q := storage.NewQueue[packet.Record]()
	r := NewReceiver(&scriptedSource{}, clock, q)

	r.handle(packet.Encode(sent), &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 9010})

	records := q.DequeueAll()
	require.Len(t, records, 1)
	assert.Equal(t, packet.Record{UnixSeconds: sentAt.Unix(), LatencyMs: 5}, records[0])
	assert.Equal(t, ReceiverStats{Received: 1, Invalid: 0, Enqueued: 1}, r.Stats())
}

func TestReceiver_InvalidLengthIsDropped(t *testing.T) {
	for _, size := range []int{0, 4, 7, 9, 1500} {
		q := storage.NewQueue[packet.Record]()
		r := NewReceiver(&scriptedSource{}, newFakeClock(sentAt), q)

		r.handle(make([]byte, size), &net.UDPAddr{IP: net.ParseIP("192.0.2.7"), Port: 9010})

		assert.Equal(t, 0, q.Len(), "size %d", size)
		assert.Equal(t, int64(1), r.Stats().Invalid, "size %d", size)
	}
}

func TestReceiver_RunSurvivesBadInputAndStopsOnClose(t *testing.T) {
	t1 := packet.TicksFromTime(sentAt)
	t2 := packet.TicksFromTime(sentAt.Add(time.Second))
	src := &scriptedSource{
		errs: []error{errors.New("connection refused")},
		datagrams: [][]byte{
			packet.Encode(t1),
			{1, 2, 3, 4},
			packet.Encode(t2),
		},
	}
	q := storage.NewQueue[packet.Record]()
	r := NewReceiver(src, newFakeClock(sentAt.Add(2*time.Second)), q)

	require.NoError(t, r.Run(context.Background()))

	records := q.DequeueAll()
	require.Len(t, records, 2)
	assert.Equal(t, sentAt.Unix(), records[0].UnixSeconds)
	assert.Equal(t, int64(2000), records[0].LatencyMs)
	assert.Equal(t, sentAt.Unix()+1, records[1].UnixSeconds)
	assert.Equal(t, int64(1000), records[1].LatencyMs)
	assert.Equal(t, ReceiverStats{Received: 3, Invalid: 1, Enqueued: 2}, r.Stats())
}

func TestReceiver_ClosedQueueDropsRecord(t *testing.T) {
	q := storage.NewQueue[packet.Record]()
	q.Close()
	r := NewReceiver(&scriptedSource{}, newFakeClock(sentAt), q)

	r.handle(packet.Encode(packet.TicksFromTime(sentAt)), nil)
	assert.Equal(t, int64(0), r.Stats().Enqueued)
}

type failingSource struct {
	calls atomic.Int32
}

func (f *failingSource) Receive([]byte) (int, *net.UDPAddr, error) {
	f.calls.Add(1)
	return 0, nil, errors.New("network is down")
}

func TestReceiver_BacksOffOnRepeatedErrors(t *testing.T) {
	src := &failingSource{}
	r := NewReceiver(src, newFakeClock(sentAt), storage.NewQueue[packet.Record]())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// 10+20+40+80ms of pauses fit in 200ms, so only a handful of attempts happen
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop while backing off")
	}
	assert.LessOrEqual(t, src.calls.Load(), int32(6))
	assert.GreaterOrEqual(t, src.calls.Load(), int32(2))
}

func TestNextReceiveBackoff(t *testing.T) {
	assert.Equal(t, minReceiveBackoff, nextReceiveBackoff(0))
	assert.Equal(t, 2*minReceiveBackoff, nextReceiveBackoff(minReceiveBackoff))
	assert.Equal(t, maxReceiveBackoff, nextReceiveBackoff(800*time.Millisecond))
	assert.Equal(t, maxReceiveBackoff, nextReceiveBackoff(maxReceiveBackoff))
}
