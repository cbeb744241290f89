package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Ticks counts 100ns intervals since 0001-01-01T00:00:00Z.
type Ticks int64

const (
	TicksPerMillisecond = 10000
	TicksPerSecond      = 1000 * TicksPerMillisecond

	// DatagramSize is the only valid probe length on the wire.
	DatagramSize = 8

	// ticks between 0001-01-01 and 1970-01-01
	unixEpochTicks Ticks = 621355968000000000
)

var ErrInvalidLength = errors.New("invalid probe length")

// Clock supplies the wall-clock time stamped into probes.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func TicksFromTime(t time.Time) Ticks {
	return Ticks(t.UnixNano()/100) + unixEpochTicks
}

func (t Ticks) Time() time.Time {
	return time.Unix(0, int64(t-unixEpochTicks)*100).UTC()
}

// UnixSeconds truncates toward zero, like the peers that read pinger.txt expect.
func (t Ticks) UnixSeconds() int64 {
	return int64(t-unixEpochTicks) / TicksPerSecond
}

// LatencyMillis is the elapsed time between send and receive, truncated to whole milliseconds.
// It goes negative when the sender's clock runs ahead of ours.
func LatencyMillis(sent, received Ticks) int64 {
	return int64(received-sent) / TicksPerMillisecond
}

// Encode packs the timestamp as 8 bytes, big-endian regardless of host byte order.
func Encode(t Ticks) []byte {
	var buf bytes.Buffer
	buf.Grow(DatagramSize)
	// bytes.Buffer writes never fail
	_ = binary.Write(&buf, binary.BigEndian, int64(t))
	return buf.Bytes()
}

func Decode(data []byte) (Ticks, error) {
	if len(data) != DatagramSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(data), DatagramSize)
	}
	var v int64
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return Ticks(v), nil
}
