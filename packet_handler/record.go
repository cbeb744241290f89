package packet

import "strconv"

// Record is one line of the probe log: the probe's send time in unix seconds and its latency.
type Record struct {
	UnixSeconds int64
	LatencyMs   int64
}

// NewRecord derives the log record for a probe stamped at sent and read at received.
func NewRecord(sent, received Ticks) Record {
	return Record{
		UnixSeconds: sent.UnixSeconds(),
		LatencyMs:   LatencyMillis(sent, received),
	}
}

func (r Record) String() string {
	return strconv.FormatInt(r.UnixSeconds, 10) + " " + strconv.FormatInt(r.LatencyMs, 10)
}
