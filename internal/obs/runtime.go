package obs

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/yanun0323/logs"
)

// Gauge reports a point-in-time value for the periodic report, e.g. queue usage.
type Gauge func() float64

// Reporter logs runtime memory and pipeline throughput on a schedule.
type Reporter struct {
	metrics *Metrics
	gauges  []namedGauge

	buf        [2048]byte
	prev, curr runtime.MemStats
	prevAt     time.Time
	currAt     time.Time
	prevSnap   Snapshot
	currSnap   Snapshot
}

type namedGauge struct {
	name string
	fn   Gauge
}

// NewReporter builds a reporter over m. m may be nil.
func NewReporter(m *Metrics) *Reporter {
	return &Reporter{metrics: m}
}

// AddGauge registers a named gauge printed with every report.
func (r *Reporter) AddGauge(name string, fn Gauge) {
	r.gauges = append(r.gauges, namedGauge{name: name, fn: fn})
}

// Run reports every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sample()
			logs.Info(string(r.Line()))
		}
	}
}

// Sample reads memory stats and metrics. The first sample is its own baseline.
func (r *Reporter) Sample() {
	r.prev, r.curr = r.curr, r.prev
	r.prevAt = r.currAt
	r.currAt = time.Now()
	r.prevSnap = r.currSnap
	r.currSnap = r.metrics.Snapshot()

	runtime.ReadMemStats(&r.curr)

	if r.prevAt.IsZero() {
		r.prevAt = r.currAt
		r.prev = r.curr
		r.prevSnap = r.currSnap
	}
}

// Line formats the latest sample. The returned slice is reused by the next call.
func (r *Reporter) Line() []byte {
	line := r.buf[:0]

	dt := r.currAt.Sub(r.prevAt).Seconds()
	if dt <= 0 {
		dt = 1
	}

	// --- PIPELINE ---
	{
		s, p := r.currSnap, r.prevSnap
		line = append(line, "[PIPE] "...)
		line = appendRate(line, "trade_rate=", float64(s.TradesProcessed-p.TradesProcessed)/dt)
		line = appendUint(line, "\taccepted=", s.TradesAccepted)
		line = appendUint(line, "\tdropped=", s.TradesDropped)
		line = appendUint(line, "\tdecode_fail=", s.DecodeFailures)
		line = appendUint(line, "\tcandles=", s.CandlesEmitted)
		line = appendUint(line, "\tclosed=", s.CandlesClosed)
		line = appendUint(line, "\tdelivered=", s.Deliveries)
		line = appendUint(line, "\tlagged=", s.LagMissed)
		line = appendUint(line, "\tflushes=", s.StoreFlushes)
		line = appendUint(line, "\tstore_err=", s.StoreErrors)
		line = append(line, "\tp_avg="...)
		line = append(line, s.ProcessLatency.Avg.String()...)
		line = append(line, "\tp_max="...)
		line = append(line, s.ProcessLatency.Max.String()...)
		for _, g := range r.gauges {
			line = append(line, '\t')
			line = append(line, g.name...)
			line = append(line, '=')
			line = strconv.AppendFloat(line, g.fn(), 'f', 2, 64)
		}
	}

	// --- HEAP ---
	{
		line = append(line, "\t[HEAP] "...)
		line = appendBytes(line, "alc_grow=", r.curr.TotalAlloc-r.prev.TotalAlloc)
		line = appendBytes(line, "\talc=", r.curr.HeapAlloc)
		line = appendBytes(line, "\tinuse=", r.curr.HeapInuse)
		line = appendUint(line, "\tobject=", r.curr.HeapObjects)
	}

	// --- GC ---
	{
		stwMs := float64(r.curr.PauseTotalNs-r.prev.PauseTotalNs) / 1_000_000.0
		line = append(line, "\t[GC] "...)
		line = appendUint(line, "times=", uint64(r.curr.NumGC-r.prev.NumGC))
		line = append(line, "\tstw="...)
		line = strconv.AppendFloat(line, stwMs, 'f', 4, 64)
		line = append(line, "ms"...)
		line = append(line, "\tgc_cpu="...)
		line = strconv.AppendFloat(line, r.curr.GCCPUFraction, 'f', 6, 64)
	}

	return line
}

func appendUint(line []byte, label string, v uint64) []byte {
	line = append(line, label...)
	return strconv.AppendUint(line, v, 10)
}

func appendRate(line []byte, label string, v float64) []byte {
	line = append(line, label...)
	line = strconv.AppendFloat(line, v, 'f', 1, 64)
	return append(line, "/s"...)
}

func appendBytes(line []byte, label string, v uint64) []byte {
	line = append(line, label...)
	b, unit := bytesCarry(v)
	line = strconv.AppendUint(line, b, 10)
	return append(line, unit...)
}

const carryThreshold = 1 << 15

func bytesCarry(value uint64) (uint64, string) {
	if value < carryThreshold {
		return value, " B"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " KB"
	}
	value >>= 10
	if value < carryThreshold {
		return value, " MB"
	}
	return value >> 10, " GB"
}
