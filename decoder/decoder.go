// Package decoder turns frames received from the TNCs into presence
// updates and telemetry deltas.
package decoder

import (
	"math"
	"strings"
	"sync"
	"time"

	"aprsgate/aprs"
	"aprsgate/ax25"
	"aprsgate/kiss"
	"aprsgate/logging"
	"aprsgate/presence"
	"aprsgate/telemetry"
)

// Publisher sends deltas to the telemetry bus.
type Publisher interface {
	Publish(d telemetry.Delta) error
}

// Reporter receives status lines. Debounce schedules a presence status
// refresh.
type Reporter interface {
	SetStatus(msg string)
	Debounce()
}

// Monitor records received frames.
type Monitor interface {
	RX(addr, frame string) error
}

// Stats counts frames by outcome.
type Stats struct {
	Frames    uint64 `json:"frames"`
	Invalid   uint64 `json:"invalid"`
	Reports   uint64 `json:"reports"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"` // publish errors
}

// Decoder handles inbound frames. It is safe for concurrent use by the
// reader goroutines of several connections.
type Decoder struct {
	bus      Publisher
	presence *presence.Table
	rep      Reporter
	now      func() time.Time

	mu       sync.Mutex
	monitor  Monitor
	onReport func(addr string, r *aprs.Decoded)
	stats    Stats
}

// New returns a decoder writing to bus and table.
func New(bus Publisher, table *presence.Table, rep Reporter) *Decoder {
	return &Decoder{bus: bus, presence: table, rep: rep, now: time.Now}
}

// SetClock replaces the receive-time clock.
func (d *Decoder) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// SetMonitor attaches a monitor log for received frames.
func (d *Decoder) SetMonitor(m Monitor) {
	d.mu.Lock()
	d.monitor = m
	d.mu.Unlock()
}

// SetOnReport sets a callback for every parsed position or weather report.
func (d *Decoder) SetOnReport(fn func(addr string, r *aprs.Decoded)) {
	d.mu.Lock()
	d.onReport = fn
	d.mu.Unlock()
}

// HandleFrame processes one KISS frame from the TNC at addr. The frame is
// the type byte plus escaped payload, with or without delimiters. Frames
// that fail to decode are dropped.
func (d *Decoder) HandleFrame(addr string, frame []byte) {
	d.mu.Lock()
	d.stats.Frames++
	monitor, onReport, clock := d.monitor, d.onReport, d.now
	d.mu.Unlock()

	_, cmd, data, err := kiss.Unwrap(frame)
	if err != nil || cmd != kiss.CmdData {
		d.invalid(addr, "kiss", err)
		return
	}
	f, err := ax25.Decode(data)
	if err != nil {
		d.invalid(addr, "ax25", err)
		return
	}

	now := clock()
	d.presence.Heard(f.Source.String(), now)
	line := f.String()
	if monitor != nil {
		if err := monitor.RX(addr, line); err != nil {
			logging.DebugError("decoder", "monitor", err)
		}
	}
	d.rep.SetStatus("RX " + strings.TrimRight(line, "\r\n"))
	defer d.rep.Debounce()

	report, err := aprs.ParseReport(f, now)
	if err != nil {
		logging.DebugLog("decoder", "%s: %s: %v", addr, f.Source, err)
		return
	}
	d.mu.Lock()
	d.stats.Reports++
	d.mu.Unlock()
	if onReport != nil {
		onReport(addr, report)
	}

	delta, ok := Translate(report)
	if !ok {
		return
	}
	err = d.bus.Publish(delta)
	d.mu.Lock()
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Published++
	}
	d.mu.Unlock()
	if err != nil {
		logging.DebugError("decoder", "publish", err)
	}
}

func (d *Decoder) invalid(addr, layer string, err error) {
	d.mu.Lock()
	d.stats.Invalid++
	d.mu.Unlock()
	logging.DebugLog("decoder", "%s: dropping frame (%s): %v", addr, layer, err)
}

// Stats returns a snapshot of the counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Translate maps a weather report to a station delta in SI units. Reports
// without weather yield nothing, even when they carry a position. Each
// value is dropped on its own when its input is missing or non-finite.
func Translate(r *aprs.Decoded) (telemetry.Delta, bool) {
	if r == nil || r.Weather == nil {
		return telemetry.Delta{}, false
	}
	w := r.Weather
	var values []telemetry.PathValue
	add := func(path string, in float64, conv func(float64) float64) {
		if !isFinite(in) {
			return
		}
		if out := conv(in); isFinite(out) {
			values = append(values, telemetry.PathValue{Path: path, Value: out})
		}
	}

	if p := r.Position; p != nil && isFinite(p.Latitude) && isFinite(p.Longitude) {
		values = append(values, telemetry.PathValue{
			Path:  telemetry.PathPosition,
			Value: telemetry.Position{Latitude: p.Latitude, Longitude: p.Longitude},
		})
	}
	add(telemetry.PathTemperature, w.Temperature, aprs.FahrenheitToKelvin)
	add(telemetry.PathWindSpeed, w.WindSpeed, aprs.MphToMetersPerSecond)
	add(telemetry.PathWindDirection, w.WindDirection, aprs.DegreesToRadians)
	add(telemetry.PathPressure, w.Barometer, aprs.BarometerToPressure)
	add(telemetry.PathHumidity, w.Humidity, aprs.HumidityToRatio)
	if len(values) == 0 {
		return telemetry.Delta{}, false
	}

	values = append(values,
		telemetry.PathValue{Path: telemetry.PathName, Value: r.Source.Callsign},
		telemetry.PathValue{Path: telemetry.PathAPRSCallsign, Value: r.Source.Callsign},
		telemetry.PathValue{Path: telemetry.PathAPRSSSID, Value: r.Source.SSID},
		telemetry.PathValue{Path: telemetry.PathAPRSPath, Value: formatPath(r.Path)},
		telemetry.PathValue{Path: telemetry.PathAPRSComment, Value: r.Comment},
	)
	return telemetry.NewDelta(telemetry.StationContext(r.Source.Callsign), r.Time(), values...), true
}

func formatPath(path []ax25.Address) []string {
	out := make([]string, len(path))
	for i, a := range path {
		out[i] = a.String()
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
