package aprs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"aprsgate/ax25"
)

// Position is a decoded station position in decimal degrees.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Decoded is the structured content of a received position or weather
// report. Weather values stay in APRS native units.
type Decoded struct {
	Source      ax25.Address
	Destination ax25.Address
	Path        []ax25.Address
	Symbol      string
	Position    *Position
	Weather     *Weather
	Comment     string

	// Timestamp is the report's own timestamp, zero when it carries none.
	Timestamp time.Time
	Received  time.Time
}

// Time returns the report timestamp, falling back to the receive time.
func (d *Decoded) Time() time.Time {
	if d.Timestamp.IsZero() {
		return d.Received
	}
	return d.Timestamp
}

// ParseReport decodes the information field of a UI frame. Position reports
// (! = / @), positionless weather (_) and compressed positions are
// understood; anything else returns ErrUnsupported.
func ParseReport(f *ax25.Frame, received time.Time) (*Decoded, error) {
	if !f.IsUI() {
		return nil, fmt.Errorf("%w: control 0x%02X", ErrUnsupported, f.Control)
	}
	info := strings.TrimRight(string(f.Info), "\r\n")
	if info == "" {
		return nil, fmt.Errorf("%w: empty information field", ErrMalformed)
	}

	d := &Decoded{
		Source:      f.Source,
		Destination: f.Destination,
		Path:        f.Path,
		Received:    received,
	}

	var err error
	switch info[0] {
	case '!', '=':
		err = d.parsePosition(info[1:])
	case '/', '@':
		if len(info) < 8 {
			return nil, fmt.Errorf("%w: timestamped position too short", ErrMalformed)
		}
		if d.Timestamp, err = parseTimestamp(info[1:8], received); err != nil {
			return nil, err
		}
		err = d.parsePosition(info[8:])
	case '_':
		err = d.parsePositionlessWeather(info[1:], received)
	default:
		return nil, fmt.Errorf("%w: data type %q", ErrUnsupported, info[0])
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Decoded) parsePosition(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: missing position", ErrMalformed)
	}
	if isDigitOrSpace(s[0]) {
		return d.parseUncompressed(s)
	}
	return d.parseCompressed(s)
}

func (d *Decoded) parseUncompressed(s string) error {
	if len(s) < 19 {
		return fmt.Errorf("%w: position too short", ErrMalformed)
	}
	lat, err := ParseLatitude(s[0:8])
	if err != nil {
		return err
	}
	lon, err := ParseLongitude(s[9:18])
	if err != nil {
		return err
	}
	d.Position = &Position{Latitude: lat, Longitude: lon}
	d.Symbol = string([]byte{s[8], s[18]})
	rest := s[19:]

	if s[18] == '_' {
		w := newWeather()
		if len(rest) >= 7 && rest[3] == '/' {
			w.WindDirection, _ = weatherValue(rest[0:3])
			w.WindSpeed, _ = weatherValue(rest[4:7])
			rest = rest[7:]
		}
		rest = w.parseFields(rest)
		if !w.empty() {
			d.Weather = w
		}
	}
	d.Comment = strings.TrimSpace(rest)
	return nil
}

// parseCompressed reads the 13 byte base-91 form: table, 4 lat, 4 lon,
// code, then course/speed/type.
func (d *Decoded) parseCompressed(s string) error {
	if len(s) < 13 {
		return fmt.Errorf("%w: compressed position too short", ErrMalformed)
	}
	y, ok := base91(s[1:5])
	if !ok {
		return fmt.Errorf("%w: compressed latitude %q", ErrMalformed, s[1:5])
	}
	x, ok := base91(s[5:9])
	if !ok {
		return fmt.Errorf("%w: compressed longitude %q", ErrMalformed, s[5:9])
	}
	d.Position = &Position{
		Latitude:  90 - float64(y)/380926,
		Longitude: -180 + float64(x)/190463,
	}

	table := s[0]
	if table >= 'a' && table <= 'j' {
		table = table - 'a' + '0'
	}
	code := s[9]
	d.Symbol = string([]byte{table, code})
	c, sp, t := s[10], s[11], s[12]
	rest := s[13:]

	if code == '_' {
		w := newWeather()
		if c != ' ' && (t-33)&0x18 != 0x10 && c >= '!' && c <= 'z' {
			w.WindDirection = float64(c-33) * 4
			w.WindSpeed = KnotsToMph(math.Pow(1.08, float64(sp-33)) - 1)
		}
		rest = w.parseFields(rest)
		if !w.empty() {
			d.Weather = w
		}
	}
	d.Comment = strings.TrimSpace(rest)
	return nil
}

// parsePositionlessWeather reads _MMDDHHMM followed by cDDDsSSS and the
// remaining weather fields.
func (d *Decoded) parsePositionlessWeather(s string, received time.Time) error {
	if len(s) < 8 {
		return fmt.Errorf("%w: weather timestamp too short", ErrMalformed)
	}
	ts, err := parseMDHM(s[:8], received)
	if err != nil {
		return err
	}
	d.Timestamp = ts
	d.Symbol = "/_"

	w := newWeather()
	rest := s[8:]
	if v, r, ok := takeField(rest, 'c'); ok {
		w.WindDirection, rest = v, r
	}
	if v, r, ok := takeField(rest, 's'); ok {
		w.WindSpeed, rest = v, r
	}
	rest = w.parseFields(rest)
	if !w.empty() {
		d.Weather = w
	}
	d.Comment = strings.TrimSpace(rest)
	return nil
}

func isDigitOrSpace(b byte) bool {
	return b == ' ' || (b >= '0' && b <= '9')
}

func base91(s string) (int, bool) {
	v := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '!' || c > '{' {
			return 0, false
		}
		v = v*91 + int(c-33)
	}
	return v, true
}
