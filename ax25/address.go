// Package ax25 encodes and decodes the AX.25 UI frames carried inside KISS.
package ax25

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrBadAddress = errors.New("ax25: invalid address")
	ErrShortFrame = errors.New("ax25: frame too short")
)

// MaxCallsignLen is the longest callsign an address field can hold.
const MaxCallsignLen = 6

// Address is a station address: a callsign plus an SSID in 0..15.
// Repeated is the H bit of a digipeater path entry.
type Address struct {
	Callsign string
	SSID     int
	Repeated bool
}

// String formats the address as CALLSIGN or CALLSIGN-SSID. SSID 0 is omitted.
func (a Address) String() string {
	if a.SSID == 0 {
		return a.Callsign
	}
	return a.Callsign + "-" + strconv.Itoa(a.SSID)
}

// Validate checks the callsign characters and SSID range.
func (a Address) Validate() error {
	if a.Callsign == "" || len(a.Callsign) > MaxCallsignLen {
		return fmt.Errorf("%w: callsign %q must be 1-%d characters", ErrBadAddress, a.Callsign, MaxCallsignLen)
	}
	for _, r := range a.Callsign {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return fmt.Errorf("%w: callsign %q contains %q", ErrBadAddress, a.Callsign, r)
		}
	}
	if a.SSID < 0 || a.SSID > 15 {
		return fmt.Errorf("%w: ssid %d out of range 0-15", ErrBadAddress, a.SSID)
	}
	return nil
}

// ParseAddress parses "N0CALL", "N0CALL-9" or "WIDE1-1*". A trailing '*'
// marks the address as already repeated. Callsigns are upper-cased.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "*") {
		a.Repeated = true
		s = strings.TrimSuffix(s, "*")
	}
	call, ssid, hasSSID := strings.Cut(s, "-")
	a.Callsign = strings.ToUpper(call)
	if hasSSID {
		n, err := strconv.Atoi(ssid)
		if err != nil {
			return Address{}, fmt.Errorf("%w: bad ssid in %q", ErrBadAddress, s)
		}
		a.SSID = n
	}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// encode packs the address into its 7-byte wire form. cr is the
// command/response or H bit (bit 7 of the SSID byte), last sets the
// address extension bit.
func (a Address) encode(cr, last bool) []byte {
	out := make([]byte, 7)
	for i := 0; i < MaxCallsignLen; i++ {
		c := byte(' ')
		if i < len(a.Callsign) {
			c = a.Callsign[i]
		}
		out[i] = c << 1
	}
	ssid := byte(0x60) | byte(a.SSID&0x0F)<<1
	if cr {
		ssid |= 0x80
	}
	if last {
		ssid |= 0x01
	}
	out[6] = ssid
	return out
}

// decodeAddress unpacks one 7-byte address field. It reports the bit-7
// flag of the SSID byte and whether the extension bit marks it as last.
func decodeAddress(b []byte) (Address, bool, bool, error) {
	if len(b) < 7 {
		return Address{}, false, false, ErrShortFrame
	}
	var sb strings.Builder
	for i := 0; i < MaxCallsignLen; i++ {
		if b[i]&0x01 != 0 {
			return Address{}, false, false, fmt.Errorf("%w: extension bit set inside callsign", ErrBadAddress)
		}
		c := b[i] >> 1
		if c == ' ' {
			continue
		}
		sb.WriteByte(c)
	}
	a := Address{
		Callsign: sb.String(),
		SSID:     int(b[6]>>1) & 0x0F,
	}
	if a.Callsign == "" {
		return Address{}, false, false, fmt.Errorf("%w: empty callsign", ErrBadAddress)
	}
	return a, b[6]&0x80 != 0, b[6]&0x01 != 0, nil
}
