package ax25

import (
	"fmt"
	"strings"
)

const (
	// ControlUI is the control field of an unnumbered information frame.
	ControlUI byte = 0x03

	// PIDNoLayer3 is the protocol identifier APRS uses.
	PIDNoLayer3 byte = 0xF0

	// MaxRepeaters is the most digipeater addresses a frame may carry.
	MaxRepeaters = 8
)

// Frame is a decoded AX.25 frame.
type Frame struct {
	Destination Address
	Source      Address
	Path        []Address
	Control     byte
	PID         byte
	Info        []byte
}

// NewUIFrame returns an unnumbered information frame with the APRS PID.
func NewUIFrame(dst, src Address, path []Address, info []byte) *Frame {
	return &Frame{
		Destination: dst,
		Source:      src,
		Path:        path,
		Control:     ControlUI,
		PID:         PIDNoLayer3,
		Info:        info,
	}
}

// IsUI reports whether the frame is an unnumbered information frame.
// The poll/final bit is ignored.
func (f *Frame) IsUI() bool {
	return f.Control&^0x10 == ControlUI
}

// Encode serializes the frame without KISS framing or FCS.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Path) > MaxRepeaters {
		return nil, fmt.Errorf("%w: %d repeaters exceeds %d", ErrBadAddress, len(f.Path), MaxRepeaters)
	}
	if err := f.Destination.Validate(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if err := f.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	for i, r := range f.Path {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("repeater %d: %w", i, err)
		}
	}

	buf := make([]byte, 0, 7*(2+len(f.Path))+2+len(f.Info))
	buf = append(buf, f.Destination.encode(true, false)...)
	buf = append(buf, f.Source.encode(false, len(f.Path) == 0)...)
	for i, r := range f.Path {
		buf = append(buf, r.encode(r.Repeated, i == len(f.Path)-1)...)
	}
	buf = append(buf, f.Control)
	if f.IsUI() {
		buf = append(buf, f.PID)
	}
	buf = append(buf, f.Info...)
	return buf, nil
}

// Decode parses an AX.25 frame as it appears inside a KISS data frame.
func Decode(b []byte) (*Frame, error) {
	// Destination, source and control at minimum.
	if len(b) < 15 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}

	f := &Frame{}
	var addrs []Address
	var heard []bool
	off := 0
	for {
		if off+7 > len(b) {
			return nil, fmt.Errorf("%w: address field not terminated", ErrShortFrame)
		}
		a, h, last, err := decodeAddress(b[off : off+7])
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
		heard = append(heard, h)
		off += 7
		if last {
			break
		}
		if len(addrs) == 2+MaxRepeaters {
			return nil, fmt.Errorf("%w: more than %d repeaters", ErrBadAddress, MaxRepeaters)
		}
	}
	if len(addrs) < 2 {
		return nil, fmt.Errorf("%w: need destination and source", ErrBadAddress)
	}

	f.Destination = addrs[0]
	f.Source = addrs[1]
	for i := 2; i < len(addrs); i++ {
		r := addrs[i]
		r.Repeated = heard[i]
		f.Path = append(f.Path, r)
	}

	if off >= len(b) {
		return nil, fmt.Errorf("%w: missing control field", ErrShortFrame)
	}
	f.Control = b[off]
	off++
	if f.IsUI() {
		if off >= len(b) {
			return nil, fmt.Errorf("%w: missing PID", ErrShortFrame)
		}
		f.PID = b[off]
		off++
	}
	f.Info = append([]byte(nil), b[off:]...)
	return f, nil
}

// PathString formats the repeater path as comma separated addresses,
// marking repeated entries with '*'.
func (f *Frame) PathString() string {
	parts := make([]string, len(f.Path))
	for i, r := range f.Path {
		parts[i] = r.String()
		if r.Repeated {
			parts[i] += "*"
		}
	}
	return strings.Join(parts, ",")
}

// String renders the frame in monitor (TNC2) format: SRC>DST,PATH:info
func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString(f.Source.String())
	sb.WriteByte('>')
	sb.WriteString(f.Destination.String())
	if len(f.Path) > 0 {
		sb.WriteByte(',')
		sb.WriteString(f.PathString())
	}
	sb.WriteByte(':')
	sb.Write(f.Info)
	return sb.String()
}
