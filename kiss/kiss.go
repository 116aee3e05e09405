// Package kiss implements the KISS TNC framing used between a host and a
// TNC: special-byte escaping, frame wrapping and stream splitting.
package kiss

import (
	"bytes"
	"errors"
	"fmt"
)

// Special bytes.
const (
	FEND  byte = 0xC0
	FESC  byte = 0xDB
	TFEND byte = 0xDC
	TFESC byte = 0xDD
)

// CmdData is the low nibble of the type byte for a data frame.
const CmdData byte = 0x00

// MaxFrameLen bounds how much unterminated data ScanFrames buffers.
const MaxFrameLen = 4096

var (
	ErrNotFramed = errors.New("kiss: not a KISS frame")
	ErrBadEscape = errors.New("kiss: invalid escape sequence")
)

// Escape replaces FEND and FESC in data with their escape sequences.
func Escape(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + 4)
	for _, b := range data {
		switch b {
		case FEND:
			buf.WriteByte(FESC)
			buf.WriteByte(TFEND)
		case FESC:
			buf.WriteByte(FESC)
			buf.WriteByte(TFESC)
		default:
			buf.WriteByte(b)
		}
	}
	return buf.Bytes()
}

// Unescape reverses Escape.
func Unescape(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	escaped := false
	for i, b := range data {
		if escaped {
			switch b {
			case TFEND:
				out = append(out, FEND)
			case TFESC:
				out = append(out, FESC)
			default:
				return nil, fmt.Errorf("%w: 0x%02X after FESC at %d", ErrBadEscape, b, i)
			}
			escaped = false
			continue
		}
		switch b {
		case FESC:
			escaped = true
		case FEND:
			return nil, fmt.Errorf("%w: FEND inside frame at %d", ErrNotFramed, i)
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, fmt.Errorf("%w: trailing FESC", ErrBadEscape)
	}
	return out, nil
}

// Encapsulate wraps an AX.25 frame as a KISS data frame for the given port:
// FEND, type byte, escaped data, FEND.
func Encapsulate(port int, data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, FEND, byte(port&0x0F)<<4|CmdData)
	out = append(out, Escape(data)...)
	return append(out, FEND)
}

// Unwrap extracts the port, command and payload of a KISS frame. The leading
// and trailing FEND are optional so both raw frames and frames already
// stripped of their delimiters are accepted.
func Unwrap(frame []byte) (port int, cmd byte, data []byte, err error) {
	frame = bytes.TrimPrefix(frame, []byte{FEND})
	frame = bytes.TrimSuffix(frame, []byte{FEND})
	if len(frame) == 0 {
		return 0, 0, nil, fmt.Errorf("%w: empty", ErrNotFramed)
	}
	typ := frame[0]
	data, err = Unescape(frame[1:])
	if err != nil {
		return 0, 0, nil, err
	}
	return int(typ >> 4), typ & 0x0F, data, nil
}

// ScanFrames is a bufio.SplitFunc that yields delimited KISS frames
// including both FEND bytes. Bytes before the first FEND are discarded.
// The closing FEND of one frame is reused as the opening FEND of the next.
// Runs of adjacent FENDs are skipped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.IndexByte(data, FEND)
	if start < 0 {
		return len(data), nil, nil
	}
	end := bytes.IndexByte(data[start+1:], FEND)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data)-start > MaxFrameLen {
			// Runaway frame without a closing delimiter.
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	if end == 0 {
		return start + 1, nil, nil
	}
	end += start + 1
	return end, data[start : end+1], nil
}
