package kiss

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncapsulate(t *testing.T) {
	tests := []struct {
		name string
		port int
		in   []byte
		want []byte
	}{
		{"plain", 0, []byte("abc"), []byte{FEND, 0x00, 'a', 'b', 'c', FEND}},
		{"escapes FEND", 0, []byte{FEND}, []byte{FEND, 0x00, FESC, TFEND, FEND}},
		{"escapes FESC", 0, []byte{FESC}, []byte{FEND, 0x00, FESC, TFESC, FEND}},
		{"port in high nibble", 2, []byte{1}, []byte{FEND, 0x20, 1, FEND}},
		{"empty", 0, nil, []byte{FEND, 0x00, FEND}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Encapsulate(tc.port, tc.in))
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Run("with delimiters", func(t *testing.T) {
		port, cmd, data, err := Unwrap([]byte{FEND, 0x10, 'x', FESC, TFEND, FEND})
		require.NoError(t, err)
		assert.Equal(t, 1, port)
		assert.Equal(t, CmdData, cmd)
		assert.Equal(t, []byte{'x', FEND}, data)
	})

	t.Run("without delimiters", func(t *testing.T) {
		_, cmd, data, err := Unwrap([]byte{0x00, 'h', 'i'})
		require.NoError(t, err)
		assert.Equal(t, CmdData, cmd)
		assert.Equal(t, []byte("hi"), data)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, _, err := Unwrap([]byte{FEND, FEND})
		assert.ErrorIs(t, err, ErrNotFramed)
	})

	t.Run("bad escape", func(t *testing.T) {
		_, _, _, err := Unwrap([]byte{0x00, FESC, 'q'})
		assert.ErrorIs(t, err, ErrBadEscape)
	})

	t.Run("trailing escape", func(t *testing.T) {
		_, _, _, err := Unwrap([]byte{0x00, 'a', FESC})
		assert.ErrorIs(t, err, ErrBadEscape)
	})
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Byte()).Draw(t, "in")
		port := rapid.IntRange(0, 15).Draw(t, "port")

		frame := Encapsulate(port, in)
		assert.Equal(t, FEND, frame[0])
		assert.Equal(t, FEND, frame[len(frame)-1])
		assert.NotContains(t, frame[1:len(frame)-1], FEND)

		gotPort, cmd, out, err := Unwrap(frame)
		require.NoError(t, err)
		assert.Equal(t, port, gotPort)
		assert.Equal(t, CmdData, cmd)
		assert.Equal(t, len(in), len(out))
		assert.True(t, bytes.Equal(in, out))
	})
}

func scanAll(stream []byte) [][]byte {
	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Split(ScanFrames)
	var out [][]byte
	for sc.Scan() {
		out = append(out, append([]byte(nil), sc.Bytes()...))
	}
	return out
}

func TestScanFrames(t *testing.T) {
	t.Run("leading noise and back to back frames", func(t *testing.T) {
		stream := []byte{'n', 'o', FEND, 0x00, 'a', FEND, 0x00, 'b', 'c', FEND}
		got := scanAll(stream)
		require.Len(t, got, 2)
		assert.Equal(t, []byte{FEND, 0x00, 'a', FEND}, got[0])
		assert.Equal(t, []byte{FEND, 0x00, 'b', 'c', FEND}, got[1])
	})

	t.Run("doubled delimiters are skipped", func(t *testing.T) {
		stream := []byte{FEND, FEND, 0x00, 'a', FEND, FEND, FEND, 0x00, 'b', FEND}
		got := scanAll(stream)
		require.Len(t, got, 2)
		assert.Equal(t, []byte{FEND, 0x00, 'a', FEND}, got[0])
		assert.Equal(t, []byte{FEND, 0x00, 'b', FEND}, got[1])
	})

	t.Run("partial frame at EOF is dropped", func(t *testing.T) {
		stream := []byte{FEND, 0x00, 'a', FEND, 0x00, 'z'}
		got := scanAll(stream)
		require.Len(t, got, 1)
		assert.Equal(t, []byte{FEND, 0x00, 'a', FEND}, got[0])
	})

	t.Run("no delimiter", func(t *testing.T) {
		assert.Empty(t, scanAll([]byte("hello")))
	})
}

func TestScanFramesChunked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloads := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 64), 1, 8).Draw(t, "payloads")
		var stream []byte
		for _, p := range payloads {
			stream = append(stream, Encapsulate(0, p)...)
		}

		got := scanAll(stream)
		require.Len(t, got, len(payloads))
		for i, tok := range got {
			_, _, data, err := Unwrap(tok)
			require.NoError(t, err)
			assert.Equal(t, payloads[i], data)
		}
	})
}
