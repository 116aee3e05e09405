package tnc

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/pkg/term"

	"aprsgate/config"
)

// Dialer opens the byte stream to a TNC.
type Dialer interface {
	Dial(ctx context.Context, ep config.TNCConfig) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep config.TNCConfig) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context, ep config.TNCConfig) (io.ReadWriteCloser, error) {
	return f(ctx, ep)
}

// defaultDialer connects over TCP, or opens a serial device in raw mode
// when the endpoint names one.
type defaultDialer struct{}

func (defaultDialer) Dial(ctx context.Context, ep config.TNCConfig) (io.ReadWriteCloser, error) {
	if ep.IsSerial() {
		return openSerial(ep.Device, ep.Baud)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}

func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = config.DefaultBaud
	}
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return t, nil
}
