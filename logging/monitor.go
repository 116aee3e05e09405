package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// DefaultMonitorTimeFormat is the strftime layout of monitor line stamps.
const DefaultMonitorTimeFormat = "%Y-%m-%d %H:%M:%S"

// MonitorLogger appends one line per frame heard or sent, in the familiar
// TNC2 monitor layout. The file name is a strftime pattern evaluated per
// line, so a pattern such as aprs-%Y%m%d.log rolls over daily.
type MonitorLogger struct {
	mu      sync.Mutex
	path    *strftime.Strftime
	stamp   *strftime.Strftime
	current string
	file    *os.File
	closed  bool
	now     func() time.Time
}

// NewMonitorLogger compiles the path and time format patterns. An empty
// timeFormat selects DefaultMonitorTimeFormat.
func NewMonitorLogger(pathPattern, timeFormat string) (*MonitorLogger, error) {
	if timeFormat == "" {
		timeFormat = DefaultMonitorTimeFormat
	}
	p, err := strftime.New(pathPattern)
	if err != nil {
		return nil, fmt.Errorf("monitor path pattern: %w", err)
	}
	s, err := strftime.New(timeFormat)
	if err != nil {
		return nil, fmt.Errorf("monitor time format: %w", err)
	}
	return &MonitorLogger{path: p, stamp: s, now: time.Now}, nil
}

// RX records a received frame.
func (m *MonitorLogger) RX(addr, frame string) error {
	return m.write("RX", addr, frame)
}

// TX records a transmitted frame.
func (m *MonitorLogger) TX(addr, frame string) error {
	return m.write("TX", addr, frame)
}

func (m *MonitorLogger) write(dir, addr, frame string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	now := m.now()
	name := m.path.FormatString(now)
	if name != m.current || m.file == nil {
		if m.file != nil {
			m.file.Close()
			m.file = nil
		}
		if d := filepath.Dir(name); d != "." {
			if err := os.MkdirAll(d, 0755); err != nil {
				return fmt.Errorf("monitor log directory: %w", err)
			}
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open monitor log: %w", err)
		}
		m.file = f
		m.current = name
	}
	_, err := fmt.Fprintf(m.file, "%s %s [%s] %s\n", m.stamp.FormatString(now), dir, addr, frame)
	return err
}

// Close closes the current file. Later writes are dropped.
func (m *MonitorLogger) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
