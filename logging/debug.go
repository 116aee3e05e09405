package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const debugTimeFormat = "2006-01-02 15:04:05.000"

// DebugLogger writes protocol-level troubleshooting output (connection
// attempts, dropped links, frame hex dumps) to a dedicated file.
type DebugLogger struct {
	w       io.WriteCloser
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // empty = log all
}

var (
	globalDebugLogger *DebugLogger
	globalDebugMu     sync.RWMutex
)

// KnownProtocols lists the names accepted by --log-debug.
var KnownProtocols = []string{
	"tnc", "kiss", "ax25", "aprs",
	"beacon", "decoder",
	"mqtt", "valkey", "kafka",
	"api", "engine",
	"debug",
}

// related expands a filter entry to the layers beneath it.
var related = map[string][]string{
	"tnc":     {"kiss"},
	"aprs":    {"ax25", "decoder", "beacon"},
	"decoder": {"ax25"},
}

// NewDebugLogger truncates path and starts a new debug session in it.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}
	return newDebugLogger(file), nil
}

func newDebugLogger(w io.WriteCloser) *DebugLogger {
	l := &DebugLogger{w: w, filters: make(map[string]bool)}
	l.Log("debug", "Debug logging started - %s", time.Now().Format(time.RFC3339))
	return l
}

// SetFilter restricts output to a comma separated list of protocols.
// An empty filter logs everything.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)
	for _, p := range strings.Split(filter, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		l.filters[p] = true
		for _, r := range related[p] {
			l.filters[r] = true
		}
	}
	if len(l.filters) == 0 {
		return
	}
	names := make([]string, 0, len(l.filters))
	for p := range l.filters {
		names = append(names, p)
	}
	sort.Strings(names)
	fmt.Fprintf(l.w, "%s [debug] Filtering enabled for protocols: %s\n",
		time.Now().Format(debugTimeFormat), strings.Join(names, ", "))
}

// shouldLog must be called with l.mu held.
func (l *DebugLogger) shouldLog(protocol string) bool {
	if len(l.filters) == 0 {
		return true
	}
	p := strings.ToLower(protocol)
	return p == "debug" || l.filters[p]
}

// SetGlobalDebugLogger installs the process-wide debug logger. nil disables
// debug output.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the process-wide debug logger, possibly nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes one line tagged with protocol.
func (l *DebugLogger) Log(protocol, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.shouldLog(protocol) {
		return
	}
	fmt.Fprintf(l.w, "%s [%s] %s\n", time.Now().Format(debugTimeFormat), protocol, fmt.Sprintf(format, args...))
}

// LogTX logs an outbound frame with a hex dump.
func (l *DebugLogger) LogTX(protocol string, data []byte) {
	l.logPacket(protocol, "TX", data)
}

// LogRX logs an inbound frame with a hex dump.
func (l *DebugLogger) LogRX(protocol string, data []byte) {
	l.logPacket(protocol, "RX", data)
}

func (l *DebugLogger) logPacket(protocol, direction string, data []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.shouldLog(protocol) {
		return
	}
	fmt.Fprintf(l.w, "%s [%s] %s (%d bytes):\n%s\n",
		time.Now().Format(debugTimeFormat), protocol, direction, len(data), hexDump(data))
}

// Close ends the session and closes the file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	fmt.Fprintf(l.w, "%s [debug] Debug logging ended\n", time.Now().Format(debugTimeFormat))
	return l.w.Close()
}

// hexDump renders 16 bytes per row: offset, two groups of eight hex bytes,
// then printable ASCII.
//
//	0000: C0 00 82 A0 B4 68 64 40  E0 9C 9E 86 82 98 98 61  .....hd@.......a
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		fmt.Fprintf(&sb, "    %04X: ", off)
		for i := 0; i < 16; i++ {
			if i == 8 {
				sb.WriteByte(' ')
			}
			if off+i < len(data) {
				fmt.Fprintf(&sb, "%02X ", data[off+i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte(' ')
		for i := off; i < off+16 && i < len(data); i++ {
			if b := data[i]; b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		if off+16 < len(data) {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// DebugLog logs through the global debug logger, if any.
func DebugLog(protocol, format string, args ...interface{}) {
	GetGlobalDebugLogger().Log(protocol, format, args...)
}

// DebugTX hex dumps an outbound frame through the global debug logger.
func DebugTX(protocol string, data []byte) {
	GetGlobalDebugLogger().LogTX(protocol, data)
}

// DebugRX hex dumps an inbound frame through the global debug logger.
func DebugRX(protocol string, data []byte) {
	GetGlobalDebugLogger().LogRX(protocol, data)
}

func DebugConnect(protocol, address string) {
	DebugLog(protocol, "CONNECT to %s", address)
}

func DebugConnectSuccess(protocol, address, details string) {
	DebugLog(protocol, "CONNECTED to %s - %s", address, details)
}

func DebugConnectError(protocol, address string, err error) {
	DebugLog(protocol, "CONNECT FAILED to %s: %v", address, err)
}

func DebugDisconnect(protocol, address, reason string) {
	DebugLog(protocol, "DISCONNECT from %s: %s", address, reason)
}

func DebugError(protocol, context string, err error) {
	DebugLog(protocol, "ERROR in %s: %v", context, err)
}
