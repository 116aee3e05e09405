package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestMonitorLoggerRollsByPattern(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitorLogger(filepath.Join(dir, "aprs-%Y%m%d.log"), "%H:%M")
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	m.now = func() time.Time { return day }
	if err := m.RX("127.0.0.1:8001", "N0CALL>APRS:!4903.50N/07201.75W-"); err != nil {
		t.Fatal(err)
	}
	day = day.Add(2 * time.Minute)
	if err := m.TX("127.0.0.1:8001", "NOCALL>APZ42,WIDE1-1:=hi"); err != nil {
		t.Fatal(err)
	}
	m.Close()

	first, err := os.ReadFile(filepath.Join(dir, "aprs-20260501.log"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(first); got != "23:59 RX [127.0.0.1:8001] N0CALL>APRS:!4903.50N/07201.75W-\n" {
		t.Errorf("first file = %q", got)
	}
	second, err := os.ReadFile(filepath.Join(dir, "aprs-20260502.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(second), "TX [127.0.0.1:8001] NOCALL>APZ42,WIDE1-1:=hi") {
		t.Errorf("second file = %q", second)
	}
}

func TestMonitorLoggerAfterClose(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitorLogger(filepath.Join(dir, "m.log"), "")
	if err != nil {
		t.Fatal(err)
	}
	m.Close()
	if err := m.RX("a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "m.log")); !os.IsNotExist(err) {
		t.Error("write after close created the file")
	}

	var nilMonitor *MonitorLogger
	if err := nilMonitor.RX("a", "b"); err != nil {
		t.Error(err)
	}
}

func TestConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newConsole(&buf, "warn")
	if l.GetLevel() != log.WarnLevel {
		t.Errorf("level = %v", l.GetLevel())
	}
	l.Info("hidden")
	l.Warn("shown", "tnc", "127.0.0.1:8001")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}

	if newConsole(&buf, "bogus").GetLevel() != log.InfoLevel {
		t.Error("unknown level should fall back to info")
	}
}
