// aprsgate bridges APRS packet radio TNCs and the vessel telemetry bus.
//
// It beacons the own-vessel position through every transmit-enabled TNC,
// republishes received weather and position reports as telemetry deltas,
// and serves the gateway state over a REST API.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"aprsgate/api"
	"aprsgate/config"
	"aprsgate/engine"
	"aprsgate/logging"
)

var _ api.Backend = (*engine.Engine)(nil)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configPath  = flag.StringP("config", "c", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.IntP("port", "p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	adminUser   = flag.String("admin-user", "", "Create/update an API user (saves to config)")
	adminPass   = flag.String("admin-pass", "", "Password for --admin-user (read from stdin when empty)")
	logLevel    = flag.String("log-level", "", "Console log level: debug, info, warn, error (overrides config)")
	logFile     = flag.String("log", "", "Write the console log to a file instead of stderr")
	logDebug    = flag.String("log-debug", "", "Enable protocol debug logging, optionally filtered (tnc,kiss,aprs,...)")
)

func main() {
	// --log-debug alone enables every protocol.
	flag.Lookup("log-debug").NoOptDefVal = "all"
	flag.Parse()

	if *showVersion {
		fmt.Printf("aprsgate %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *noAPI {
		cfg.Web.Enabled = false
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logDebug != "" {
		cfg.Log.DebugFilter = *logDebug
	}

	if *adminUser != "" {
		if err := setAdminUser(cfg, *adminUser, *adminPass); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("API user '%s' saved to %s\n", *adminUser, *configPath)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg))
}

func setAdminUser(cfg *config.Config, username, password string) error {
	if password == "" {
		fmt.Printf("Password for '%s': ", username)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	e := engine.New(engine.Config{AppConfig: cfg, ConfigPath: *configPath})
	return e.SetWebUser(username, password)
}

func run(cfg *config.Config) int {
	console, closeLog, err := openConsole(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer closeLog()

	if cfg.Log.DebugFilter != "" {
		closeDebug := openDebugLog(cfg, console)
		defer closeDebug()
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    console.Infof,
		ErrorFunc:  console.Errorf,
	})
	if err := eng.Start(); err != nil {
		console.Error("Engine failed to start", "err", err)
		return 1
	}

	var server *api.Server
	if cfg.Web.Enabled {
		server = api.NewServer(eng, eng.Events, &cfg.Web)
		if err := server.Start(); err != nil {
			console.Error("REST API disabled", "err", err)
			server = nil
		} else {
			console.Info("REST API listening", "addr", server.Address())
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	console.Info("Shutting down", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		if server != nil {
			server.Stop()
		}
		eng.Stop()
		close(done)
	}()

	select {
	case <-done:
		return 0
	case <-time.After(10 * time.Second):
		console.Warn("Shutdown timed out")
		return 1
	case <-sigChan:
		console.Warn("Forced exit")
		return 1
	}
}

func openConsole(cfg *config.Config) (*log.Logger, func(), error) {
	if *logFile == "" {
		return logging.NewConsole(cfg.Log.Level), func() {}, nil
	}
	f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewConsoleWriter(f, cfg.Log.Level), func() { f.Close() }, nil
}

// openDebugLog starts the protocol debug log next to the config file
// unless log.debug_path names another location.
func openDebugLog(cfg *config.Config, console *log.Logger) func() {
	path := cfg.Log.DebugPath
	if path == "" {
		path = filepath.Join(filepath.Dir(*configPath), "debug.log")
	}
	dl, err := logging.NewDebugLogger(path)
	if err != nil {
		console.Warn("Failed to open debug log", "path", path, "err", err)
		return func() {}
	}
	filter := cfg.Log.DebugFilter
	if filter == "all" || filter == "true" || filter == "1" {
		filter = ""
	}
	dl.SetFilter(filter)
	logging.SetGlobalDebugLogger(dl)
	if filter == "" {
		console.Info("Debug logging enabled (all protocols)", "path", path)
	} else {
		console.Info("Debug logging enabled", "filter", filter, "path", path)
	}
	return func() {
		logging.SetGlobalDebugLogger(nil)
		dl.Close()
	}
}
