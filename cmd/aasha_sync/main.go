// Package main implements the aasha_sync binary, the offline-first submission
// pipeline for field health records.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/log"
)

// SubmitCommand enqueues or sends one record
type SubmitCommand struct {
	Type string `long:"type" required:"true" description:"Record type: family_survey|pregnancy_report|child_vaccination|postnatal_care|leprosy_report"`
	File string `long:"file" default:"-" description:"JSON payload file, - reads stdin"`
}

// AlertReadCommand marks one alert as read
type AlertReadCommand struct {
	ID string `long:"id" required:"true" description:"Alert id"`
}

// ResetCommand drops all local data
type ResetCommand struct {
	Yes bool `long:"yes" description:"Confirm that pending records may be lost"`
}

// Config holds the application configuration
type Config struct {
	StoreDSN         string        `short:"s" env:"AASHA_STORE_DSN" long:"store-dsn" description:"Local store: SQLite file path or postgres:// URL" default:"aasha.db"`
	GatewayURL       string        `short:"g" env:"AASHA_GATEWAY_URL" long:"gateway-url" description:"Base URL of the remote authority" default:"http://localhost:8001"`
	Token            string        `short:"t" env:"AASHA_TOKEN" long:"token" description:"Bearer token sent with every request"`
	LogLevel         string        `short:"l" env:"AASHA_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	ProbeInterval    time.Duration `long:"probe-interval" env:"AASHA_PROBE_INTERVAL" description:"Connectivity probe interval" default:"5s"`
	SubmitTimeout    time.Duration `long:"submit-timeout" env:"AASHA_SUBMIT_TIMEOUT" description:"Upper bound for a single submission during sync" default:"30s"`
	GroupWorkers     int           `long:"group-workers" env:"AASHA_GROUP_WORKERS" description:"Record type groups submitted in parallel" default:"1"`
	LegacyAccounting bool          `long:"legacy-accounting" env:"AASHA_LEGACY_ACCOUNTING" description:"Mark the first N pending records synced instead of the ones that succeeded"`
	Version          bool          `short:"v" long:"version" description:"Show version information"`
	Help             bool

	Run        struct{}         `command:"run" description:"Watch connectivity and sync on every reconnect (default)"`
	Submit     SubmitCommand    `command:"submit" description:"Send a record, or queue it when offline"`
	Sync       struct{}         `command:"sync" description:"Sync pending records now"`
	Status     struct{}         `command:"status" description:"Show connectivity and pending count"`
	Alerts     struct{}         `command:"alerts" description:"List alerts"`
	AlertsRead AlertReadCommand `command:"alerts-read" description:"Mark an alert as read"`
	Dashboard  struct{}         `command:"dashboard" description:"Show dashboard statistics"`
	Reset      ResetCommand     `command:"reset" description:"Clear all local data"`

	// Command is the selected command name
	Command string
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	parser.SubcommandsOptional = true            // no command means run
	nonParsedArgs, err := parser.ParseArgs(args) // parse and execute subcommand if any
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	cmdOpts.Command = "run"
	if parser.Active != nil {
		cmdOpts.Command = parser.Active.Name
	}
	if cmdOpts.GroupWorkers < 1 {
		return cmdOpts, fmt.Errorf("--group-workers must be at least 1")
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("aasha_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	// command output goes to stdout, logs stay on stderr
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(log.NewFormatter(false))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Debug("aasha_sync logging initialized")

	return nil
}

// SetupCloseHandler cancels the root context on SIGINT or SIGTERM. A drain in
// flight stops at its next submission and the monitor waits for it to return.
func SetupCloseHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	// a missing .env file is fine, the environment and flags still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Error: failed to load .env: %s\n", err)
		os.Exit(1)
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	app, err := NewApp(ctx, config, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize")
	}
	err = app.Execute(ctx)
	if cerr := app.Close(); cerr != nil {
		logrus.WithError(cerr).Warn("Failed to close local store")
	}
	if err != nil && ctx.Err() == nil {
		logrus.WithError(err).WithField("command", config.Command).Fatal("Command failed")
	}
	logrus.Debug("Graceful shutdown completed")
}
