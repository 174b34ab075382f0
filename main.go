// Package main provides the entry point for the MasyaVPN client.
// MasyaVPN turns a short-lived credential from the credential-issuing
// service into a system-wide tunnel, and restores the host network when
// the session ends.
//
// Features:
//   - Foreground tunnel sessions driven from the command line
//   - Ordered, reversible host network provisioning
//   - Cleanup of stray engine processes from earlier runs
//   - Local journal of connection attempts
//
// Usage:
//
//	masyavpn [options]
//
// Environment:
//
//	The proxy engine and the tunnel adapter bridge binaries must be present
//	in the configured binary directory. Connecting requires administrator
//	rights.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/masyavpn/masyavpn/cli"
	"github.com/masyavpn/masyavpn/common"
	"github.com/masyavpn/masyavpn/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configFile  = flag.String("config", "", "Settings file (default: user config directory)")

	// Session flags
	connectCred   = flag.String("connect", "", "Connect with the credential file ('-' for stdin)")
	disconnectVPN = flag.Bool("disconnect", false, "Stop the running session")
	showStatus    = flag.Bool("status", false, "Show current session status")
	showHistory   = flag.Bool("history", false, "List recent connection attempts")
	reapEngines   = flag.Bool("reap", false, "Kill stray engine processes")
)

// historyLimit is the number of attempts listed by --history.
const historyLimit = 20

func main() {
	flag.Parse()

	// Handle help flag
	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	if !*disconnectVPN && !*showStatus && !*showHistory && !*reapEngines && *connectCred == "" {
		cli.PrintHelp()
		os.Exit(2)
	}

	// Initialize logger with file output. The console stays quiet while the
	// interactive progress display owns the terminal.
	logLevel := common.LevelInfo
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		Quiet:       !*verbose && (*connectCred == "" || cli.Interactive()),
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	if err := runCLI(ctx, cli.New(cfg)); err != nil {
		common.LogError("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configFile != "" {
		return config.LoadFile(*configFile)
	}
	return config.Load()
}

// runCLI dispatches the selected command.
func runCLI(ctx context.Context, cliApp *cli.CLI) error {
	// Check if context is already cancelled before proceeding
	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return nil
	default:
	}

	switch {
	case *connectCred != "":
		if err := common.CheckPrivileges(); err != nil {
			return err
		}
		common.LogInfo("Starting %s v%s", common.AppName, appVersion)
		return cliApp.Connect(ctx, *connectCred)
	case *disconnectVPN:
		if err := common.CheckPrivileges(); err != nil && !errors.Is(err, common.ErrUnsupportedPlatform) {
			return err
		}
		return cliApp.Disconnect(ctx)
	case *reapEngines:
		return cliApp.Reap(ctx)
	case *showStatus:
		return cliApp.Status(ctx)
	case *showHistory:
		return cliApp.History(ctx, historyLimit)
	}
	return nil
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context so an active session
// is torn down before exit.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
