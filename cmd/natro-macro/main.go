package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"jordanella.com/natro-go/internal/config"
	"jordanella.com/natro-go/internal/events"
	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/macro"
	"jordanella.com/natro-go/internal/window"
)

func main() {
	iniPath := flag.String("config", "Settings.ini", "Path to Settings.ini")
	writeDefaults := flag.Bool("init", false, "Write a default Settings.ini and exit")
	routine := flag.String("routine", "", "Routine to run each loop (overrides startRoutine)")
	replace := flag.Bool("replace", true, "Terminate other running instances")
	flag.Parse()

	if *writeDefaults {
		if err := config.SaveToINI(config.NewDefaultSettings(), *iniPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Wrote default settings to %s\n", *iniPath)
		return
	}

	settings, err := config.LoadFromINI(*iniPath)
	if err != nil {
		log.Printf("Warning: Failed to load config: %v", err)
		settings = config.NewDefaultSettings()
	}
	if *routine != "" {
		settings.StartRoutine = *routine
	}

	closeLog := setupLogging(settings)
	defer closeLog()
	logger := logging.NewLogger("Main")

	if settings.SingleInstance {
		guard := macro.NewInstanceGuard(window.SystemProcesses{})
		if err := guard.Ensure(*replace); err != nil {
			logger.Fatal("Another instance is running", err)
			os.Exit(1)
		}
	}

	bus := events.NewEventBus(100)
	defer bus.Stop()

	if settings.LoggingEnabled {
		eventLog, err := logging.NewEventLogger(bus, settings.LogDir)
		if err != nil {
			logger.Error("Event log disabled", err)
		} else {
			defer eventLog.Close()
		}
	}

	session, err := macro.NewSession(settings, macro.Dependencies{Bus: bus})
	if err != nil {
		logger.Fatal("Failed to start session", err)
		os.Exit(1)
	}
	defer session.Close()

	logger.InfoWithContext("Natro macro starting", map[string]interface{}{
		"targets":   settings.TargetNames,
		"templates": session.Catalog().Count(),
		"routine":   settings.StartRoutine,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil {
		logger.Error("Macro error", err)
		os.Exit(1)
	}
}

// setupLogging points every logger at stdout and natro_macro.log
func setupLogging(settings *config.Settings) func() {
	level, ok := logging.ParseLevel(settings.LogLevel)
	if !ok {
		log.Printf("Warning: unknown log level %q, using INFO", settings.LogLevel)
	}

	if !settings.LoggingEnabled {
		logging.SetDefaults(level, os.Stdout)
		return func() {}
	}

	if err := os.MkdirAll(settings.LogDir, 0755); err != nil {
		log.Printf("Warning: Failed to create log dir: %v", err)
		logging.SetDefaults(level, os.Stdout)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(settings.LogDir, "natro_macro.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Warning: Failed to open log file: %v", err)
		logging.SetDefaults(level, os.Stdout)
		return func() {}
	}

	logging.SetDefaults(level, io.MultiWriter(os.Stdout, f))
	return func() { f.Close() }
}
