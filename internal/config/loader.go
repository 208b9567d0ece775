package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const sectionName = "Macro"

// Settings is the macro configuration read from Settings.ini
type Settings struct {
	// Window locator
	TargetNames       []string
	BoundsCacheMS     int
	FallbackWarnSec   int
	LocatorRetries    int
	LocatorRetryDelay int // Milliseconds

	// Image search
	DisplayIndex     int
	CaptureAttempts  int
	CaptureDelayMS   int
	PollIntervalMS   int
	DefaultVariation int
	AssetDir         string
	WatchAssets      bool // Reload the catalog when asset files change

	// Calibration
	CalibrationNeedle    string // Empty uses the zero strategy
	CalibrationExpectedY int
	CalibrationBand      int
	CalibrationVariation int

	// Session loop
	LoopIntervalMS     int
	MissingWindowSec   int
	HeartbeatSec       int
	HeartbeatStallBeat int
	StartRoutine       string

	// Storage and logging
	JournalPath    string
	LogDir         string
	LogLevel       string
	LoggingEnabled bool
	SingleInstance bool
}

// NewDefaultSettings creates settings with default values
func NewDefaultSettings() *Settings {
	return &Settings{
		TargetNames:       []string{"RobloxPlayerBeta", "RobloxPlayer", "Roblox"},
		BoundsCacheMS:     2000,
		FallbackWarnSec:   30,
		LocatorRetries:    2,
		LocatorRetryDelay: 50,

		DisplayIndex:     0,
		CaptureAttempts:  2,
		CaptureDelayMS:   50,
		PollIntervalMS:   500,
		DefaultVariation: 0,
		AssetDir:         "assets",
		WatchAssets:      false,

		CalibrationBand:      100,
		CalibrationVariation: 10,

		LoopIntervalMS:     1000,
		MissingWindowSec:   5,
		HeartbeatSec:       10,
		HeartbeatStallBeat: 3,

		JournalPath:    "data/journal.db",
		LogDir:         "logs",
		LogLevel:       "INFO",
		LoggingEnabled: true,
		SingleInstance: true,
	}
}

// LoadFromINI loads settings from a Settings.ini file. Missing keys keep
// their defaults.
func LoadFromINI(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	d := NewDefaultSettings()
	section := cfg.Section(sectionName)

	s := &Settings{}

	// Window locator
	s.TargetNames = splitList(section.Key("targetNames").MustString(strings.Join(d.TargetNames, ",")))
	s.BoundsCacheMS = section.Key("boundsCacheMs").MustInt(d.BoundsCacheMS)
	s.FallbackWarnSec = section.Key("fallbackWarnSec").MustInt(d.FallbackWarnSec)
	s.LocatorRetries = section.Key("locatorRetries").MustInt(d.LocatorRetries)
	s.LocatorRetryDelay = section.Key("locatorRetryDelayMs").MustInt(d.LocatorRetryDelay)

	// Image search
	s.DisplayIndex = section.Key("displayIndex").MustInt(d.DisplayIndex)
	s.CaptureAttempts = section.Key("captureAttempts").MustInt(d.CaptureAttempts)
	s.CaptureDelayMS = section.Key("captureDelayMs").MustInt(d.CaptureDelayMS)
	s.PollIntervalMS = section.Key("pollIntervalMs").MustInt(d.PollIntervalMS)
	s.DefaultVariation = section.Key("defaultVariation").MustInt(d.DefaultVariation)
	s.AssetDir = section.Key("assetDir").MustString(d.AssetDir)
	s.WatchAssets = section.Key("watchAssets").MustBool(d.WatchAssets)

	// Calibration
	s.CalibrationNeedle = section.Key("calibrationNeedle").MustString(d.CalibrationNeedle)
	s.CalibrationExpectedY = section.Key("calibrationExpectedY").MustInt(d.CalibrationExpectedY)
	s.CalibrationBand = section.Key("calibrationBand").MustInt(d.CalibrationBand)
	s.CalibrationVariation = section.Key("calibrationVariation").MustInt(d.CalibrationVariation)

	// Session loop
	s.LoopIntervalMS = section.Key("loopIntervalMs").MustInt(d.LoopIntervalMS)
	s.MissingWindowSec = section.Key("missingWindowSec").MustInt(d.MissingWindowSec)
	s.HeartbeatSec = section.Key("heartbeatSec").MustInt(d.HeartbeatSec)
	s.HeartbeatStallBeat = section.Key("heartbeatStallBeats").MustInt(d.HeartbeatStallBeat)
	s.StartRoutine = section.Key("startRoutine").MustString(d.StartRoutine)

	// Storage and logging
	s.JournalPath = section.Key("journalPath").MustString(d.JournalPath)
	s.LogDir = section.Key("logDir").MustString(d.LogDir)
	s.LogLevel = section.Key("logLevel").MustString(d.LogLevel)
	s.LoggingEnabled = section.Key("loggingEnabled").MustBool(d.LoggingEnabled)
	s.SingleInstance = section.Key("singleInstance").MustBool(d.SingleInstance)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges
func (s *Settings) Validate() error {
	if len(s.TargetNames) == 0 {
		return fmt.Errorf("targetNames cannot be empty")
	}
	if s.DefaultVariation < 0 || s.DefaultVariation > 100 {
		return fmt.Errorf("defaultVariation %d outside 0-100", s.DefaultVariation)
	}
	if s.CalibrationVariation < 0 || s.CalibrationVariation > 100 {
		return fmt.Errorf("calibrationVariation %d outside 0-100", s.CalibrationVariation)
	}
	if s.BoundsCacheMS <= 0 {
		return fmt.Errorf("boundsCacheMs must be positive")
	}
	if s.CaptureAttempts < 1 || s.LocatorRetries < 1 {
		return fmt.Errorf("retry counts must be at least 1")
	}
	return nil
}

// Duration helpers

func (s *Settings) BoundsCacheDuration() time.Duration {
	return time.Duration(s.BoundsCacheMS) * time.Millisecond
}

func (s *Settings) FallbackWarnInterval() time.Duration {
	return time.Duration(s.FallbackWarnSec) * time.Second
}

func (s *Settings) LocatorRetryDelayDuration() time.Duration {
	return time.Duration(s.LocatorRetryDelay) * time.Millisecond
}

func (s *Settings) CaptureDelay() time.Duration {
	return time.Duration(s.CaptureDelayMS) * time.Millisecond
}

func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

func (s *Settings) LoopInterval() time.Duration {
	return time.Duration(s.LoopIntervalMS) * time.Millisecond
}

func (s *Settings) MissingWindowDelay() time.Duration {
	return time.Duration(s.MissingWindowSec) * time.Second
}

func (s *Settings) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSec) * time.Second
}

// SaveToINI saves settings to an INI file
func SaveToINI(s *Settings, path string) error {
	cfg := ini.Empty()
	section := cfg.Section(sectionName)

	// Window locator
	section.Key("targetNames").SetValue(strings.Join(s.TargetNames, ","))
	section.Key("boundsCacheMs").SetValue(fmt.Sprintf("%d", s.BoundsCacheMS))
	section.Key("fallbackWarnSec").SetValue(fmt.Sprintf("%d", s.FallbackWarnSec))
	section.Key("locatorRetries").SetValue(fmt.Sprintf("%d", s.LocatorRetries))
	section.Key("locatorRetryDelayMs").SetValue(fmt.Sprintf("%d", s.LocatorRetryDelay))

	// Image search
	section.Key("displayIndex").SetValue(fmt.Sprintf("%d", s.DisplayIndex))
	section.Key("captureAttempts").SetValue(fmt.Sprintf("%d", s.CaptureAttempts))
	section.Key("captureDelayMs").SetValue(fmt.Sprintf("%d", s.CaptureDelayMS))
	section.Key("pollIntervalMs").SetValue(fmt.Sprintf("%d", s.PollIntervalMS))
	section.Key("defaultVariation").SetValue(fmt.Sprintf("%d", s.DefaultVariation))
	section.Key("assetDir").SetValue(s.AssetDir)
	section.Key("watchAssets").SetValue(fmt.Sprintf("%t", s.WatchAssets))

	// Calibration
	section.Key("calibrationNeedle").SetValue(s.CalibrationNeedle)
	section.Key("calibrationExpectedY").SetValue(fmt.Sprintf("%d", s.CalibrationExpectedY))
	section.Key("calibrationBand").SetValue(fmt.Sprintf("%d", s.CalibrationBand))
	section.Key("calibrationVariation").SetValue(fmt.Sprintf("%d", s.CalibrationVariation))

	// Session loop
	section.Key("loopIntervalMs").SetValue(fmt.Sprintf("%d", s.LoopIntervalMS))
	section.Key("missingWindowSec").SetValue(fmt.Sprintf("%d", s.MissingWindowSec))
	section.Key("heartbeatSec").SetValue(fmt.Sprintf("%d", s.HeartbeatSec))
	section.Key("heartbeatStallBeats").SetValue(fmt.Sprintf("%d", s.HeartbeatStallBeat))
	section.Key("startRoutine").SetValue(s.StartRoutine)

	// Storage and logging
	section.Key("journalPath").SetValue(s.JournalPath)
	section.Key("logDir").SetValue(s.LogDir)
	section.Key("logLevel").SetValue(s.LogLevel)
	section.Key("loggingEnabled").SetValue(fmt.Sprintf("%t", s.LoggingEnabled))
	section.Key("singleInstance").SetValue(fmt.Sprintf("%t", s.SingleInstance))

	return cfg.SaveTo(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
