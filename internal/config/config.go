package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultMQTTPort = 8883

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// PrinterConfig holds the device connection parameters issued by the
// printer itself (serial number and LAN access code are shown on-device).
type PrinterConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Serial     string `json:"serial"`
	AccessCode string `json:"access_code"`
	DeviceType string `json:"device_type"`
	UseAMS     bool   `json:"use_ams"`
	MaxRetries int    `json:"max_retries"`
}

// PrintDefaults are the per-job option defaults applied to start-print
// commands unless the caller overrides them.
type PrintDefaults struct {
	Timelapse     bool `json:"timelapse"`
	BedLeveling   bool `json:"bed_leveling"`
	FlowCali      bool `json:"flow_cali"`
	VibrationCali bool `json:"vibration_cali"`
	LayerInspect  bool `json:"layer_inspect"`
}

type AppConfig struct {
	Printer PrinterConfig `json:"printer"`
	Print   PrintDefaults `json:"print"`
	Logging LoggingConfig `json:"logging"`
}

func Load(path string) (AppConfig, error) {
	var cfg AppConfig

	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by the host application.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.FillMissingDefaults()
			return cfg, nil
		}
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()
	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Printer.Port <= 0 {
		c.Printer.Port = DefaultMQTTPort
	}
	if c.Printer.DeviceType == "" {
		c.Printer.DeviceType = "P1S"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Printer.Host) == "" {
		return errors.New("printer host is required")
	}
	if strings.TrimSpace(c.Printer.Serial) == "" {
		return errors.New("printer serial is required")
	}
	if strings.TrimSpace(c.Printer.AccessCode) == "" {
		return errors.New("printer access code is required")
	}
	if c.Printer.Port <= 0 || c.Printer.Port > 65535 {
		return fmt.Errorf("invalid printer port: %d", c.Printer.Port)
	}
	return nil
}

// DeviceFileURL builds the device-local URL for a file on the printer's
// storage. X1-series machines mount the card under /mnt/sdcard.
func (c PrinterConfig) DeviceFileURL(file string) string {
	switch strings.ToUpper(c.DeviceType) {
	case "X1", "X1C", "X1E":
		return "file:///mnt/sdcard/" + file
	default:
		return "file:///sdcard/" + file
	}
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
