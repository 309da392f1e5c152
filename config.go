package main

// Run configuration.
//
// Values are layered: built-in defaults, then HEATMAP_* env vars, then an
// optional YAML file (-config), then flags given on the command line.

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPath  = "/sys/kernel/debug/heatmap/data"
	defaultRate  = 10
	defaultWidth = 16
)

// HeatmapConfig is the acquisition configuration for one run. Backends read
// it; Bounds is mutated in place when auto-ranging.
type HeatmapConfig struct {
	Path   string // file or debugfs data path
	Device string // capture device node; wins over Path when set
	Input  int    // capture input index
	Width  int
	Rate   int // Hz, 0 = no delay
	Bounds Bounds

	Gray   bool
	Values bool

	Debug   bool
	LogFile string

	MirrorURL                string
	MirrorPingSeconds        float64
	MirrorPongTimeoutSeconds float64
}

// options holds unvalidated values before they become a HeatmapConfig.
type options struct {
	Path     string
	Device   string
	Input    int
	Width    int
	WidthSet bool
	Rate     int
	Min      string
	Max      string
	Gray     bool
	Values   bool
	Debug    bool
	LogFile  string

	MirrorURL                string
	MirrorPingSeconds        float64
	MirrorPongTimeoutSeconds float64
}

func defaultOptions() options {
	o := options{
		Path:    getenvDefault("HEATMAP_PATH", defaultPath),
		Device:  getenvDefault("HEATMAP_DEVICE", ""),
		Input:   getenvIntDefault("HEATMAP_INPUT", 0),
		Width:   getenvIntDefault("HEATMAP_WIDTH", defaultWidth),
		Rate:    getenvIntDefault("HEATMAP_RATE", defaultRate),
		Min:     getenvDefault("HEATMAP_MIN", boundAuto),
		Max:     getenvDefault("HEATMAP_MAX", boundAuto),
		Gray:    getenvBoolDefault("HEATMAP_GRAY", false),
		Values:  getenvBoolDefault("HEATMAP_VALUES", false),
		Debug:   getenvBoolDefault("HEATMAP_DEBUG", false),
		LogFile: os.Getenv("HEATMAP_LOG"),

		MirrorURL:                os.Getenv("HEATMAP_MIRROR"),
		MirrorPingSeconds:        getenvFloatDefault("HEATMAP_MIRROR_PING_SECONDS", 2),
		MirrorPongTimeoutSeconds: getenvFloatDefault("HEATMAP_MIRROR_PONG_TIMEOUT_SECONDS", 8),
	}
	o.WidthSet = os.Getenv("HEATMAP_WIDTH") != ""
	return o
}

// config validates o and resolves it into a HeatmapConfig. A Path naming a
// debugfs heatmap directory is replaced by its data file, and the directory's
// width is used unless a width was given explicitly.
func (o options) config() (*HeatmapConfig, error) {
	if o.Rate < 0 {
		return nil, fmt.Errorf("rate should be an unsigned integer, not %d", o.Rate)
	}
	min, autoMin, err := parseBound(o.Min)
	if err != nil {
		return nil, err
	}
	max, autoMax, err := parseBound(o.Max)
	if err != nil {
		return nil, err
	}
	if !autoMin && !autoMax && min >= max {
		return nil, fmt.Errorf("min (%d) must be below max (%d)", min, max)
	}

	cfg := &HeatmapConfig{
		Path:   o.Path,
		Device: o.Device,
		Input:  o.Input,
		Width:  o.Width,
		Rate:   o.Rate,
		Bounds: NewBounds(min, max, autoMin, autoMax),
		Gray:   o.Gray,
		Values: o.Values,
		Debug:  o.Debug,

		LogFile:                  o.LogFile,
		MirrorURL:                o.MirrorURL,
		MirrorPingSeconds:        o.MirrorPingSeconds,
		MirrorPongTimeoutSeconds: o.MirrorPongTimeoutSeconds,
	}

	if cfg.Device == "" {
		if cfg.Path == "" {
			return nil, errors.New("no data path")
		}
		if meta, ok := readDebugfsDir(cfg.Path); ok {
			cfg.Path = meta.DataPath
			if !o.WidthSet && meta.Width > 0 {
				cfg.Width = meta.Width
			}
		}
		// Capture sessions take the width from the negotiated format.
		if cfg.Width <= 0 {
			return nil, fmt.Errorf("width should be a positive integer, not %d", cfg.Width)
		}
	} else if cfg.Input < 0 {
		return nil, fmt.Errorf("input should be a non-negative integer, not %d", cfg.Input)
	}
	return cfg, nil
}

// boundSetting accepts both `min: auto` and `min: -120` in YAML.
type boundSetting string

func (b *boundSetting) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: min/max must be a scalar", n.Line)
	}
	*b = boundSetting(n.Value)
	return nil
}

// fileConfig mirrors options for the YAML file. Nil fields are unset.
type fileConfig struct {
	Path   *string       `yaml:"path"`
	Device *string       `yaml:"device"`
	Input  *int          `yaml:"input"`
	Width  *int          `yaml:"width"`
	Rate   *int          `yaml:"rate"`
	Min    *boundSetting `yaml:"min"`
	Max    *boundSetting `yaml:"max"`
	Gray   *bool         `yaml:"gray"`
	Values *bool         `yaml:"values"`
	Debug  *bool         `yaml:"debug"`
	Log    *string       `yaml:"log"`

	Mirror struct {
		URL                *string  `yaml:"url"`
		PingSeconds        *float64 `yaml:"ping_seconds"`
		PongTimeoutSeconds *float64 `yaml:"pong_timeout_seconds"`
	} `yaml:"mirror"`
}

func loadConfigFile(filename string) (*fileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &fc, nil
}

// applyTo copies every set field into o, skipping the flag names in explicit.
func (fc *fileConfig) applyTo(o *options, explicit map[string]bool) {
	setString := func(name string, dst *string, v *string) {
		if v != nil && !explicit[name] {
			*dst = *v
		}
	}
	setInt := func(name string, dst *int, v *int) {
		if v != nil && !explicit[name] {
			*dst = *v
		}
	}
	setBool := func(name string, dst *bool, v *bool) {
		if v != nil && !explicit[name] {
			*dst = *v
		}
	}
	setFloat := func(name string, dst *float64, v *float64) {
		if v != nil && !explicit[name] {
			*dst = *v
		}
	}

	setString("path", &o.Path, fc.Path)
	setString("device", &o.Device, fc.Device)
	setInt("input", &o.Input, fc.Input)
	if fc.Width != nil && !explicit["width"] {
		o.Width = *fc.Width
		o.WidthSet = true
	}
	setInt("rate", &o.Rate, fc.Rate)
	if fc.Min != nil && !explicit["min"] {
		o.Min = string(*fc.Min)
	}
	if fc.Max != nil && !explicit["max"] {
		o.Max = string(*fc.Max)
	}
	setBool("gray", &o.Gray, fc.Gray)
	setBool("values", &o.Values, fc.Values)
	setBool("debug", &o.Debug, fc.Debug)
	setString("log", &o.LogFile, fc.Log)
	setString("mirror", &o.MirrorURL, fc.Mirror.URL)
	setFloat("mirror-ping-seconds", &o.MirrorPingSeconds, fc.Mirror.PingSeconds)
	setFloat("mirror-pong-timeout-seconds", &o.MirrorPongTimeoutSeconds, fc.Mirror.PongTimeoutSeconds)
}
