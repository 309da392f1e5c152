package main

// Touchscreen heatmap viewer entrypoint.
//
// This directory builds a single binary that:
// - polls a debugfs heatmap file or a V4L2 touch capture device
// - auto-ranges the samples (unless -min/-max are fixed)
// - draws them as a colored or grayscale grid in the terminal
// - optionally mirrors every frame to a WebSocket viewer
//
// Code is split across:
// - util.go, config.go: env/flag/YAML configuration
// - retrieve.go: file-stream source + growable frame buffer
// - v4l2.go, capture.go: V4L2 ioctls + capture session
// - autorange.go, source.go: bounds tracking and the per-tick source
// - display.go: tcell renderer
// - mirror.go: websocket frame mirror
// - heatmap.go: run loop

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.3.0"

func main() {
	o := defaultOptions()

	configPath := flag.String("config", os.Getenv("HEATMAP_CONFIG"), "YAML config file. Flags given on the command line win over it.")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.StringVar(&o.Path, "path", o.Path, "Path to the heatmap data file, or to a debugfs heatmap directory holding data/width/height")
	flag.StringVar(&o.Device, "device", o.Device, "V4L2 touch capture device (e.g. /dev/v4l-touch0). Overrides -path.")
	flag.IntVar(&o.Input, "input", o.Input, "Capture device input index")
	flag.IntVar(&o.Rate, "rate", o.Rate, "Refresh rate in Hz (0 = as fast as possible)")
	flag.IntVar(&o.Width, "width", o.Width, "Touchscreen width in samples (file source only)")
	flag.StringVar(&o.Min, "min", o.Min, "Minimum heatmap value, or auto")
	flag.StringVar(&o.Max, "max", o.Max, "Maximum heatmap value, or auto")
	flag.BoolVar(&o.Values, "values", o.Values, "Display heatmap values")
	flag.BoolVar(&o.Gray, "gray", o.Gray, "Use grayscale")
	flag.BoolVar(&o.Debug, "debug", o.Debug, "Debug logging")
	flag.StringVar(&o.LogFile, "log", o.LogFile, "Write logs to this file instead of stderr")
	flag.StringVar(&o.MirrorURL, "mirror", o.MirrorURL, "Mirror frames to this WebSocket URL (e.g. ws://host:8000/ws/heatmap)")
	flag.Float64Var(&o.MirrorPingSeconds, "mirror-ping-seconds", o.MirrorPingSeconds, "Mirror WebSocket ping interval (seconds)")
	flag.Float64Var(&o.MirrorPongTimeoutSeconds, "mirror-pong-timeout-seconds", o.MirrorPongTimeoutSeconds, "Drop the mirror if no pong is received in this window")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["width"] {
		o.WidthSet = true
	}

	if *configPath != "" {
		fc, err := loadConfigFile(*configPath)
		if err != nil {
			fatal(err)
		}
		fc.applyTo(&o, explicit)
	}

	cfg, err := o.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.Debug, cfg.LogFile)
	if err != nil {
		fatal(err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := RunHeatmap(ctx, cfg, log); err != nil {
		log.Error("heatmap: exiting", "error", err)
		closeLog()
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(1)
}

// newLogger logs to file when given (the screen owns the tty), else stderr.
func newLogger(debug bool, file string) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}
