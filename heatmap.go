package main

// Heatmap run loop.
//
// One tick = sleep for the rate interval, acquire one frame, render it, then
// mirror it. Acquisition and rendering never overlap, which is what lets the
// capture backend reuse its single mmapped buffer every tick.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// maxMisses is how many consecutive empty ticks are tolerated; the next one
// is fatal.
const maxMisses = 6

var errEmptyFrame = errors.New("empty frame")

type frameRenderer interface {
	Draw(f Frame, b Bounds)
	Resize()
}

type framePublisher interface {
	Publish(ctx context.Context, f Frame, b Bounds)
}

type heatmapLoop struct {
	cfg     *HeatmapConfig
	src     FrameSource
	render  frameRenderer
	mirror  framePublisher // optional
	resized *atomic.Bool
	log     *slog.Logger
}

// run ticks until ctx is cancelled (returns nil) or acquisition keeps
// failing (returns the last error).
func (l *heatmapLoop) run(ctx context.Context) error {
	interval := rateInterval(l.cfg.Rate)
	misses := 0
	frames := 0
	statsTick := time.Now()

	for {
		if !sleepCtx(ctx, interval) {
			return nil
		}

		frame, err := l.src.NextFrame()
		if err == nil && len(frame.Samples) == 0 {
			err = errEmptyFrame
		}
		if err != nil {
			misses++
			l.log.Debug("heatmap: no frame this tick", "misses", misses, "error", err)
			if misses > maxMisses {
				return fmt.Errorf("unable to retrieve data: %w", err)
			}
			continue
		}
		misses = 0
		frames++

		if l.resized.Swap(false) {
			l.render.Resize()
		}
		l.render.Draw(frame, l.cfg.Bounds)
		if l.mirror != nil {
			l.mirror.Publish(ctx, frame, l.cfg.Bounds)
		}

		if time.Since(statsTick) > 5*time.Second {
			statsTick = time.Now()
			l.log.Debug("heatmap: stats", "frames", frames, "samples", len(frame.Samples), "rows", frame.Rows(), "bounds", l.cfg.Bounds.String())
		}
	}
}

// sleepCtx waits d, returning false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunHeatmap opens the configured source, takes over the terminal and runs
// until ctx is cancelled, the user quits, or acquisition fails for good. The
// terminal is restored before it returns.
func RunHeatmap(ctx context.Context, cfg *HeatmapConfig, log *slog.Logger) error {
	src, err := openSource(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("heatmap: source close failed", "error", err)
		}
	}()

	screen, err := newTerminalScreen()
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	render, err := newRenderer(screen, cfg.Gray, cfg.Values)
	if err != nil {
		screen.Fini()
		return err
	}
	defer render.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	var resized atomic.Bool
	go watchEvents(screen, stop, &resized)

	l := &heatmapLoop{
		cfg:     cfg,
		src:     src,
		render:  render,
		resized: &resized,
		log:     log,
	}
	if cfg.MirrorURL != "" {
		m := newFrameMirror(cfg.MirrorURL, cfg.MirrorPingSeconds, cfg.MirrorPongTimeoutSeconds, log)
		defer m.Close()
		l.mirror = m
	}

	log.Info("heatmap: running", "rate", cfg.Rate, "width", cfg.Width, "bounds", cfg.Bounds.String())
	return l.run(ctx)
}
