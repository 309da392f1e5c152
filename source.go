package main

// Frame sources: the two acquisition backends behind one per-tick call.

import "log/slog"

// FrameSource yields one frame per tick. A failed tick returns an empty
// frame and the error; the driving loop decides when misses become fatal.
type FrameSource interface {
	NextFrame() (Frame, error)
	Close() error
}

// fileSource polls a data file. It owns the growable buffer's remembered
// capacity for the run.
type fileSource struct {
	cfg *HeatmapConfig
	buf FrameBuffer
}

func newFileSource(cfg *HeatmapConfig) *fileSource {
	return &fileSource{cfg: cfg}
}

func (s *fileSource) NextFrame() (Frame, error) {
	return Retrieve(s.cfg, &s.buf)
}

func (s *fileSource) Close() error { return nil }

// frameSession is the part of a CaptureSession a captureSource drives.
type frameSession interface {
	GetFrame() (int, error)
	Value(i int) int
	Width() int
	Close() error
}

// captureSource copies each dequeued buffer out of the device mapping and
// does the auto-ranging the session itself leaves to its caller.
type captureSource struct {
	cfg     *HeatmapConfig
	session frameSession
}

func newCaptureSource(cfg *HeatmapConfig, log *slog.Logger) (*captureSource, error) {
	session, err := OpenCapture(cfg.Device, cfg.Input, log)
	if err != nil {
		return nil, err
	}
	if w := session.Width(); w > 0 {
		cfg.Width = w
	}
	return &captureSource{cfg: cfg, session: session}, nil
}

func (s *captureSource) NextFrame() (Frame, error) {
	n, err := s.session.GetFrame()
	if err != nil {
		return Frame{}, err
	}
	samples := make([]int, n)
	for i := range samples {
		v := s.session.Value(i)
		samples[i] = v
		s.cfg.Bounds.Observe(v)
	}
	return Frame{Samples: samples, Width: s.cfg.Width}, nil
}

func (s *captureSource) Close() error {
	return s.session.Close()
}

func openSource(cfg *HeatmapConfig, log *slog.Logger) (FrameSource, error) {
	if cfg.Device != "" {
		src, err := newCaptureSource(cfg, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	log.Info("source: polling data file", "path", cfg.Path, "width", cfg.Width)
	return newFileSource(cfg), nil
}
