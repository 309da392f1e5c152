package main

// debugfs heatmap source directories.
//
// A touchscreen driver exposing heatmaps through debugfs creates one directory
// per data source, e.g. /sys/kernel/debug/heatmap-<dev>/deltas/, holding:
// - data: the raw int16 sample stream
// - width, height: grid size as decimal text
// - name, input_name, format: free-form labels
//
// Only a directory the user names is read; nothing is scanned.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type debugfsSource struct {
	Dir       string
	DataPath  string
	Name      string
	InputName string
	Format    string
	Width     int
	Height    int
}

func (s debugfsSource) String() string {
	return fmt.Sprintf("name=%q input=%q format=%q size=%dx%d path=%s",
		s.Name, s.InputName, s.Format, s.Width, s.Height, s.DataPath)
}

// readDebugfsDir loads the metadata next to a data file. ok is false when
// dir is not a directory. Missing or unreadable metadata files leave their
// fields zero.
func readDebugfsDir(dir string) (debugfsSource, bool) {
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return debugfsSource{}, false
	}
	s := debugfsSource{
		Dir:       dir,
		DataPath:  filepath.Join(dir, "data"),
		Name:      readFirstLine(dir, "name"),
		InputName: readFirstLine(dir, "input_name"),
		Format:    readFirstLine(dir, "format"),
	}
	s.Width, _ = strconv.Atoi(readFirstLine(dir, "width"))
	s.Height, _ = strconv.Atoi(readFirstLine(dir, "height"))
	return s, true
}

func readFirstLine(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(line)
}
