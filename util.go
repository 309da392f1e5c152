package main

// Small helpers used across the heatmap tool.

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// boundAuto is the min/max flag value that turns on auto-ranging.
const boundAuto = "auto"

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// parseBound parses a -min/-max value. "auto" returns auto=true.
func parseBound(s string) (v int, auto bool, err error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, boundAuto) {
		return 0, true, nil
	}
	v, err = strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid min/max value should be an integer or %q, not %q", boundAuto, s)
	}
	return v, false, nil
}

// rateInterval is the delay between ticks for a rate in Hz. Zero means no delay.
func rateInterval(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out int
	_, err := fmt.Sscanf(v, "%d", &out)
	if err != nil {
		return def
	}
	return out
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var out float64
	_, err := fmt.Sscanf(v, "%f", &out)
	if err != nil {
		return def
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return def
	}
	return out
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "1" || v == "true" || v == "yes" || v == "y" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "n" {
		return false
	}
	return def
}
