package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatSeconds renders an offset the way timestamped text columns expect: "12.5s"
func FormatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 1, 64) + "s"
}

// SecondsToDuration converts float seconds into a time.Duration
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30/1")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
