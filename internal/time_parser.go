// internal/time_parser.go
// ------------------------
// This internal package provides helper functions for parsing the time hints providers attach
// to throttled responses and for rounding durations the way the gateway reports them.
//
// Functions:
// - ParseTimeStr: Convert strings like "1s", "6m0s" into a duration.
// - ParseRetryAfter: Interpret a Retry-After header (delta-seconds or HTTP-date).
// - CeilSeconds: Round a duration up to whole seconds.
package internal

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseTimeStr converts strings like "1s", "6m0s" into a duration.
// OpenAI reports its x-ratelimit-reset-* headers in this form.
func ParseTimeStr(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if strings.HasSuffix(s, "s") && !strings.Contains(s, "m") {
		val := strings.TrimSuffix(s, "s")
		sec, err := strconv.ParseFloat(val, 64)
		if err == nil && sec > 0 {
			return time.Duration(sec * float64(time.Second))
		}
		return 0
	}

	var minutes, seconds int
	n, err := fmt.Sscanf(s, "%dm%ds", &minutes, &seconds)
	if n == 2 && err == nil {
		return time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	}

	return 0
}

// ParseRetryAfter interprets a Retry-After header value relative to now.
// Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil {
		if sec <= 0 {
			return 0
		}
		return time.Duration(sec) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// CeilSeconds rounds d up to whole seconds. Non-positive durations yield zero.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
