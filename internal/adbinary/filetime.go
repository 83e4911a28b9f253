package adbinary

import (
	"strconv"
	"strings"
	"time"
)

// UnsetTime is returned for file times that are zero, negative, or outside
// the representable calendar range.
var UnsetTime = time.Time{}

const (
	// fileTimeEpochOffset is the number of 100ns ticks between 1601-01-01 and 1970-01-01.
	fileTimeEpochOffset int64 = 116444736000000000

	// maxFileTime is 9999-12-31T23:59:59.9999999Z, the largest file time Windows converts.
	maxFileTime int64 = 2650467743999999999

	ticksPerSecond int64 = 10_000_000
)

// FileTimeToTime converts a Windows file time (100ns ticks since 1601) to UTC.
func FileTimeToTime(ticks int64) time.Time {
	if ticks <= 0 || ticks > maxFileTime {
		return UnsetTime
	}

	unixTicks := ticks - fileTimeEpochOffset
	sec := unixTicks / ticksPerSecond
	nsec := (unixTicks % ticksPerSecond) * 100
	if nsec < 0 {
		sec--
		nsec += 1_000_000_000
	}
	return time.Unix(sec, nsec).UTC()
}

// ParseFileTime parses a decimal file time as stored in integer8 attributes
// such as pwdLastSet. Anything unparsable yields UnsetTime.
func ParseFileTime(s string) time.Time {
	ticks, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return UnsetTime
	}
	return FileTimeToTime(ticks)
}

// TimeToFileTime converts t to a Windows file time. UnsetTime maps to 0.
func TimeToFileTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + fileTimeEpochOffset
}

// secondsToFileTime scales a DSTIME (seconds since 1601) to ticks and
// converts it. Values that would overflow map to UnsetTime.
func secondsToFileTime(seconds int64) time.Time {
	if seconds <= 0 || seconds > maxFileTime/ticksPerSecond {
		return UnsetTime
	}
	return FileTimeToTime(seconds * ticksPerSecond)
}
