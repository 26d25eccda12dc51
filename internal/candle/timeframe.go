package candle

import (
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"marketstream/pkg/exception"
)

// Timeframe is a bucket width in milliseconds.
type Timeframe int64

const (
	Second1  Timeframe = 1_000
	Minute1  Timeframe = 60 * Second1
	Minute5  Timeframe = 5 * Minute1
	Minute15 Timeframe = 15 * Minute1
	Hour1    Timeframe = 60 * Minute1
	Day1     Timeframe = 24 * Hour1
)

func (tf Timeframe) Millis() int64 { return int64(tf) }

func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) * time.Millisecond }

func (tf Timeframe) String() string {
	switch {
	case tf <= 0:
		return "0s"
	case tf%Day1 == 0:
		return strconv.FormatInt(int64(tf/Day1), 10) + "d"
	case tf%Hour1 == 0:
		return strconv.FormatInt(int64(tf/Hour1), 10) + "h"
	case tf%Minute1 == 0:
		return strconv.FormatInt(int64(tf/Minute1), 10) + "m"
	case tf%Second1 == 0:
		return strconv.FormatInt(int64(tf/Second1), 10) + "s"
	default:
		return strconv.FormatInt(int64(tf), 10) + "ms"
	}
}

// ParseTimeframe parses forms like "1s", "1m", "15m", "1h", "1d".
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "timeframe %q", s)
	}

	unit := Timeframe(0)
	numEnd := len(s) - 1
	switch {
	case strings.HasSuffix(s, "ms"):
		unit, numEnd = 1, len(s)-2
	case s[len(s)-1] == 's':
		unit = Second1
	case s[len(s)-1] == 'm':
		unit = Minute1
	case s[len(s)-1] == 'h':
		unit = Hour1
	case s[len(s)-1] == 'd':
		unit = Day1
	default:
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "timeframe unit %q", s)
	}

	n, err := strconv.ParseInt(s[:numEnd], 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "timeframe value %q", s)
	}
	return Timeframe(n) * unit, nil
}
