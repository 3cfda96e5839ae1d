package filter

import (
	"fmt"
	"time"
)

// FirstDepartureMode selects how the "time of the first departure to show"
// is computed (§4.10, §3's stopSettingsList entry).
type FirstDepartureMode int

const (
	AtCustomTime FirstDepartureMode = iota
	RelativeToCurrentTime
)

// FirstDepartureConfig is one stop setting's first-departure visibility
// configuration (§3, §4.10).
type FirstDepartureConfig struct {
	Mode       FirstDepartureMode
	CustomTime string // "HH:MM", only meaningful when Mode == AtCustomTime
	OffsetMin  int    // only meaningful when Mode == RelativeToCurrentTime
}

// IsVisible implements §4.10's first-departure formula: a record is
// visible once its predicted departure is no more than 60 seconds before
// the configured first-departure instant, with a 23-hour rollover guess
// for dates the normalizer had to infer.
func (c FirstDepartureConfig) IsVisible(predictedDeparture, now time.Time) bool {
	var first time.Time
	if c.Mode == AtCustomTime {
		hh, mm := parseHHMM(c.CustomTime)
		first = time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	} else {
		first = now
	}

	secs := predictedDeparture.Sub(first).Seconds()
	if c.Mode == RelativeToCurrentTime {
		secs -= float64(c.OffsetMin * 60)
	}
	if -secs/3600 >= 23 {
		secs += 24 * 3600
	}
	return secs > -60
}

func parseHHMM(s string) (int, int) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, 0
	}
	return hh, mm
}
