package navsensor

import (
	"math"
	"time"
)

// LeapSeconds is the GPS-UTC offset in effect since 2017-01-01.
const LeapSeconds = 18

var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// GPSToUTC converts a GPS week and time of week (seconds) into UTC.
func GPSToUTC(week uint16, tow float64) time.Time {
	whole, frac := math.Modf(tow)
	d := time.Duration(week)*7*24*time.Hour +
		time.Duration(whole)*time.Second +
		time.Duration(math.Round(frac*1e9)) -
		LeapSeconds*time.Second
	return gpsEpoch.Add(d)
}
