package sqlq

import "time"

func unixNanoUTC(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
