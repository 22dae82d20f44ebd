package domain

import "time"

// Stats is an advisory snapshot of the user table.
type Stats struct {
	Total    int64
	Verified int64
	At       time.Time
}

// Pending returns users that have not passed verification yet.
func (s Stats) Pending() int64 {
	if s.Verified >= s.Total {
		return 0
	}
	return s.Total - s.Verified
}
