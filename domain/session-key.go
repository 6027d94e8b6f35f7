package domain

import "time"

// Trading sessions roll over at 18:00 New York time: everything before the
// cutover belongs to the prior session, everything after to the next day's.
const sessionCutoverHour = 18

var sessionLocation *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	sessionLocation = loc
}

// SessionKey derives the date-based identifier that scopes accumulated
// statistics and persisted snapshots to one trading session.
func SessionKey(now time.Time) string {
	local := now.In(sessionLocation)
	if local.Hour() >= sessionCutoverHour {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format("2006-01-02")
}

// CurrentSessionKey is SessionKey for the wall clock.
func CurrentSessionKey() string {
	return SessionKey(time.Now())
}
