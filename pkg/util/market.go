package util

import "time"

// IST is India Standard Time. India observes no daylight saving.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Session describes a weekday trading session in a fixed location.
type Session struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
}

// NSESession is the regular NSE equity session, 09:15 to 15:30 IST.
func NSESession() Session {
	return Session{Location: IST, Open: 9*time.Hour + 15*time.Minute, Close: 15*time.Hour + 30*time.Minute}
}

func (s Session) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// IsOpen reports whether t falls inside the session on a weekday.
func (s Session) IsOpen(t time.Time) bool {
	lt := t.In(s.loc())
	if lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday {
		return false
	}
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc())
	off := lt.Sub(midnight)
	return off >= s.Open && off <= s.Close
}

// NextOpen returns the next session open strictly after t.
func (s Session) NextOpen(t time.Time) time.Time {
	lt := t.In(s.loc())
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc())
	for i := 0; i < 8; i++ {
		open := day.AddDate(0, 0, i).Add(s.Open)
		wd := open.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if open.After(t) {
			return open
		}
	}
	return day.AddDate(0, 0, 8).Add(s.Open)
}

// FormatIST renders t the way scan reports show it, e.g. "02 Jan 2006, 03:04 PM IST".
func FormatIST(t time.Time) string {
	return t.In(IST).Format("02 Jan 2006, 03:04 PM") + " IST"
}
