package calendar

import (
	"time"

	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

type holidayRule struct {
	name string
	date func(year int) time.Time
}

// usHolidays are the recurring US holidays that raise downtown parking demand.
var usHolidays = []holidayRule{
	{"New Year's Day", fixedDate(time.January, 1)},
	{"Memorial Day", lastWeekday(time.May, time.Monday)},
	{"Independence Day", fixedDate(time.July, 4)},
	{"Labor Day", firstWeekday(time.September, time.Monday)},
	{"New Year's Eve", fixedDate(time.December, 31)},
}

func fixedDate(month time.Month, day int) func(int) time.Time {
	return func(year int) time.Time {
		return models.Date(year, month, day)
	}
}

func firstWeekday(month time.Month, wd time.Weekday) func(int) time.Time {
	return func(year int) time.Time {
		d := models.Date(year, month, 1)
		return d.AddDate(0, 0, (int(wd)-int(d.Weekday())+7)%7)
	}
}

func lastWeekday(month time.Month, wd time.Weekday) func(int) time.Time {
	return func(year int) time.Time {
		d := models.Date(year, month+1, 0)
		return d.AddDate(0, 0, -((int(d.Weekday()) - int(wd) + 7) % 7))
	}
}

// Holidays returns one-day Holiday events for every US holiday between from
// and to inclusive, in date order.
func Holidays(from, to time.Time) []models.Event {
	from, to = models.Day(from), models.Day(to)
	var out []models.Event
	for year := from.Year(); year <= to.Year(); year++ {
		for _, rule := range usHolidays {
			d := rule.date(year)
			if d.Before(from) || d.After(to) {
				continue
			}
			out = append(out, models.Event{Name: rule.name, Category: models.Holiday, Start: d, End: d})
		}
	}
	return out
}

// WithHolidays returns a calendar holding c's events plus generated US
// holidays between from and to. Dates that already carry a Holiday event
// are left alone.
func (c *Calendar) WithHolidays(from, to time.Time) (*Calendar, error) {
	events := c.Events()
	added := 0
	for _, h := range Holidays(from, to) {
		if c.CoveredBy(h.Start, models.Holiday) {
			continue
		}
		events = append(events, h)
		added++
	}
	logger.Debug("Added %d generated holidays between %s and %s",
		added, models.Day(from).Format(models.DateLayout), models.Day(to).Format(models.DateLayout))
	return New(events)
}
