// Package calendar derives holiday and cyclical date features from a time
// column.
package calendar

import (
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/ridecast/pkg/frame"
)

// HolidayFunc reports whether the calendar day of t is a holiday.
type HolidayFunc func(t time.Time) bool

// NoHolidays is a HolidayFunc that never reports a holiday.
func NoHolidays(time.Time) bool { return false }

// Count windows for hc_in_last_{k}_days and hc_in_next_{k}_days.
const (
	minCountWindow = 2
	maxCountWindow = 7
)

// FeatureNames lists the columns added by AddFeatures, in order.
func FeatureNames() []string {
	names := []string{"hour_sin", "hour_cos", "minute_sin", "minute_cos", "is_holiday"}
	for k := maxCountWindow; k >= minCountWindow; k-- {
		names = append(names, fmt.Sprintf("hc_in_last_%d_days", k))
	}
	for k := maxCountWindow; k >= minCountWindow; k-- {
		names = append(names, fmt.Sprintf("hc_in_next_%d_days", k))
	}
	return append(names,
		"month_sin", "month_cos",
		"dow_sin", "dow_cos",
		"dom_sin", "dom_cos",
		"woy_sin", "woy_cos",
		"doy_sin", "doy_cos",
		"is_weekend",
	)
}

// dayInfo holds the calendar attributes of one civil day.
type dayInfo struct {
	isoYear     int
	isoWeek     int
	yearDay     int
	month       int
	isoWeekday  int
	monthDay    int
	monthDays   int
	yearWeeks   int
	yearDays    int
	holiday     bool
	countsLast  [maxCountWindow + 1]int
	countsNext  [maxCountWindow + 1]int
	featureVals []float32
}

// AddFeatures appends hour/minute encodings computed per row and the day
// level features of FeatureNames joined by calendar day of the time column
// (in each timestamp's own location).
//
// Holiday counts cover k consecutive calendar days ending (last) or
// starting (next) at the row's day, current day included, whether or not
// those days appear in the table.
func AddFeatures(t *frame.Table, timeCol string, isHoliday HolidayFunc) (*frame.Table, error) {
	if isHoliday == nil {
		isHoliday = NoHolidays
	}
	times, err := t.TimeColumn(timeCol)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	flags := make(map[civil]bool)
	holiday := func(d time.Time) bool {
		c := civilOf(d)
		v, ok := flags[c]
		if !ok {
			v = isHoliday(d)
			flags[c] = v
		}
		return v
	}

	days := make(map[civil]*dayInfo)
	perRow := make([]*dayInfo, len(times))
	for i, ts := range times {
		c := civilOf(ts)
		info, ok := days[c]
		if !ok {
			info = describeDay(time.Date(c.y, c.m, c.d, 0, 0, 0, 0, time.UTC), holiday)
			days[c] = info
		}
		perRow[i] = info
	}

	names := FeatureNames()
	n := len(times)
	out := make([][]float32, len(names))
	for j := range out {
		out[j] = make([]float32, n)
	}
	for i, ts := range times {
		hour := float64(ts.Hour())
		minute := float64(ts.Minute())
		out[0][i] = sin(hour, 24)
		out[1][i] = cos(hour, 24)
		out[2][i] = sin(minute, 60)
		out[3][i] = cos(minute, 60)
		for j, v := range perRow[i].featureVals {
			out[4+j][i] = v
		}
	}

	cols := make([]*frame.Column, len(names))
	for j, name := range names {
		cols[j] = frame.NewFloat(name, out[j], nil)
	}
	return t.With(cols...)
}

func describeDay(day time.Time, holiday func(time.Time) bool) *dayInfo {
	info := &dayInfo{
		yearDay:   day.YearDay(),
		month:     int(day.Month()),
		monthDay:  day.Day(),
		monthDays: time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day(),
		yearDays:  time.Date(day.Year(), time.December, 31, 0, 0, 0, 0, time.UTC).YearDay(),
		holiday:   holiday(day),
	}
	info.isoYear, info.isoWeek = day.ISOWeek()
	_, info.yearWeeks = time.Date(info.isoYear, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	info.isoWeekday = int(day.Weekday())
	if info.isoWeekday == 0 {
		info.isoWeekday = 7
	}

	last, next := 0, 0
	for k := 1; k <= maxCountWindow; k++ {
		if holiday(day.AddDate(0, 0, -(k - 1))) {
			last++
		}
		if holiday(day.AddDate(0, 0, k-1)) {
			next++
		}
		info.countsLast[k] = last
		info.countsNext[k] = next
	}

	vals := []float32{boolf(info.holiday)}
	for k := maxCountWindow; k >= minCountWindow; k-- {
		vals = append(vals, float32(info.countsLast[k]))
	}
	for k := maxCountWindow; k >= minCountWindow; k-- {
		vals = append(vals, float32(info.countsNext[k]))
	}
	vals = append(vals,
		sin(float64(info.month), 12), cos(float64(info.month), 12),
		sin(float64(info.isoWeekday), 7), cos(float64(info.isoWeekday), 7),
		sin(float64(info.monthDay), float64(info.monthDays)), cos(float64(info.monthDay), float64(info.monthDays)),
		sin(float64(info.isoWeek), float64(info.yearWeeks)), cos(float64(info.isoWeek), float64(info.yearWeeks)),
		sin(float64(info.yearDay), float64(info.yearDays)), cos(float64(info.yearDay), float64(info.yearDays)),
		boolf(info.isoWeekday >= 6),
	)
	info.featureVals = vals
	return info
}

func sin(v, period float64) float32 { return float32(math.Sin(2 * math.Pi * v / period)) }
func cos(v, period float64) float32 { return float32(math.Cos(2 * math.Pi * v / period)) }

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
