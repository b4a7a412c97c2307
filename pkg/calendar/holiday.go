package calendar

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
	"gopkg.in/yaml.v3"
)

//go:embed tr_observances.yaml
var trObservances []byte

// Observance is a holiday on explicit dates, for holidays that follow a
// lunar or otherwise non-computable calendar.
type Observance struct {
	Name  string `yaml:"name" validate:"required"`
	Start string `yaml:"start" validate:"required,datetime=2006-01-02"`
	Days  int    `yaml:"days" validate:"min=0"`
}

type observanceFile struct {
	Observances []Observance `yaml:"observances" validate:"dive"`
}

// LoadObservances decodes a YAML document with an "observances" list.
func LoadObservances(r io.Reader) ([]Observance, error) {
	var f observanceFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode observances: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid observances: %w", err)
	}
	return f.Observances, nil
}

var turkey = []*cal.Holiday{
	{Name: "New Year's Day", Month: time.January, Day: 1, Func: cal.CalcDayOfMonth},
	{Name: "National Sovereignty and Children's Day", Month: time.April, Day: 23, Func: cal.CalcDayOfMonth},
	{Name: "Labour and Solidarity Day", Month: time.May, Day: 1, Func: cal.CalcDayOfMonth},
	{Name: "Commemoration of Atatürk, Youth and Sports Day", Month: time.May, Day: 19, Func: cal.CalcDayOfMonth},
	{Name: "Democracy and National Unity Day", Month: time.July, Day: 15, Func: cal.CalcDayOfMonth},
	{Name: "Victory Day", Month: time.August, Day: 30, Func: cal.CalcDayOfMonth},
	{Name: "Republic Day", Month: time.October, Day: 29, Func: cal.CalcDayOfMonth},
}

var unitedStates = []*cal.Holiday{
	us.NewYear,
	us.MlkDay,
	us.PresidentsDay,
	us.MemorialDay,
	us.IndependenceDay,
	us.LaborDay,
	us.ColumbusDay,
	us.VeteransDay,
	us.ThanksgivingDay,
	us.ChristmasDay,
}

type civil struct {
	y int
	m time.Month
	d int
}

func civilOf(t time.Time) civil {
	y, m, d := t.Date()
	return civil{y, m, d}
}

// HolidayCalendar answers whether a calendar day is a public holiday. Rule
// based holidays are computed per year on first use; explicit observances
// are only known for the dates listed, so years outside that list report
// rule based holidays only.
type HolidayCalendar struct {
	rules    []*cal.Holiday
	explicit map[civil]string

	mu    sync.Mutex
	years map[int]map[civil]string
}

// NewHolidayCalendar returns the calendar of region ("tr", "us" or "none")
// extended with extra observances. For "tr" the embedded religious holiday
// dates are included.
func NewHolidayCalendar(region string, extra []Observance) (*HolidayCalendar, error) {
	h := &HolidayCalendar{
		explicit: make(map[civil]string),
		years:    make(map[int]map[civil]string),
	}
	switch region {
	case "tr":
		h.rules = turkey
		obs, err := LoadObservances(bytes.NewReader(trObservances))
		if err != nil {
			return nil, err
		}
		extra = append(obs, extra...)
	case "us":
		h.rules = unitedStates
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown holiday region %q", region)
	}
	for _, o := range extra {
		start, err := time.Parse(time.DateOnly, o.Start)
		if err != nil {
			return nil, fmt.Errorf("observance %q: %w", o.Name, err)
		}
		days := max(o.Days, 1)
		for i := range days {
			h.explicit[civilOf(start.AddDate(0, 0, i))] = o.Name
		}
	}
	return h, nil
}

// IsHoliday reports whether the calendar day of t is a holiday. Only the
// date of t in its own location is considered.
func (h *HolidayCalendar) IsHoliday(t time.Time) bool {
	_, ok := h.Name(t)
	return ok
}

// Name returns the holiday name for the calendar day of t.
func (h *HolidayCalendar) Name(t time.Time) (string, bool) {
	c := civilOf(t)
	if name, ok := h.explicit[c]; ok {
		return name, true
	}
	name, ok := h.year(c.y)[c]
	return name, ok
}

func (h *HolidayCalendar) year(y int) map[civil]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if days, ok := h.years[y]; ok {
		return days
	}
	days := make(map[civil]string, len(h.rules))
	for _, hol := range h.rules {
		actual, _ := hol.Calc(y)
		if actual.IsZero() {
			continue
		}
		days[civilOf(actual)] = hol.Name
	}
	h.years[y] = days
	return days
}
