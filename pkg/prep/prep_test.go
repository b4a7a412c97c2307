package prep

import (
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/ridecast/pkg/frame"
)

func rawTable() *frame.Table {
	return frame.MustNew(
		frame.NewString("transition_date", []string{"2024-03-01", "2024-03-01", "2024-03-01", "2024-03-02", "2024-03-02"}),
		frame.NewInt("transition_hour", []int64{7, 7, 8, 7, 9}, nil),
		frame.NewString("line_name", []string{"M2", "M2", "M2", "M1", "M2"}),
		frame.NewString("station_poi_desc_cd", []string{"TAKSIM", "TAKSİM", "TAKSIM", "KADIKOY", ""}).
			WithValid([]bool{true, true, true, true, false}),
		frame.NewString("road_type", []string{"RAYLI", "RAYLI", "RAYLI", "RAYLI", "OTOYOL"}),
		frame.NewFloat("number_of_passage", []float32{10, 5, 3, 8, 1}, nil),
	)
}

const pipeline = `
- op: keep
  column: road_type
  values: [RAYLI]
- op: compose_timestamp
  column: transition_date
  hour: transition_hour
- op: rename
  mapping:
    station_poi_desc_cd: station
    number_of_passage: passage
- op: map_values
  column: station
  mapping:
    TAKSİM: TAKSIM
- op: drop_columns
  columns: [transition_date, transition_hour, road_type]
- op: sum_duplicates
  columns: [line_name, station]
  time: timestamp
  target: passage
`

func TestApply_Pipeline(t *testing.T) {
	var steps []Step
	if err := yaml.Unmarshal([]byte(pipeline), &steps); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	out, err := Apply(rawTable(), steps, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (aliases summed, non-rail dropped)", out.Len())
	}
	times, _ := out.TimeColumn("timestamp")
	station, _ := out.Column("station")
	passage, _ := out.Column("passage")

	want := []struct {
		ts      time.Time
		station string
		passage float64
	}{
		{time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC), "TAKSIM", 15},
		{time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), "TAKSIM", 3},
		{time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC), "KADIKOY", 8},
	}
	for i, w := range want {
		v, _ := passage.Float(i)
		if !times[i].Equal(w.ts) || station.Strings()[i] != w.station || v != w.passage {
			t.Errorf("row %d = (%v, %s, %v), want %+v", i, times[i], station.Strings()[i], v, w)
		}
	}
}

func TestApply_Filters(t *testing.T) {
	tests := []struct {
		name string
		step Step
		rows int
	}{
		{"keep", Step{Op: OpKeep, Column: "line_name", Values: []string{"M1"}}, 1},
		{"drop keeps nulls", Step{Op: OpDrop, Column: "station_poi_desc_cd", Values: []string{"TAKSIM"}}, 3},
		{"drop int values", Step{Op: OpDrop, Column: "transition_hour", Values: []string{"7"}}, 2},
		{"not null", Step{Op: OpNotNull, Columns: []string{"station_poi_desc_cd"}}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(rawTable(), []Step{tt.step}, nil)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if out.Len() != tt.rows {
				t.Errorf("Len() = %d, want %d", out.Len(), tt.rows)
			}
		})
	}
}

func TestApply_MinTime(t *testing.T) {
	steps := []Step{
		{Op: OpComposeTimestamp, Column: "transition_date", Hour: "transition_hour", Output: "ts"},
		{Op: OpMinTime, Column: "ts", Value: "2024-03-02"},
	}
	out, err := Apply(rawTable(), steps, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Len() != 2 {
		t.Errorf("Len() = %d, want 2", out.Len())
	}
}

func TestComposeTimestamp_Location(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	out, err := Apply(rawTable(), []Step{{
		Op: OpComposeTimestamp, Column: "transition_date", Hour: "transition_hour", Location: "Europe/Istanbul",
	}}, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	times, _ := out.TimeColumn("timestamp")
	if want := time.Date(2024, 3, 1, 7, 0, 0, 0, loc); !times[0].Equal(want) {
		t.Errorf("timestamp = %v, want %v", times[0], want)
	}
}

func TestComposeTimestamp_WallClockOnDSTDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tb := frame.MustNew(
		frame.NewString("d", []string{"2024-03-31"}),
		frame.NewInt("h", []int64{8}, nil),
	)
	out, err := Apply(tb, []Step{{Op: OpComposeTimestamp, Column: "d", Hour: "h", Location: "Europe/Berlin"}}, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	times, _ := out.TimeColumn("timestamp")
	if got := times[0].In(loc).Hour(); got != 8 {
		t.Errorf("hour = %d, want 8 on the day clocks move forward", got)
	}
}

func TestComposeTimestamp_BadHour(t *testing.T) {
	tb := frame.MustNew(
		frame.NewString("d", []string{"2024-03-01"}),
		frame.NewInt("h", []int64{24}, nil),
	)
	if _, err := Apply(tb, []Step{{Op: OpComposeTimestamp, Column: "d", Hour: "h"}}, nil); err == nil {
		t.Error("hour 24 should be rejected")
	}
}

func TestStep_Validate(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{"unknown op", Step{Op: "explode"}},
		{"missing op", Step{}},
		{"keep without values", Step{Op: OpKeep, Column: "x"}},
		{"rename without mapping", Step{Op: OpRename}},
		{"sum without target", Step{Op: OpSumDuplicates, Time: "ts"}},
		{"compose without hour", Step{Op: OpComposeTimestamp, Column: "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.step.Validate(); !errors.Is(err, ErrInvalidStep) {
				t.Errorf("Validate() error = %v, want ErrInvalidStep", err)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-03-02", "2024-03-02T00:00:00Z", "2024-03-02 00:00:00"} {
		ts, err := ParseTime(s)
		if err != nil || !ts.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseTime(%q) = %v, %v", s, ts, err)
		}
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(yesterday) should fail")
	}
}
