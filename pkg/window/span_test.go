package window

import (
	"errors"
	"testing"
	"time"
)

func TestParseSpan(t *testing.T) {
	tests := []struct {
		in         string
		wantSuffix string
		want       Span
		wantErr    bool
	}{
		{in: "1 day", wantSuffix: "1_day", want: Span{Days: 1}},
		{in: "2 Weeks", wantSuffix: "2_weeks", want: Span{Days: 14}},
		{in: "3 months", wantSuffix: "3_months", want: Span{Months: 3}},
		{in: " 6  hours ", wantSuffix: "6_hours", want: Span{Duration: 6 * time.Hour}},
		{in: "1 year", wantSuffix: "1_year", want: Span{Months: 12}},
		{in: "0 days", wantErr: true},
		{in: "day", wantErr: true},
		{in: "3 fortnights", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpan(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSpan) {
					t.Errorf("ParseSpan(%q) error = %v, want ErrInvalidSpan", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpan(%q) error = %v", tt.in, err)
			}
			if got.Months != tt.want.Months || got.Days != tt.want.Days || got.Duration != tt.want.Duration {
				t.Errorf("ParseSpan(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.Suffix() != tt.wantSuffix {
				t.Errorf("Suffix() = %q, want %q", got.Suffix(), tt.wantSuffix)
			}
		})
	}
}

func TestSpan_StartClampsMonthEnd(t *testing.T) {
	at := time.Date(2024, 3, 31, 5, 0, 0, 0, time.UTC)
	got := MustParseSpan("1 month").Start(at)
	want := time.Date(2024, 2, 29, 5, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Start() = %s, want %s", got, want)
	}
}

func TestQuantileLevels(t *testing.T) {
	tests := []struct {
		in       string
		want     float64
		wantStat string
		wantErr  bool
	}{
		{in: "p25", want: 0.25, wantStat: "q25"},
		{in: "0.75", want: 0.75, wantStat: "q75"},
		{in: "p99.5", want: 0.995, wantStat: "q99_5"},
		{in: "0", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "pxx", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuantileLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseQuantileLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseQuantileLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if s := QuantileStat(got); s != tt.wantStat {
				t.Errorf("QuantileStat(%v) = %q, want %q", got, s, tt.wantStat)
			}
		})
	}
}

func TestQuantileIndex(t *testing.T) {
	tests := []struct {
		q    float64
		n    int
		want int
	}{
		{0.25, 4, 0},
		{0.5, 4, 1},
		{0.75, 4, 2},
		{0.5, 1, 0},
		{0.5, 3, 1},
		{1, 5, 4},
	}
	for _, tt := range tests {
		if got := quantileIndex(tt.q, tt.n); got != tt.want {
			t.Errorf("quantileIndex(%v, %d) = %d, want %d", tt.q, tt.n, got, tt.want)
		}
	}
}
