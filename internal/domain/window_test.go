package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "09:00", want: "09:00"},
		{in: "9:05", want: "09:05"},
		{in: "23:59", want: "23:59"},
		{in: " 00:00 ", want: "00:00"},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "+9:00", wantErr: true},
		{in: "18:+5", wantErr: true},
		{in: "-1:00", wantErr: true},
		{in: " 9: 5", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseTimeOfDay(%q) err = %v, want ErrValidation", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	day := func(h, m int) time.Time { return time.Date(2024, 1, 10, h, m, 0, 0, loc) }

	work := Window{Start: 9 * 60, End: 18 * 60}
	night := Window{Start: 22 * 60, End: 6 * 60}

	tests := []struct {
		name string
		w    Window
		at   time.Time
		want bool
	}{
		{"work inside", work, day(12, 0), true},
		{"work start inclusive", work, day(9, 0), true},
		{"work end inclusive", work, day(18, 0), true},
		{"work before", work, day(8, 59), false},
		{"work after", work, day(18, 1), false},
		{"night late", night, day(23, 30), true},
		{"night early", night, day(5, 0), true},
		{"night midday", night, day(12, 0), false},
		{"default", DefaultWindow, day(23, 59), true},
	}
	for _, tt := range tests {
		if got := tt.w.Contains(tt.at, loc); got != tt.want {
			t.Fatalf("%s: Contains(%s) = %v, want %v", tt.name, tt.at.Format("15:04"), got, tt.want)
		}
	}
}

func TestWindowNextOpen(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	w := Window{Start: 9 * 60, End: 18 * 60}

	inside := time.Date(2024, 1, 10, 10, 0, 0, 0, loc)
	if got := w.NextOpen(inside, loc); !got.Equal(inside) {
		t.Fatalf("NextOpen(inside) = %v, want unchanged", got)
	}
	early := time.Date(2024, 1, 10, 7, 0, 0, 0, loc)
	if got, want := w.NextOpen(early, loc), time.Date(2024, 1, 10, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("NextOpen(early) = %v, want %v", got, want)
	}
	late := time.Date(2024, 1, 10, 19, 0, 0, 0, loc)
	if got, want := w.NextOpen(late, loc), time.Date(2024, 1, 11, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("NextOpen(late) = %v, want %v", got, want)
	}
}
