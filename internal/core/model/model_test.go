package model

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestNewBBox_Valid(t *testing.T) {
	cases := [][4]float64{
		{-111.72, 36.765, -109.97, 38.079},
		{-180, -90, 180, 90},
		{12, 20, 12.5, 20.5},
		{179.9, 89.9, 180, 90},
	}
	for _, c := range cases {
		bb, err := NewBBox(c[0], c[1], c[2], c[3])
		if err != nil {
			t.Fatalf("NewBBox(%v) err: %v", c, err)
		}
		if bb.LonMin() != c[0] || bb.LatMin() != c[1] || bb.LonMax() != c[2] || bb.LatMax() != c[3] {
			t.Fatalf("NewBBox(%v) stored %v", c, bb)
		}
	}
}

func TestNewBBox_BoundaryViolations(t *testing.T) {
	cases := map[string][4]float64{
		"lon min":       {-181.72, 36.765, -109.97, 38.079},
		"lon max":       {-111.72, 36.765, 185.97, 38.079},
		"lat min":       {-111.72, -96.765, -109.97, 38.079},
		"lat max":       {-111.72, 36.765, -109.97, 97.079},
		"lon inverted":  {10, 0, 5, 1},
		"lat inverted":  {0, 10, 1, 5},
		"lon collapsed": {5, 0, 5, 1},
		"lat collapsed": {0, 5, 1, 5},
		"lon min nan":   {math.NaN(), 0, 1, 1},
		"lat max nan":   {0, 0, 1, math.NaN()},
		"lon max +inf":  {0, 0, math.Inf(1), 1},
		"lat min -inf":  {0, math.Inf(-1), 1, 1},
	}
	for name, c := range cases {
		_, err := NewBBox(c[0], c[1], c[2], c[3])
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: err=%v want ErrValidation", name, err)
		}
		// deterministic
		_, err2 := NewBBox(c[0], c[1], c[2], c[3])
		if err.Error() != err2.Error() {
			t.Fatalf("%s: non-deterministic error %q vs %q", name, err, err2)
		}
	}
}

func TestBBox_String(t *testing.T) {
	bb, err := NewBBox(-111.72, 36.765, -109.97, 38.079)
	if err != nil {
		t.Fatalf("NewBBox: %v", err)
	}
	if got, want := bb.String(), "-111.72,36.765,-109.97,38.079"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
}

func TestYearWindow_String(t *testing.T) {
	got := YearWindow(2001).String()
	want := "2001-01-01T00:00:00Z,2001-12-31T23:59:59Z"
	if got != want {
		t.Fatalf("YearWindow(2001)=%q want %q", got, want)
	}
}

func TestNewYearRange_Clamps(t *testing.T) {
	yr, err := NewYearRange(2010, 2020)
	if err != nil {
		t.Fatalf("NewYearRange: %v", err)
	}
	if yr.End != LastProductYear || yr.Start != 2010 {
		t.Fatalf("range=%+v want 2010-2015", yr)
	}
	if len(yr.Warnings) != 1 {
		t.Fatalf("warnings=%v want 1", yr.Warnings)
	}

	yr, err = NewYearRange(1990, 2003)
	if err != nil {
		t.Fatalf("NewYearRange: %v", err)
	}
	if !reflect.DeepEqual(yr.Years(), []int{2001, 2002, 2003}) {
		t.Fatalf("years=%v", yr.Years())
	}

	yr, err = NewYearRange(2001, 2003)
	if err != nil || len(yr.Warnings) != 0 {
		t.Fatalf("in-range: %+v err=%v", yr, err)
	}

	if _, err := NewYearRange(2014, 2013); !errors.Is(err, ErrValidation) {
		t.Fatalf("inverted range err=%v want ErrValidation", err)
	}
}
