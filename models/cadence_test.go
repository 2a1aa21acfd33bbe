package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/models"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestCadencesForDate(t *testing.T) {
	cases := []struct {
		name string
		date time.Time
		want models.CadenceSet
	}{
		{
			// 2024-01-01 is a Monday and the yearly anchor.
			"new year monday",
			d(2024, time.January, 1),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly,
				models.CadenceQuarterly, models.CadenceSemiAnnual, models.CadenceYearly),
		},
		{
			"plain monday",
			d(2024, time.February, 5),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly),
		},
		{
			"plain tuesday",
			d(2024, time.February, 6),
			models.NewCadenceSet(models.CadenceDaily),
		},
		{
			// 2024-04-01 is a Monday, quarterly anchor month.
			"quarter start",
			d(2024, time.April, 1),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly, models.CadenceQuarterly),
		},
		{
			// 2024-07-01 is a Monday, half-year anchor month.
			"half year start",
			d(2024, time.July, 1),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly,
				models.CadenceQuarterly, models.CadenceSemiAnnual),
		},
		{
			// 2024-09-01 is a Sunday, so the monthly round rolls to the 2nd.
			"sunday first not monthly",
			d(2024, time.September, 1),
			models.NewCadenceSet(models.CadenceDaily),
		},
		{
			// 2024-09-02 is the Monday after a Sunday 1st.
			"rolled monthly on the 2nd",
			d(2024, time.September, 2),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly),
		},
		{
			// 2024-03-02 is a Saturday; the 1st was a Friday, so no roll.
			"second without sunday first",
			d(2024, time.March, 2),
			models.NewCadenceSet(models.CadenceDaily),
		},
		{
			// 2023-10-01 is a Sunday; the quarterly anchor rolls with the monthly.
			"rolled quarterly",
			d(2023, time.October, 2),
			models.NewCadenceSet(models.CadenceDaily, models.CadenceWeekly, models.CadenceMonthly, models.CadenceQuarterly),
		},
	}
	for _, tc := range cases {
		got := models.CadencesForDate(tc.date)
		if got != tc.want {
			t.Fatalf("%s (%s): got %s, want %s", tc.name, tc.date.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestCadencesFromSelectionPassthrough(t *testing.T) {
	got := models.CadencesFromSelection(models.CadenceSelection{Yearly: true, Weekly: true})
	want := models.NewCadenceSet(models.CadenceWeekly, models.CadenceYearly)
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	// No calendar checks apply to explicit selections.
	if models.CadencesFromSelection(models.CadenceSelection{}) != 0 {
		t.Fatalf("empty selection must produce the empty set")
	}
}

func TestCadenceSetRoundTrip(t *testing.T) {
	set := models.NewCadenceSet(models.CadenceDaily, models.CadenceMonthly, models.CadenceSemiAnnual)
	parsed, err := models.ParseCadenceSet(set.String())
	if err != nil {
		t.Fatalf("ParseCadenceSet(%q): %v", set.String(), err)
	}
	if parsed != set {
		t.Fatalf("round trip: got %s, want %s", parsed, set)
	}

	if _, err := models.ParseCadenceSet("daily,fortnightly"); err == nil {
		t.Fatalf("expected error for unknown cadence tag")
	}

	empty, err := models.ParseCadenceSet("")
	if err != nil || empty != 0 {
		t.Fatalf("empty string must parse to the empty set, got %s err %v", empty, err)
	}
}

func TestCadenceSetIntersects(t *testing.T) {
	item := models.NewCadenceSet(models.CadenceMonthly)
	due := models.CadencesForDate(d(2024, time.April, 1))
	if !item.Intersects(due) {
		t.Fatalf("monthly item must be due on the 1st")
	}
	if item.Intersects(models.CadencesForDate(d(2024, time.April, 3))) {
		t.Fatalf("monthly item must not be due mid-month")
	}
}
