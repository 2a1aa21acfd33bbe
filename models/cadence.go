package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cadence is one inspection frequency. A checklist item carries a set of them
// and is due on any date whose active cadences intersect the item's set.
type Cadence uint8

const (
	CadenceDaily Cadence = 1 << iota
	CadenceWeekly
	CadenceMonthly
	CadenceQuarterly
	CadenceSemiAnnual
	CadenceYearly
)

var cadenceTags = []struct {
	c   Cadence
	tag string
}{
	{CadenceDaily, "daily"},
	{CadenceWeekly, "weekly"},
	{CadenceMonthly, "monthly"},
	{CadenceQuarterly, "quarterly"},
	{CadenceSemiAnnual, "semi_annual"},
	{CadenceYearly, "yearly"},
}

// CadenceSet is a bitset of cadences. Stored as a comma separated tag list so
// the column stays readable in ad-hoc queries.
type CadenceSet uint8

func NewCadenceSet(cadences ...Cadence) CadenceSet {
	var s CadenceSet
	for _, c := range cadences {
		s |= CadenceSet(c)
	}
	return s
}

func (s CadenceSet) Has(c Cadence) bool {
	return s&CadenceSet(c) != 0
}

func (s CadenceSet) Intersects(other CadenceSet) bool {
	return s&other != 0
}

func (s CadenceSet) IsEmpty() bool {
	return s == 0
}

func (s CadenceSet) Tags() []string {
	tags := make([]string, 0, len(cadenceTags))
	for _, ct := range cadenceTags {
		if s.Has(ct.c) {
			tags = append(tags, ct.tag)
		}
	}
	return tags
}

func (s CadenceSet) String() string {
	return strings.Join(s.Tags(), ",")
}

func ParseCadenceSet(raw string) (CadenceSet, error) {
	var s CadenceSet
	if strings.TrimSpace(raw) == "" {
		return s, nil
	}
	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)
		found := false
		for _, ct := range cadenceTags {
			if ct.tag == tag {
				s |= CadenceSet(ct.c)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown cadence %q", tag)
		}
	}
	return s, nil
}

func (s CadenceSet) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *CadenceSet) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		parsed, err := ParseCadenceSet(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		parsed, err := ParseCadenceSet(string(v))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into CadenceSet", value)
}

func (s CadenceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Tags())
}

func (s *CadenceSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	var set CadenceSet
	for _, tag := range tags {
		parsed, err := ParseCadenceSet(tag)
		if err != nil {
			return err
		}
		set |= parsed
	}
	*s = set
	return nil
}

// monthlyDue reports whether d is the monthly inspection day of its month:
// the 1st, or the 2nd when the 1st fell on a Sunday (inspections are not
// performed on Sundays, so the monthly round rolls over by one day).
func monthlyDue(d time.Time) bool {
	switch d.Day() {
	case 1:
		return d.Weekday() != time.Sunday
	case 2:
		first := d.AddDate(0, 0, -1)
		return first.Weekday() == time.Sunday
	}
	return false
}

// CadencesForDate derives the cadence set active on an operating date.
//
// Daily fires every date. Weekly fires on Mondays. Monthly fires on the 1st,
// rolled to the 2nd when the 1st was a Sunday. Quarterly, semi-annual and
// yearly fire on the monthly day of their anchor months (quarters anchor on
// Jan/Apr/Jul/Oct, half-years on Jan/Jul, the year on Jan).
func CadencesForDate(d time.Time) CadenceSet {
	set := NewCadenceSet(CadenceDaily)
	if d.Weekday() == time.Monday {
		set |= CadenceSet(CadenceWeekly)
	}
	if monthlyDue(d) {
		set |= CadenceSet(CadenceMonthly)
		switch d.Month() {
		case time.January:
			set |= CadenceSet(CadenceQuarterly | CadenceSemiAnnual | CadenceYearly)
		case time.July:
			set |= CadenceSet(CadenceQuarterly | CadenceSemiAnnual)
		case time.April, time.October:
			set |= CadenceSet(CadenceQuarterly)
		}
	}
	return set
}

// CadenceSelection is an explicit per-submission override of the derived
// cadence set, used when a crew catches up on a missed round.
type CadenceSelection struct {
	Daily      bool `json:"daily"`
	Weekly     bool `json:"weekly"`
	Monthly    bool `json:"monthly"`
	Quarterly  bool `json:"quarterly"`
	SemiAnnual bool `json:"semiAnnual"`
	Yearly     bool `json:"yearly"`
}

// CadencesFromSelection converts an explicit selection to a set as-is, with no
// calendar checks. The caller asked for exactly these cadences.
func CadencesFromSelection(sel CadenceSelection) CadenceSet {
	var set CadenceSet
	if sel.Daily {
		set |= CadenceSet(CadenceDaily)
	}
	if sel.Weekly {
		set |= CadenceSet(CadenceWeekly)
	}
	if sel.Monthly {
		set |= CadenceSet(CadenceMonthly)
	}
	if sel.Quarterly {
		set |= CadenceSet(CadenceQuarterly)
	}
	if sel.SemiAnnual {
		set |= CadenceSet(CadenceSemiAnnual)
	}
	if sel.Yearly {
		set |= CadenceSet(CadenceYearly)
	}
	return set
}
