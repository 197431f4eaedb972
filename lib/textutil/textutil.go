// Package textutil normalizes the semi-structured text the portal
// embeds in its HTML: entity-encoded labels, compound onclick
// javascript argument strings, weekday/period slot labels and the
// "past midnight" 24:xx time notation.
package textutil

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gakujo-backend/lib/timezone"

	"golang.org/x/net/html"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	pastMidnight  = regexp.MustCompile(`24:(\d\d)$`)
	newlineRun    = regexp.MustCompile(`[\r\n]+`)
	subjectSuffix = regexp.MustCompile(`（.*）(前|後)期.*`)
	newsCategory  = regexp.MustCompile(`\[.*] `)
	leadingNumber = regexp.MustCompile(`^\d+`)
)

// CollapseSpace strips entity noise and collapses every whitespace run
// to a single half-width space. Non-breaking spaces are dropped
// outright rather than kept as separators, matching how the portal
// pads table cells with &nbsp;.
func CollapseSpace(s string) string {
	s = html.UnescapeString(s)
	s = strings.NewReplacer("\r", "", "\n", "", "\t", "", " ", "").Replace(s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// DecodeNewlines entity-decodes a detail pane and harmonizes its mix
// of <br> tags and literal CR/LF into single newlines.
func DecodeNewlines(s string) string {
	s = html.UnescapeString(s)
	s = strings.NewReplacer("<br/>", " \n", "<br />", " \n", "<br>", " \n").Replace(s)
	s = strings.Trim(s, "\r\n")
	return strings.TrimSpace(newlineRun.ReplaceAllString(s, "\n"))
}

// JsArg recovers the i-th argument of a compound onclick call such as
// "formSubmit('id','2024','S1');". Splitting is positional on commas;
// quote, paren and semicolon noise is stripped from the piece.
func JsArg(s string, i int) string {
	parts := strings.Split(s, ",")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return strings.TrimSpace(strings.NewReplacer("'", "", "(", "", ")", "", ";", "").Replace(parts[i]))
}

var dateTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/1/2 15:04",
	"2006/01/02",
	"2006/1/2",
}

// ParseDateTime parses a portal datetime string. The portal renders
// spans that end past midnight as "24:MM" on the same calendar day;
// those wrap to "00:MM" of the next day.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	replaced := pastMidnight.ReplaceAllString(s, "00:$1")
	wrapped := replaced != s

	var t time.Time
	var err error
	for _, layout := range dateTimeLayouts {
		t, err = time.ParseInLocation(layout, replaced, timezone.Location)
		if err == nil {
			if wrapped {
				t = t.AddDate(0, 0, 1)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q: %w", s, err)
}

// ParseTimeSpan parses one side of a "start ～ end" range cell.
// idx selects the side: 0 for start, 1 for end.
func ParseTimeSpan(s string, idx int) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "～")
	if idx < 0 || idx >= len(parts) {
		return time.Time{}, fmt.Errorf("time span %q has no side %d", s, idx)
	}
	return ParseDateTime(parts[idx])
}

var weekdayLabels = []string{"月", "火", "水", "木", "金"}

var periodLabels = []string{"1･2", "3･4", "5･6", "7･8", "9･10", "11･12", "13･14"}

// WeekdayIndex maps the weekday kanji prefix of a slot label to a
// column index 0..4, or -1 for anything outside the Mon-Fri grid.
func WeekdayIndex(s string) int {
	for i, label := range weekdayLabels {
		if strings.HasPrefix(s, label) {
			return i
		}
	}
	return -1
}

// PeriodIndex maps a slot label such as "月13･14" to a row index 0..6,
// or -1 for labels without a period number in 1..14. The full leading
// period number is parsed, not just its first digit, so double-digit
// periods resolve correctly.
func PeriodIndex(s string) int {
	w := WeekdayIndex(s)
	if w >= 0 {
		s = strings.TrimPrefix(s, weekdayLabels[w])
	}
	num := leadingNumber.FindString(s)
	if num == "" {
		return -1
	}
	n := 0
	for _, c := range num {
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 14 {
		return -1
	}
	return (n+1)/2 - 1
}

func WeekdayLabel(i int) string {
	return weekdayLabels[i]
}

func PeriodLabel(i int) string {
	return periodLabels[i]
}

// SlotLabel is the inverse of WeekdayIndex/PeriodIndex:
// SlotLabel(WeekdayIndex(s), PeriodIndex(s)) == s for valid labels.
func SlotLabel(weekday, period int) string {
	return weekdayLabels[weekday] + periodLabels[period]
}

// SubjectShort trims the "（class）前期..." tail off a subject label,
// leaving the bare subject name.
func SubjectShort(s string) string {
	return subjectSuffix.ReplaceAllString(s, "")
}

// StripNewsCategory removes the "[category] " prefix the home screen
// prepends to non-internal news titles.
func StripNewsCategory(s string) string {
	return newsCategory.ReplaceAllString(s, "")
}
