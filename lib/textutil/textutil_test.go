package textutil

import (
	"testing"
	"time"

	"gakujo-backend/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestCollapseSpace(t *testing.T) {
	require.Equal(t, "情報科学 （木5･6）", CollapseSpace("  情報科学\r\n\t （木5･6）&nbsp; "))
	require.Equal(t, "a b", CollapseSpace("a\n\n   b"))
	require.Equal(t, "", CollapseSpace(" \r\n\t"))
}

func TestDecodeNewlines(t *testing.T) {
	require.Equal(t, "第1回課題 \n提出は箱へ", DecodeNewlines("第1回課題<br>提出は箱へ"))
	require.Equal(t, "a \nb", DecodeNewlines("\r\na<br>\r\n\r\nb\r\n"))
}

func TestJsArg(t *testing.T) {
	onclick := "formSubmit('12345','2024','S0001','C01');"
	require.Equal(t, "formSubmit12345", JsArg(onclick, 0))
	require.Equal(t, "2024", JsArg(onclick, 1))
	require.Equal(t, "C01", JsArg(onclick, 3))
	require.Equal(t, "", JsArg(onclick, 9))
}

func TestParseDateTimePastMidnight(t *testing.T) {
	got, err := ParseDateTime("2024/06/10 24:30")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 11, 0, 30, 0, 0, timezone.Location), got)

	got, err = ParseDateTime("2024/06/10 23:59")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 10, 23, 59, 0, 0, timezone.Location), got)
}

func TestParseTimeSpan(t *testing.T) {
	span := "2024/06/03 9:00 ～ 2024/06/03 24:30"

	start, err := ParseTimeSpan(span, 0)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 3, 9, 0, 0, 0, timezone.Location), start)

	end, err := ParseTimeSpan(span, 1)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 4, 0, 30, 0, 0, timezone.Location), end)
}

func TestSlotLabelRoundTrip(t *testing.T) {
	for w := 0; w < 5; w++ {
		for p := 0; p < 7; p++ {
			label := SlotLabel(w, p)
			require.Equal(t, w, WeekdayIndex(label), label)
			require.Equal(t, p, PeriodIndex(label), label)
			require.Equal(t, label, SlotLabel(WeekdayIndex(label), PeriodIndex(label)))
		}
	}
}

func TestPeriodIndexDoubleDigit(t *testing.T) {
	require.Equal(t, 6, PeriodIndex("月13･14"))
	require.Equal(t, 4, PeriodIndex("金9･10"))
	require.Equal(t, -1, PeriodIndex("時間割外"))
}

func TestPeriodIndexOutOfGrid(t *testing.T) {
	// the grid ends at period 14; larger numbers must not map to a row
	require.Equal(t, -1, PeriodIndex("月15･16"))
	require.Equal(t, -1, PeriodIndex("金99"))
	require.Equal(t, -1, PeriodIndex("月0"))
}

func TestSubjectShort(t *testing.T) {
	require.Equal(t, "微分積分学", SubjectShort("微分積分学"))
	require.Equal(t, "情報科学", SubjectShort("情報科学（クラスA）前期 月1･2"))
}

func TestStripNewsCategory(t *testing.T) {
	require.Equal(t, "休講のお知らせ", StripNewsCategory("[教務] 休講のお知らせ"))
	require.Equal(t, "そのまま", StripNewsCategory("そのまま"))
}
