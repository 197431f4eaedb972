package gakujo

import (
	"testing"
	"time"

	scraper "gakujo-backend/lib/scrapers/gakujo"
	"gakujo-backend/lib/timezone"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func contact(title string, day int) scraper.ClassContact {
	return scraper.ClassContact{
		Subjects:    "微分積分学（Ａ）前期月1･2",
		Title:       title,
		ContactDate: time.Date(2026, 4, day, 9, 0, 0, 0, timezone.Location),
	}
}

func TestPrefixDiff(t *testing.T) {
	a, b, c := contact("A", 1), contact("B", 2), contact("C", 3)
	x, y := contact("X", 4), contact("Y", 5)

	stored := []scraper.ClassContact{a, b, c}
	fetched := []scraper.ClassContact{x, y, a, b, c}

	diff := prefixDiff(stored, fetched)
	require.Len(t, diff, 2)
	require.Equal(t, "X", diff[0].Title)
	require.Equal(t, "Y", diff[1].Title)

	merged := append(append([]scraper.ClassContact{}, diff...), stored...)
	require.Equal(t, []string{"X", "Y", "A", "B", "C"}, contactTitles(merged))
}

func TestPrefixDiffEmptyStore(t *testing.T) {
	fetched := []scraper.ClassContact{contact("A", 1), contact("B", 2)}
	require.Equal(t, fetched, prefixDiff(nil, fetched))
}

func contactTitles(contacts []scraper.ClassContact) []string {
	var titles []string
	for _, c := range contacts {
		titles = append(titles, c.Title)
	}
	return titles
}

func sharedFile(title string, day int) scraper.SharedFile {
	return scraper.SharedFile{
		Subjects:   "線形代数学（Ｂ）前期火3･4",
		Title:      title,
		UpdateDate: time.Date(2026, 4, day, 12, 0, 0, 0, timezone.Location),
	}
}

func TestSetDiff(t *testing.T) {
	a, b, c := sharedFile("A", 1), sharedFile("B", 2), sharedFile("C", 3)

	added := setDiff([]scraper.SharedFile{a, b}, []scraper.SharedFile{b, c})
	require.Equal(t, []int{1}, added)

	require.Empty(t, setDiff([]scraper.SharedFile{a, b}, []scraper.SharedFile{b, a}))
}

func report(id, title, status string) scraper.Report {
	return scraper.Report{
		Subjects:    "微分積分学（Ａ）前期月1･2",
		Title:       title,
		Id:          id,
		SchoolYear:  "2026",
		SubjectCode: "S2026001",
		ClassCode:   "C001",
		Status:      status,
		Start:       time.Date(2026, 4, 10, 0, 0, 0, 0, timezone.Location),
		End:         time.Date(2026, 4, 24, 23, 59, 0, 0, timezone.Location),
	}
}

func TestMergeReports(t *testing.T) {
	fetched := []scraper.Report{
		report("20663", "第1回レポート", "受付中"),
		report("20671", "演習課題2", "受付中"),
	}

	merged, added := mergeReports(nil, fetched)
	require.Equal(t, []int{0, 1}, added)

	// simulate a detail fetch on the first record
	merged[0].EvaluationMethod = "100点満点"
	merged[0].Description = "教科書第2章"

	// an unchanged listing produces zero diff and keeps the detail
	again, added := mergeReports(merged, fetched)
	require.Empty(t, added)
	require.Empty(t, cmp.Diff(merged, again))

	// a status flip updates in place without losing the detail
	fetched[0].Status = "受付終了"
	updated, added := mergeReports(merged, fetched)
	require.Empty(t, added)
	require.Equal(t, "受付終了", updated[0].Status)
	require.Equal(t, "100点満点", updated[0].EvaluationMethod)

	// a new record appends behind the existing ones
	fetched = append(fetched, report("20694", "第2回レポート", "受付中"))
	updated, added = mergeReports(merged, fetched)
	require.Equal(t, []int{2}, added)
	require.Equal(t, "第2回レポート", updated[2].Title)
}

func TestApplyOpenCounts(t *testing.T) {
	var table scraper.ClassTable
	table[0][0] = scraper.ClassTableCell{SubjectsName: "微分積分学", ClassName: "Ａ"}
	table[1][1] = scraper.ClassTableCell{SubjectsName: "線形代数学", ClassName: "Ｂ"}

	open := report("20663", "第1回レポート", "受付中")
	closed := report("20671", "演習課題2", "受付終了")
	other := report("20694", "小課題", "受付中")
	other.Subjects = "物理学概論（Ｃ）前期水5･6"

	quiz := scraper.Quiz{
		Subjects:         "微分積分学（Ａ）前期月1･2",
		Status:           "受付中",
		SubmissionStatus: "未提出",
	}

	ApplyOpenCounts(&table, []scraper.Report{open, closed, other}, []scraper.Quiz{quiz})
	require.Equal(t, 1, table[0][0].ReportCount)
	require.Equal(t, 1, table[0][0].QuizCount)
	require.Equal(t, 0, table[1][1].ReportCount)

	// counters recompute from scratch once everything closes
	closedQuiz := quiz
	closedQuiz.SubmissionStatus = "提出済"
	ApplyOpenCounts(&table, []scraper.Report{closed}, []scraper.Quiz{closedQuiz})
	require.Equal(t, 0, table[0][0].ReportCount)
	require.Equal(t, 0, table[0][0].QuizCount)
}

func TestDiffNews(t *testing.T) {
	old := scraper.News{
		Index: 0,
		Type:  "授業連絡",
		Date:  time.Date(2026, 4, 6, 10, 15, 0, 0, timezone.Location),
		Title: "初回講義室のお知らせ",
	}
	fresh := scraper.News{
		Index: 0,
		Type:  "学内連絡",
		Date:  time.Date(2026, 4, 7, 9, 0, 0, 0, timezone.Location),
		Title: "[事務局] 学生証更新について",
	}

	// the board renumbers rows; identity is content, not position
	renumbered := old
	renumbered.Index = 1

	added := diffNews([]scraper.News{old}, []scraper.News{fresh, renumbered})
	require.Len(t, added, 1)
	require.Equal(t, fresh.Title, added[0].Title)
}
