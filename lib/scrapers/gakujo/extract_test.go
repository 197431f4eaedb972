package gakujo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gakujo-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func fixture(t testing.TB, name string) *goquery.Document {
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	require.NoError(t, err)
	return doc
}

func jst(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, timezone.Location)
}

func TestExtractNews(t *testing.T) {
	news, err := extractNews(fixture(t, "news.html"))
	require.NoError(t, err)
	require.Len(t, news, 3)

	require.Equal(t, "授業連絡", news[0].Type)
	require.Equal(t, jst(2026, 4, 6, 10, 15), news[0].Date)
	require.Equal(t, "初回講義室のお知らせ", news[0].Title)

	// internal notices keep their bracket prefix
	require.Equal(t, "学内連絡", news[1].Type)
	require.Equal(t, "[事務局] 学生証更新について", news[1].Title)

	require.Equal(t, 2, news[2].Index)
}

func TestExtractReports(t *testing.T) {
	reports, err := extractReports(fixture(t, "reports.html"))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	first := reports[0]
	require.Equal(t, "微分積分学（Ａ）前期月1･2", first.Subjects)
	require.Equal(t, "第1回レポート", first.Title)
	require.Equal(t, "20663", first.Id)
	require.Equal(t, "2026", first.SchoolYear)
	require.Equal(t, "S2026001", first.SubjectCode)
	require.Equal(t, "C001", first.ClassCode)
	require.Equal(t, "受付中", first.Status)
	require.Equal(t, jst(2026, 4, 10, 0, 0), first.Start)
	require.Equal(t, jst(2026, 4, 24, 23, 59), first.End)
	require.True(t, first.Submitted.IsZero())
	require.True(t, first.IsSubmittable())
	require.False(t, first.IsAcquired())

	// a 24:00 deadline wraps to midnight of the next day
	second := reports[1]
	require.Equal(t, jst(2026, 4, 9, 0, 0), second.End)
	require.Equal(t, jst(2026, 4, 7, 18, 21), second.Submitted)
	require.False(t, second.IsSubmittable())
}

func TestExtractReportsMissingTableIsEmpty(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<html><body><div>該当するデータはありません。</div></body></html>"))
	require.NoError(t, err)
	reports, err := extractReports(doc)
	require.NoError(t, err)
	require.Empty(t, reports)
}

func TestExtractReportDetail(t *testing.T) {
	report := Report{Id: "20663"}
	files, err := extractReportDetail(fixture(t, "report_detail.html"), &report)
	require.NoError(t, err)

	require.Equal(t, "レポート内容を100点満点で評価する", report.EvaluationMethod)
	require.Contains(t, report.Description, "教科書第2章の問題1〜5を解答すること。")
	require.Contains(t, report.Description, "\n")
	require.Equal(t, "再提出は1回まで認める", report.Message)
	require.True(t, report.IsAcquired())

	require.Len(t, files, 1)
	require.Equal(t, "a81f20", files[0].selectedKey)
	require.Equal(t, "tmp01", files[0].prefix)
	require.Equal(t, "課題シート.pdf", files[0].name)
}

func TestExtractQuizzes(t *testing.T) {
	quizzes, err := extractQuizzes(fixture(t, "quizzes.html"))
	require.NoError(t, err)
	require.Len(t, quizzes, 1)

	quiz := quizzes[0]
	require.Equal(t, "31082", quiz.Id)
	require.Equal(t, "小テスト1", quiz.Title)
	require.Equal(t, "未提出", quiz.SubmissionStatus)
	require.True(t, quiz.IsSubmittable())
}

func TestExtractQuizDetail(t *testing.T) {
	quiz := Quiz{Id: "31082"}
	files, err := extractQuizDetail(fixture(t, "quiz_detail.html"), &quiz)
	require.NoError(t, err)

	require.Equal(t, 10, quiz.QuestionCount)
	require.Equal(t, "自動採点", quiz.EvaluationMethod)
	require.Contains(t, quiz.Description, "第3回講義の範囲から出題する。")
	require.Equal(t, "一度開始したら中断できません", quiz.Message)
	require.Len(t, files, 1)
	require.Equal(t, "b92e31", files[0].selectedKey)
}

func TestExtractClassContacts(t *testing.T) {
	contacts, err := extractClassContacts(fixture(t, "contacts.html"))
	require.NoError(t, err)
	require.Len(t, contacts, 2)

	first := contacts[0]
	require.Equal(t, "微分積分学（Ａ）前期月1･2", first.Subjects)
	require.Equal(t, "山本一郎", first.TeacherName)
	require.Equal(t, "第2回講義の資料について", first.Title)
	require.Equal(t, jst(2026, 4, 13, 0, 0), first.TargetDate)
	require.Equal(t, jst(2026, 4, 10, 11, 30), first.ContactDate)
	require.False(t, first.IsAcquired())

	// shorter rows leave the target date zero
	require.True(t, contacts[1].TargetDate.IsZero())
}

func TestExtractContactDetail(t *testing.T) {
	contact := ClassContact{Title: "第2回講義の資料について"}
	files, err := extractContactDetail(fixture(t, "contact_detail.html"), &contact)
	require.NoError(t, err)

	require.Equal(t, "授業連絡", contact.ContactType)
	require.True(t, contact.IsAcquired())
	require.Contains(t, contact.Content, "第2回講義の資料を公開しました。")
	require.Contains(t, contact.Content, "埋込リンク")
	require.Contains(t, contact.Content, "資料ページ https://example.ac.jp/materials/2")
	require.Equal(t, "公開する", contact.FileRelease)
	require.Equal(t, "https://example.ac.jp/materials", contact.ReferenceUrl)
	require.Equal(t, "通常", contact.Severity)
	require.Equal(t, "返信を求めない", contact.WebReply)

	require.Len(t, files, 1)
	require.Equal(t, "c73d11", files[0].prefix)
	require.Equal(t, "4", files[0].no)
	require.Equal(t, "講義資料2.pdf", files[0].name)
}

func TestExtractSharedFiles(t *testing.T) {
	files, err := extractSharedFiles(fixture(t, "sharedfiles.html"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.Equal(t, "線形代数学（Ｂ）前期火3･4", files[0].Subjects)
	require.Equal(t, "過去問（2025年度）", files[0].Title)
	require.Equal(t, "1.2MB", files[0].Size)
	require.Equal(t, jst(2026, 4, 11, 14, 0), files[0].UpdateDate)
}

func TestExtractSharedFileDetail(t *testing.T) {
	file := SharedFile{Title: "過去問（2025年度）"}
	refs, err := extractSharedFileDetail(fixture(t, "sharedfile_detail.html"), &file)
	require.NoError(t, err)

	require.Equal(t, "昨年度の期末試験問題です", file.Description)
	require.Equal(t, "2026/04/11 ～ 2026/08/31", file.PublicPeriod)
	require.Len(t, refs, 1)
	require.Equal(t, "d54a02", refs[0].prefix)
	require.Equal(t, "7", refs[0].no)
}

func TestExtractLotteryRegistrations(t *testing.T) {
	registrations, vector := extractLotteryRegistrations(fixture(t, "lottery.html"))
	require.Equal(t, "AAABBBCCC111", vector)
	require.Len(t, registrations, 2)

	open := registrations[0]
	require.Equal(t, "月1･2", open.WeekdayPeriod)
	require.Equal(t, "スポーツ演習", open.SubjectsName)
	require.Equal(t, "テニスＡ", open.ClassName)
	require.True(t, open.IsRegisterable)
	require.Equal(t, "RishuuForm.chuusenVector[0]", open.ChoiceKey)
	require.Equal(t, 0, open.Choice)
	require.Equal(t, 40, open.Capacity)
	require.Equal(t, 52, open.FirstApplicants)
	require.Equal(t, "&RishuuForm.chuusenVector[0]=0", open.ChoiceNumberFragment())

	require.False(t, registrations[1].IsRegisterable)
}

func TestExtractLotteryRegistrationsClosedWindow(t *testing.T) {
	registrations, vector := extractLotteryRegistrations(fixture(t, "registration_closed.html"))
	require.Empty(t, registrations)
	require.Empty(t, vector)
}

func TestExtractLotteryResults(t *testing.T) {
	results := extractLotteryResults(fixture(t, "lottery_results.html"))
	require.Len(t, results, 2)

	require.Equal(t, "スポーツ演習", results[0].SubjectsName)
	require.Equal(t, 1, results[0].Choice)
	require.True(t, results[0].IsWinning)

	require.Equal(t, 2, results[1].Choice)
	require.False(t, results[1].IsWinning)
}

func TestExtractRegistrationGrid(t *testing.T) {
	doc := fixture(t, "registration_grid.html")
	require.False(t, registrationUnavailable(doc))

	grid, err := extractRegistrationGrid(doc)
	require.NoError(t, err)

	entried := grid[0][0].Entried
	require.Equal(t, "月1･2", entried.WeekdayPeriod)
	require.Equal(t, "微分積分学", entried.SubjectsName)
	require.Equal(t, "山本 一郎", entried.TeacherName)
	require.Equal(t, "必修", entried.SelectionSection)
	require.Equal(t, 2, entried.Credit)
	require.Equal(t, "共通棟301", entried.ClassRoom)
	require.Equal(t, "S2026001", entried.KamokuCode)
	require.Equal(t, "C001", entried.ClassCode)

	// all other slots are empty but still carry their label
	require.Equal(t, "火1･2", grid[0][1].Entried.WeekdayPeriod)
	require.Empty(t, grid[0][1].Entried.SubjectsName)
	require.Equal(t, "金13･14", grid[6][4].Entried.WeekdayPeriod)
}

func TestRegistrationUnavailable(t *testing.T) {
	require.True(t, registrationUnavailable(fixture(t, "registration_closed.html")))
}

func TestExtractRegisterableRows(t *testing.T) {
	doc := fixture(t, "search_result.html")

	scope, err := extractSearchScope(doc)
	require.NoError(t, err)
	require.Equal(t, "1", scope.faculty)
	require.Equal(t, "11", scope.department)
	require.Equal(t, "0", scope.course)
	require.Equal(t, "2", scope.grade)

	rows := extractRegisterableRows(doc)
	require.Len(t, rows, 2)

	regular := rows[0]
	require.Equal(t, "データ構造とアルゴリズム（Ａ）", regular.SubjectsName)
	require.Equal(t, "田中 次郎", regular.TeacherName)
	require.Equal(t, 2, regular.Credit)
	require.Equal(t, "月1･2", regular.WeekdayPeriod)
	require.Equal(t, "情報棟205", regular.ClassRoom)
	require.Equal(t, "S2026010", regular.KamokuCode)
	require.Equal(t, "C010", regular.ClassCode)
	require.Equal(t, "2", regular.Unit)
	require.Equal(t, "0", regular.SelectKamoku)
	require.Equal(t, "R010", regular.Radio)

	// intensive courses merge the weekday/period columns
	irregular := rows[1]
	require.Equal(t, "時間割外", irregular.WeekdayPeriod)
	require.Equal(t, "未定", irregular.ClassRoom)
}

func TestExtractRegistrationConflict(t *testing.T) {
	err := extractRegistrationConflict(fixture(t, "registration_conflict.html"))
	require.Error(t, err)

	conflict, ok := err.(*RegistrationConflictError)
	require.True(t, ok)
	require.Equal(t, ConflictDuplicate, conflict.Kind)
	require.Contains(t, conflict.Message, "取り消してから")
}

func TestExtractRegistrationConflictAcceptedPage(t *testing.T) {
	require.NoError(t, extractRegistrationConflict(fixture(t, "registration_grid.html")))
}

func TestExtractClassResults(t *testing.T) {
	results, err := extractClassResults(fixture(t, "class_results.html"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	graded := results[0]
	require.Equal(t, "微分積分学", graded.Subjects)
	require.Equal(t, "優", graded.Evaluation)
	require.Equal(t, 85.0, graded.Score)
	require.Equal(t, 3.0, graded.Gp)
	require.Equal(t, "2025年度前期", graded.AcquisitionYear)
	require.Equal(t, jst(2025, 9, 10, 0, 0), graded.ReportDate)

	// pass/fail subjects leave score and GP blank
	passFail := results[1]
	require.Equal(t, 0.0, passFail.Score)
	require.Equal(t, 0.0, passFail.Gp)
}

func TestExtractEvaluationCredits(t *testing.T) {
	credits := extractEvaluationCredits(fixture(t, "evaluation_credits.html"))
	require.Len(t, credits, 4)
	require.Equal(t, EvaluationCredit{Evaluation: "優", Credit: 24}, credits[0])
	require.Equal(t, EvaluationCredit{Evaluation: "合", Credit: 3}, credits[3])
}

func TestExtractDepartmentGpa(t *testing.T) {
	var gpa DepartmentGpa
	require.NoError(t, extractDepartmentGpa(fixture(t, "gpa.html"), &gpa))

	require.Equal(t, 2, gpa.Grade)
	require.Equal(t, 3.21, gpa.Gpa)
	require.Len(t, gpa.SemesterGpas, 2)
	require.Equal(t, SemesterGpa{Year: "2025年度", Semester: "前期", Gpa: 3.35}, gpa.SemesterGpas[0])
	require.Equal(t, jst(2026, 3, 31, 0, 0), gpa.CalculationDate)
}

func TestExtractGpaRanks(t *testing.T) {
	var gpa DepartmentGpa
	require.NoError(t, extractGpaRanks(fixture(t, "gpa_ranks.html"), &gpa))

	require.Equal(t, [2]int{14, 120}, gpa.DepartmentRank)
	require.Equal(t, [2]int{6, 45}, gpa.CourseRank)
}

func TestExtractYearCredits(t *testing.T) {
	credits := extractYearCredits(fixture(t, "year_credits.html"))
	require.Len(t, credits, 2)
	require.Equal(t, YearCredit{Year: "2025年度", Credit: 41}, credits[0])
	require.Equal(t, YearCredit{Year: "2026年度", Credit: 12}, credits[1])
}

func TestExtractSyllabus(t *testing.T) {
	syllabus := extractSyllabus(fixture(t, "syllabus.html"))

	require.Equal(t, "微分積分学", syllabus.SubjectsName)
	require.Equal(t, "山本 一郎", syllabus.TeacherName)
	require.Equal(t, "前期", syllabus.SemesterName)
	require.Equal(t, "2", syllabus.Credit)
	require.Equal(t, "共通棟301", syllabus.ClassRoom)
	require.Equal(t, "期末試験70% レポート30%", syllabus.EvaluationMethod)

	// long-form sections come back as markdown
	require.Contains(t, syllabus.ClassTarget, "**極限の概念**")
	require.Contains(t, syllabus.ClassPlan, "第1回 実数と数列の極限")
}

func TestExtractSamlAssertion(t *testing.T) {
	relayState, samlResponse, err := extractSamlAssertion(fixture(t, "saml_relay.html"))
	require.NoError(t, err)

	// entity-encoded colons decode with the rest of the attribute
	require.Equal(t, "ss:mem:a1b2c3d4e5f6", relayState)
	require.True(t, strings.HasPrefix(samlResponse, "PHNhbWxwOlJlc3BvbnNl"))
}

func TestExtractSamlAssertionMissingForm(t *testing.T) {
	_, _, err := extractSamlAssertion(fixture(t, "home.html"))
	require.Error(t, err)

	var structural *PageStructureError
	require.ErrorAs(t, err, &structural)
}

func TestExtractStudentName(t *testing.T) {
	name, err := extractStudentName(fixture(t, "home.html"))
	require.NoError(t, err)
	require.Equal(t, "静大 太郎", name)
}

func TestExtractAcademicFlags(t *testing.T) {
	flags := extractAcademicFlags(fixture(t, "academic_menu.html"))
	require.True(t, flags.LotteryOpen)
	require.True(t, flags.LotteryResultOpen)
	require.True(t, flags.RegistrationOpen)
	require.True(t, flags.GradesAvailable)

	partial := extractAcademicFlags(fixture(t, "registration_closed.html"))
	require.False(t, partial.LotteryOpen)
	require.False(t, partial.GradesAvailable)
}
