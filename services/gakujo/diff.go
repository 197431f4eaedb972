package gakujo

import (
	"strings"

	scraper "gakujo-backend/lib/scrapers/gakujo"
)

// Diffing compares records by their business key, never by structural
// equality: lists are rebuilt from scratch on every fetch, so object
// identity means nothing across syncs.
type keyed interface {
	Key() string
}

// prefixDiff returns the fetched records that precede the stored head.
// The portal lists announcements strictly newest-first, so scanning
// stops at the first key match and never reaches older entries.
func prefixDiff[T keyed](stored, fetched []T) []T {
	if len(stored) == 0 {
		return fetched
	}
	head := stored[0].Key()
	for i, record := range fetched {
		if record.Key() == head {
			return fetched[:i]
		}
	}
	return fetched
}

// setDiff returns the indices of fetched records whose key appears
// nowhere in the stored list.
func setDiff[T keyed](stored, fetched []T) []int {
	known := make(map[string]struct{}, len(stored))
	for _, record := range stored {
		known[record.Key()] = struct{}{}
	}
	var added []int
	for i, record := range fetched {
		if _, ok := known[record.Key()]; !ok {
			added = append(added, i)
		}
	}
	return added
}

// mergeReports folds a fresh listing into the stored collection.
// Matched records take the listing's mutable fields in place, keeping
// previously fetched detail; unmatched records are appended and their
// indices into the merged slice returned.
func mergeReports(stored, fetched []scraper.Report) ([]scraper.Report, []int) {
	position := make(map[string]int, len(stored))
	merged := make([]scraper.Report, len(stored))
	copy(merged, stored)
	for i, record := range merged {
		position[record.Key()] = i
	}

	var added []int
	for _, record := range fetched {
		i, ok := position[record.Key()]
		if !ok {
			merged = append(merged, record)
			added = append(added, len(merged)-1)
			continue
		}
		existing := &merged[i]
		existing.Subjects = record.Subjects
		existing.Title = record.Title
		existing.Status = record.Status
		existing.Start = record.Start
		existing.End = record.End
		existing.Submitted = record.Submitted
		existing.Format = record.Format
		existing.Operation = record.Operation
	}
	return merged, added
}

func mergeQuizzes(stored, fetched []scraper.Quiz) ([]scraper.Quiz, []int) {
	position := make(map[string]int, len(stored))
	merged := make([]scraper.Quiz, len(stored))
	copy(merged, stored)
	for i, record := range merged {
		position[record.Key()] = i
	}

	var added []int
	for _, record := range fetched {
		i, ok := position[record.Key()]
		if !ok {
			merged = append(merged, record)
			added = append(added, len(merged)-1)
			continue
		}
		existing := &merged[i]
		existing.Subjects = record.Subjects
		existing.Title = record.Title
		existing.Status = record.Status
		existing.Start = record.Start
		existing.End = record.End
		existing.SubmissionStatus = record.SubmissionStatus
		existing.Format = record.Format
		existing.Operation = record.Operation
	}
	return merged, added
}

// diffNews compares on content rather than position: the home screen
// renumbers rows as old announcements roll off.
func diffNews(stored, fetched []scraper.News) []scraper.News {
	known := make(map[string]struct{}, len(stored))
	for _, record := range stored {
		known[newsKey(record)] = struct{}{}
	}
	var added []scraper.News
	for _, record := range fetched {
		if _, ok := known[newsKey(record)]; !ok {
			added = append(added, record)
		}
	}
	return added
}

func newsKey(record scraper.News) string {
	return record.Type + "/" + record.Title + "/" + record.Date.Format("2006-01-02 15:04")
}

// ApplyOpenCounts rescans the full report and quiz collections against
// every timetable cell. Counts are recomputed from scratch each time
// either collection changes; matching is on the cell's name（class）
// composite appearing in the record's subject label.
func ApplyOpenCounts(table *scraper.ClassTable, reports []scraper.Report, quizzes []scraper.Quiz) {
	for i := range table {
		for j := range table[i] {
			cell := &table[i][j]
			cell.ReportCount = 0
			cell.QuizCount = 0
			if cell.SubjectsName == "" {
				continue
			}
			composite := cell.SubjectsComposite()
			for _, report := range reports {
				if report.IsSubmittable() && strings.Contains(report.Subjects, composite) {
					cell.ReportCount++
				}
			}
			for _, quiz := range quizzes {
				if quiz.IsSubmittable() && strings.Contains(quiz.Subjects, composite) {
					cell.QuizCount++
				}
			}
		}
	}
}
