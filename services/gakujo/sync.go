package gakujo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	scraper "gakujo-backend/lib/scrapers/gakujo"
	"gakujo-backend/lib/textutil"
	"gakujo-backend/lib/timezone"
	"gakujo-backend/services/notify"

	"go.opentelemetry.io/otel/codes"
)

// SyncNews replaces the stored announcement board with the portal's
// current one and reports entries not previously seen.
func (s Service) SyncNews(ctx context.Context) ([]scraper.News, error) {
	ctx, span := tracer.Start(ctx, "SyncNews")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}
	fetched, err := s.client.GetNews(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "news fetch failed")
		return nil, err
	}

	var stored []scraper.News
	_, err = s.store.Load(ctx, "news", &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "news load failed")
		return nil, err
	}
	added := diffNews(stored, fetched)

	err = s.store.Save(ctx, "news", fetched)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "news save failed")
		return nil, err
	}
	s.client.Account.NewsSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range added {
		messages = append(messages, notify.Message{
			Feature: "news",
			Title:   record.Title,
			Body:    fmt.Sprintf("%s %s", record.Type, record.Date.Format("2006/01/02 15:04")),
		})
	}
	s.push(ctx, messages)
	return added, nil
}

// SyncReports merges the fresh report listing into the stored
// collection and eagerly fetches the detail pane of every new record.
func (s Service) SyncReports(ctx context.Context) ([]scraper.Report, error) {
	ctx, span := tracer.Start(ctx, "SyncReports")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}
	fetched, err := s.client.GetReports(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report fetch failed")
		return nil, err
	}

	key := s.termKey("reports")
	var stored []scraper.Report
	_, err = s.store.Load(ctx, key, &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report load failed")
		return nil, err
	}
	merged, added := mergeReports(stored, fetched)

	var diff []scraper.Report
	for _, i := range added {
		if !merged[i].IsAcquired() {
			err := s.client.FetchReportDetail(ctx, &merged[i])
			if err != nil {
				// a failed detail fetch loses that pane, not the sync
				slog.WarnContext(ctx, "report detail fetch failed",
					"report", merged[i].Title, "err", err)
				span.RecordError(err)
			}
		}
		diff = append(diff, merged[i])
	}

	err = s.store.Save(ctx, key, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report save failed")
		return nil, err
	}
	s.client.Account.ReportSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range diff {
		messages = append(messages, notify.Message{
			Feature: "reports",
			Title:   record.Title,
			Body: fmt.Sprintf("%s\n提出期間 %s ～ %s",
				record.Subjects,
				record.Start.Format("2006/01/02 15:04"),
				record.End.Format("2006/01/02 15:04")),
		})
	}
	s.push(ctx, messages)
	return diff, nil
}

func (s Service) SyncQuizzes(ctx context.Context) ([]scraper.Quiz, error) {
	ctx, span := tracer.Start(ctx, "SyncQuizzes")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}
	fetched, err := s.client.GetQuizzes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz fetch failed")
		return nil, err
	}

	key := s.termKey("quizzes")
	var stored []scraper.Quiz
	_, err = s.store.Load(ctx, key, &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz load failed")
		return nil, err
	}
	merged, added := mergeQuizzes(stored, fetched)

	var diff []scraper.Quiz
	for _, i := range added {
		if !merged[i].IsAcquired() {
			err := s.client.FetchQuizDetail(ctx, &merged[i])
			if err != nil {
				slog.WarnContext(ctx, "quiz detail fetch failed",
					"quiz", merged[i].Title, "err", err)
				span.RecordError(err)
			}
		}
		diff = append(diff, merged[i])
	}

	err = s.store.Save(ctx, key, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz save failed")
		return nil, err
	}
	s.client.Account.QuizSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range diff {
		messages = append(messages, notify.Message{
			Feature: "quizzes",
			Title:   record.Title,
			Body: fmt.Sprintf("%s\n提出期間 %s ～ %s",
				record.Subjects,
				record.Start.Format("2006/01/02 15:04"),
				record.End.Format("2006/01/02 15:04")),
		})
	}
	s.push(ctx, messages)
	return diff, nil
}

// SyncClassContacts prepends announcements published since the stored
// head. The newest maxContactDetail of them get their detail pane
// fetched; older ones load lazily if a caller ever asks.
func (s Service) SyncClassContacts(ctx context.Context) ([]scraper.ClassContact, error) {
	ctx, span := tracer.Start(ctx, "SyncClassContacts")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}
	fetched, err := s.client.GetClassContacts(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contact fetch failed")
		return nil, err
	}

	key := s.termKey("contacts")
	var stored []scraper.ClassContact
	_, err = s.store.Load(ctx, key, &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contact load failed")
		return nil, err
	}
	diff := prefixDiff(stored, fetched)

	limit := s.maxContactDetail
	if limit < 0 || limit > len(diff) {
		limit = len(diff)
	}
	// diff is a prefix of the fetched listing, so the slice index is
	// also the row index the detail request needs
	for i := 0; i < limit; i++ {
		err := s.client.FetchContactDetail(ctx, i, &diff[i])
		if err != nil {
			slog.WarnContext(ctx, "contact detail fetch failed",
				"contact", diff[i].Title, "err", err)
			span.RecordError(err)
		}
	}

	merged := append(append([]scraper.ClassContact{}, diff...), stored...)
	err = s.store.Save(ctx, key, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contact save failed")
		return nil, err
	}
	s.client.Account.ContactSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range diff {
		messages = append(messages, notify.Message{
			Feature: "contacts",
			Title:   record.Title,
			Body:    fmt.Sprintf("%s %s\n%s", record.Subjects, record.TeacherName, record.Content),
		})
	}
	s.push(ctx, messages)
	return diff, nil
}

// SyncSharedFiles prepends, as one block, every listed file whose key
// is absent from the stored collection, detail included.
func (s Service) SyncSharedFiles(ctx context.Context) ([]scraper.SharedFile, error) {
	ctx, span := tracer.Start(ctx, "SyncSharedFiles")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}
	fetched, err := s.client.GetSharedFiles(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared file fetch failed")
		return nil, err
	}

	key := s.termKey("sharedfiles")
	var stored []scraper.SharedFile
	_, err = s.store.Load(ctx, key, &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared file load failed")
		return nil, err
	}

	var diff []scraper.SharedFile
	for _, idx := range setDiff(stored, fetched) {
		file := fetched[idx]
		err := s.client.FetchSharedFileDetail(ctx, idx, &file)
		if err != nil {
			slog.WarnContext(ctx, "shared file detail fetch failed",
				"file", file.Title, "err", err)
			span.RecordError(err)
		}
		diff = append(diff, file)
	}

	merged := append(append([]scraper.SharedFile{}, diff...), stored...)
	err = s.store.Save(ctx, key, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared file save failed")
		return nil, err
	}
	s.client.Account.SharedFileSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range diff {
		messages = append(messages, notify.Message{
			Feature: "sharedfiles",
			Title:   record.Title,
			Body:    fmt.Sprintf("%s (%s)", record.Subjects, record.Size),
		})
	}
	s.push(ctx, messages)
	return diff, nil
}

// SyncClassTables refreshes the timetable grid, resolving only the
// cells whose class identity changed, then recomputes the open
// report/quiz counters from the full stored collections.
func (s Service) SyncClassTables(ctx context.Context) (*scraper.ClassTable, error) {
	ctx, span := tracer.Start(ctx, "SyncClassTables")
	defer span.End()

	err := s.ensureSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return nil, err
	}

	var table scraper.ClassTable
	_, err = s.store.Load(ctx, "classtable", &table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classtable load failed")
		return nil, err
	}
	err = s.client.GetClassTables(ctx, &table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classtable fetch failed")
		return nil, err
	}

	var reports []scraper.Report
	var quizzes []scraper.Quiz
	_, err = s.store.Load(ctx, s.termKey("reports"), &reports)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report load failed")
		return nil, err
	}
	_, err = s.store.Load(ctx, s.termKey("quizzes"), &quizzes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quiz load failed")
		return nil, err
	}
	ApplyOpenCounts(&table, reports, quizzes)

	err = s.store.Save(ctx, "classtable", table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classtable save failed")
		return nil, err
	}
	return &table, nil
}

// SyncSchoolGrade refreshes the full grade picture. New class results
// (absent from the stored snapshot by key) are reported and pushed.
// Grades not being published yet is a normal empty state.
func (s Service) SyncSchoolGrade(ctx context.Context) ([]scraper.ClassResult, error) {
	ctx, span := tracer.Start(ctx, "SyncSchoolGrade")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return nil, err
	}
	if !flags.GradesAvailable {
		return nil, nil
	}

	grade, err := s.client.GetSchoolGrade(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade fetch failed")
		return nil, err
	}
	if grade == nil {
		return nil, nil
	}

	var stored scraper.SchoolGrade
	_, err = s.store.Load(ctx, "grades", &stored)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade load failed")
		return nil, err
	}

	var diff []scraper.ClassResult
	for _, idx := range setDiff(stored.ClassResults, grade.ClassResults) {
		diff = append(diff, grade.ClassResults[idx])
	}

	err = s.store.Save(ctx, "grades", grade)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade save failed")
		return nil, err
	}
	s.client.Account.GradeSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range diff {
		messages = append(messages, notify.Message{
			Feature: "grades",
			Title:   record.Subjects,
			Body:    fmt.Sprintf("評価 %s (%s)", record.Evaluation, record.AcquisitionYear),
		})
	}
	s.push(ctx, messages)
	return diff, nil
}

// SyncLotteryRegistrations snapshots the current lottery tables. A
// closed lottery window yields an empty result, not an error.
func (s Service) SyncLotteryRegistrations(ctx context.Context) ([]scraper.LotteryRegistration, error) {
	ctx, span := tracer.Start(ctx, "SyncLotteryRegistrations")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return nil, err
	}
	if !flags.LotteryOpen {
		return nil, nil
	}

	registrations, _, err := s.client.GetLotteryRegistrations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery fetch failed")
		return nil, err
	}
	err = s.store.Save(ctx, s.termKey("lottery"), registrations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery save failed")
		return nil, err
	}
	s.client.Account.LotterySyncedAt = timezone.Now()
	s.persistAccount(ctx)
	return registrations, nil
}

// SetLotteryRegistrations applies the caller's aspiration orders to
// the matching registerable rows and submits the whole lottery form.
func (s Service) SetLotteryRegistrations(ctx context.Context, entries []scraper.LotteryEntry) error {
	ctx, span := tracer.Start(ctx, "SetLotteryRegistrations")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return err
	}
	if !flags.LotteryOpen {
		return errors.New("the lottery registration window is closed")
	}

	registrations, vector, err := s.client.GetLotteryRegistrations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery fetch failed")
		return err
	}
	for _, entry := range entries {
		for i := range registrations {
			row := &registrations[i]
			if !row.IsRegisterable {
				continue
			}
			if row.SubjectsName == entry.SubjectsName && row.ClassName == entry.ClassName {
				row.Choice = entry.AspirationOrder
			}
		}
	}

	err = s.client.SubmitLottery(ctx, registrations, vector)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery submit failed")
		return err
	}
	err = s.store.Save(ctx, s.termKey("lottery"), registrations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery save failed")
		return err
	}
	s.client.Account.LotterySyncedAt = timezone.Now()
	s.persistAccount(ctx)
	return nil
}

func (s Service) SyncLotteryResults(ctx context.Context) ([]scraper.LotteryResult, error) {
	ctx, span := tracer.Start(ctx, "SyncLotteryResults")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return nil, err
	}
	if !flags.LotteryResultOpen {
		return nil, nil
	}

	results, err := s.client.GetLotteryResults(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery result fetch failed")
		return nil, err
	}
	err = s.store.Save(ctx, s.termKey("lottery_results"), results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lottery result save failed")
		return nil, err
	}
	s.client.Account.LotteryResultSyncedAt = timezone.Now()
	s.persistAccount(ctx)

	var messages []notify.Message
	for _, record := range results {
		if !record.IsWinning {
			continue
		}
		messages = append(messages, notify.Message{
			Feature: "lottery",
			Title:   fmt.Sprintf("%s %s", record.SubjectsName, record.ClassName),
			Body:    fmt.Sprintf("%s 第%d希望で当選しました", record.WeekdayPeriod, record.Choice),
		})
	}
	s.push(ctx, messages)
	return results, nil
}

// SyncRegistrations snapshots the registration timetable with the
// registerable candidates attached to their slots. A closed window
// yields a nil grid.
func (s Service) SyncRegistrations(ctx context.Context) (*scraper.RegistrationGrid, error) {
	ctx, span := tracer.Start(ctx, "SyncRegistrations")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return nil, err
	}
	if !flags.RegistrationOpen {
		return nil, nil
	}

	grid, err := s.client.GetGeneralRegistrations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration fetch failed")
		return nil, err
	}
	if grid == nil {
		return nil, nil
	}
	err = s.store.Save(ctx, s.termKey("registrations"), grid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration save failed")
		return nil, err
	}
	s.client.Account.RegistrationSyncedAt = timezone.Now()
	s.persistAccount(ctx)
	return grid, nil
}

// SetGeneralRegistrations submits the registration plan, then
// refreshes and persists the resulting grid. Conflict handling,
// overwrite and restore live in the client; slot labels come back
// normalized through the textutil codes.
func (s Service) SetGeneralRegistrations(ctx context.Context, entries []scraper.RegistrationEntry, overwrite bool) error {
	ctx, span := tracer.Start(ctx, "SetGeneralRegistrations")
	defer span.End()

	flags, err := s.academicFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "academic subsystem unavailable")
		return err
	}
	if !flags.RegistrationOpen {
		return errors.New("the course registration window is closed")
	}
	for _, entry := range entries {
		if textutil.WeekdayIndex(entry.WeekdayPeriod) < 0 || textutil.PeriodIndex(entry.WeekdayPeriod) < 0 {
			return fmt.Errorf("malformed slot label %q", entry.WeekdayPeriod)
		}
	}

	err = s.client.SetGeneralRegistrations(ctx, entries, overwrite)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration submit failed")
		return err
	}

	grid, err := s.client.GetGeneralRegistrations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration refresh failed")
		return err
	}
	if grid != nil {
		err = s.store.Save(ctx, s.termKey("registrations"), grid)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "registration save failed")
			return err
		}
	}
	s.client.Account.RegistrationSyncedAt = timezone.Now()
	s.persistAccount(ctx)
	return nil
}
