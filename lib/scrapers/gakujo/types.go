package gakujo

import (
	"fmt"
	"time"
)

// Account carries everything that must survive between runs for a
// login to work: the protected credential pair, the device-trust
// cookie that skips the adaptive-authentication challenge, and the
// per-feature last-sync stamps.
type Account struct {
	Username string
	Password string

	StudentName string
	LoggedInAt  time.Time

	// device-trust cookie captured on the adaptive-authentication
	// branch of the first login from a new environment
	AccessEnvironmentKey   string
	AccessEnvironmentValue string

	NewsSyncedAt          time.Time
	ReportSyncedAt        time.Time
	QuizSyncedAt          time.Time
	ContactSyncedAt       time.Time
	SharedFileSyncedAt    time.Time
	LotterySyncedAt       time.Time
	LotteryResultSyncedAt time.Time
	RegistrationSyncedAt  time.Time
	GradeSyncedAt         time.Time
}

type News struct {
	Index int
	Type  string
	Date  time.Time
	Title string
}

type Report struct {
	Subjects    string
	Title       string
	Id          string
	SchoolYear  string
	SubjectCode string
	ClassCode   string
	Status      string
	Start       time.Time
	End         time.Time
	Submitted   time.Time
	Format      string
	Operation   string

	// populated lazily by the detail fetch
	EvaluationMethod string
	Description      string
	Message          string
	Files            []string
}

// Key is the business identity used for diffing. Lists are rebuilt
// from scratch every fetch, so identity lives here, not in object
// references.
func (r Report) Key() string {
	return r.SubjectCode + "/" + r.ClassCode + "/" + r.Id
}

// IsAcquired reports whether the long-form detail has been fetched.
func (r Report) IsAcquired() bool {
	return r.EvaluationMethod != ""
}

// IsSubmittable is re-derived on every use: the submission window is
// open and nothing has been handed in yet.
func (r Report) IsSubmittable() bool {
	return r.Status == "受付中" && r.Submitted.IsZero()
}

type Quiz struct {
	Subjects         string
	Title            string
	Id               string
	SchoolYear       string
	SubjectCode      string
	ClassCode        string
	Status           string
	Start            time.Time
	End              time.Time
	SubmissionStatus string
	Format           string
	Operation        string

	QuestionCount    int
	EvaluationMethod string
	Description      string
	Message          string
	Files            []string
}

func (q Quiz) Key() string {
	return q.SubjectCode + "/" + q.ClassCode + "/" + q.Id
}

func (q Quiz) IsAcquired() bool {
	return q.EvaluationMethod != ""
}

func (q Quiz) IsSubmittable() bool {
	return q.Status == "受付中" && q.SubmissionStatus == "未提出"
}

// ClassContact is an announcement. Its key is weaker than an id and
// can collide; upstream treats that as acceptable.
type ClassContact struct {
	Subjects    string
	TeacherName string
	ContactType string
	Title       string
	Content     string
	FileRelease string
	ReferenceUrl string
	Severity    string
	TargetDate  time.Time
	ContactDate time.Time
	WebReply    string
	Files       []string
}

func (c ClassContact) Key() string {
	return c.Subjects + "/" + c.Title + "/" + c.ContactDate.Format(time.RFC3339)
}

func (c ClassContact) IsAcquired() bool {
	return c.ContactType != ""
}

type SharedFile struct {
	Subjects     string
	Title        string
	Size         string
	UpdateDate   time.Time
	Description  string
	PublicPeriod string
	Files        []string
}

func (f SharedFile) Key() string {
	return f.Subjects + "/" + f.Title + "/" + f.UpdateDate.Format(time.RFC3339)
}

// LotteryRegistration is one candidate row in a per-slot lottery
// table. ChoiceKey/Choice mirror the radio group for the submit body.
type LotteryRegistration struct {
	WeekdayPeriod    string
	SubjectsName     string
	ClassName        string
	SubjectsSection  string
	SelectionSection string
	Credit           int
	IsRegisterable   bool
	Capacity         int
	FirstApplicants  int
	SecondApplicants int
	ThirdApplicants  int
	ChoiceKey        string
	Choice           int
}

// ChoiceNumberFragment renders this row's radio selection as a form
// body fragment for the lottery submit request.
func (l LotteryRegistration) ChoiceNumberFragment() string {
	return fmt.Sprintf("&%s=%d", l.ChoiceKey, l.Choice)
}

type LotteryResult struct {
	WeekdayPeriod    string
	SubjectsName     string
	ClassName        string
	SubjectsSection  string
	SelectionSection string
	Credit           int
	Choice           int
	IsWinning        bool
}

// LotteryEntry is a caller's wish: rank this subject/class at the
// given aspiration order (1..3).
type LotteryEntry struct {
	SubjectsName    string
	ClassName       string
	AspirationOrder int
}

// GeneralRegistration is one registerable class row from the course
// search screen. The code fields come from the row's onclick handler
// and are echoed verbatim in the submit body.
type GeneralRegistration struct {
	WeekdayPeriod string
	SubjectsName  string
	TeacherName   string
	ClassRoom     string
	Credit        int
	KamokuCode    string
	ClassCode     string
	Unit          string
	SelectKamoku  string
	Radio         string
}

// RegistrationEntry asks for the class matching (SubjectsName,
// ClassName) to be registered into the slot named by WeekdayPeriod.
// The Entried* codes record what occupied the slot before the attempt
// so a failed overwrite can put it back.
type RegistrationEntry struct {
	WeekdayPeriod     string
	SubjectsName      string
	ClassName         string
	EntriedKamokuCode string
	EntriedClassCode  string
}

// EntriedClass is what currently occupies a timetable slot on the
// registration screen. The code pair comes from the removal link and
// is what ClearRegistration and restores key on.
type EntriedClass struct {
	WeekdayPeriod    string
	SubjectsName     string
	TeacherName      string
	SelectionSection string
	Credit           int
	ClassRoom        string
	KamokuCode       string
	ClassCode        string
}

// RegistrationSlot aggregates the registration state of one timetable
// slot: what is entried plus the candidate lists attached post-hoc.
type RegistrationSlot struct {
	Entried       EntriedClass
	Registerable  []GeneralRegistration
	Lottery       []LotteryRegistration
	LotteryResult []LotteryResult
}

// RegistrationGrid is the registration view of the timetable, 7
// period slots by 5 weekdays.
type RegistrationGrid [7][5]RegistrationSlot

type Syllabus struct {
	SubjectsName        string
	TeacherName         string
	Affiliation         string
	ResearchRoom        string
	SharingTeacherName  string
	ClassName           string
	SemesterName        string
	SelectionSection    string
	TargetGrade         string
	Credit              string
	WeekdayPeriod       string
	ClassRoom           string
	Keyword             string
	ClassTarget         string
	LearningDetail      string
	ClassPlan           string
	Textbook            string
	ReferenceBook       string
	PreparationReview   string
	EvaluationMethod    string
	OfficeHour          string
	Message             string
	ActiveLearning      string
	TeacherExperience   string
	TeacherCareerDetail string
	TeachingSection     string
	RelatedSubjects     string
	Other               string
	HomeClassStyle      string
	HomeClassStyleDetail string
}

// ClassTableCell is one slot of the 7x5 timetable grid, the root
// aggregate that registration sub-records and open-item counters are
// attached to.
type ClassTableCell struct {
	SubjectsName     string
	SubjectsId       string
	ClassName        string
	TeacherName      string
	ClassRoom        string
	SubjectsSection  string
	SelectionSection string
	Credit           int
	KamokuCode       string
	ClassCode        string
	Syllabus         Syllabus

	ReportCount int
	QuizCount   int

	Registrations RegistrationSlot
}

// SubjectsComposite is the `name（class）` string the report/quiz
// subject labels embed, used to re-apply open-item counters.
func (c ClassTableCell) SubjectsComposite() string {
	return fmt.Sprintf("%s（%s）", c.SubjectsName, c.ClassName)
}

// ClassTable is the full grid: 7 period slots by 5 weekdays.
type ClassTable [7][5]ClassTableCell

type ClassResult struct {
	Subjects         string
	TeacherName      string
	SubjectsSection  string
	SelectionSection string
	Credit           int
	Evaluation       string
	Score            float64
	Gp               float64
	AcquisitionYear  string
	ReportDate       time.Time
	TestType         string
}

func (c ClassResult) Key() string {
	return c.Subjects + "/" + c.AcquisitionYear + "/" + c.ReportDate.Format(time.RFC3339)
}

type EvaluationCredit struct {
	Evaluation string
	Credit     int
}

type SemesterGpa struct {
	Year     string
	Semester string
	Gpa      float64
}

type DepartmentGpa struct {
	Grade           int
	Gpa             float64
	SemesterGpas    []SemesterGpa
	CalculationDate time.Time
	// [place, cohort size]
	DepartmentRank [2]int
	CourseRank     [2]int
	// rank chart PNGs, opaque base64 blobs
	DepartmentImage string
	CourseImage     string
}

type YearCredit struct {
	Year   string
	Credit int
}

type SchoolGrade struct {
	ClassResults      []ClassResult
	EvaluationCredits []EvaluationCredit
	DepartmentGpa     DepartmentGpa
	YearCredits       []YearCredit
}

// AcademicFlags are the enablement flags scraped from the academic
// subsystem menu after its SSO hop. A false flag means the feature is
// closed this cycle, not that anything failed.
type AcademicFlags struct {
	LotteryOpen       bool
	LotteryResultOpen bool
	RegistrationOpen  bool
	GradesAvailable   bool
}
