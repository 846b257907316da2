package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/criadorlab/planner/backend/internal/access"
	"github.com/criadorlab/planner/backend/internal/models"
	"github.com/criadorlab/planner/backend/internal/vocab"
	"github.com/lib/pq"
)

func strPtr(s string) *string { return &s }

func TestNormalizeWeekStart_TruncatesToSunday(t *testing.T) {
	// Wednesday Sep 2 2026 -> Sunday Aug 30 2026.
	wed := time.Date(2026, time.September, 2, 17, 45, 0, 0, time.UTC)
	got := NormalizeWeekStart(wed)
	want := time.Date(2026, time.August, 30, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s got %s", want, got)
	}
	if !NormalizeWeekStart(want).Equal(want) {
		t.Fatalf("normalizing a week start must be a no-op")
	}
}

func TestValidateSlots_FlagsOnlyOffendingSlots(t *testing.T) {
	slots := []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel},
		{DayOfWeek: 9, BlockStartHour: 9, Format: models.FormatReel},
		{DayOfWeek: 3, BlockStartHour: 10, Format: models.FormatPhoto},
		{DayOfWeek: 3, BlockStartHour: 12, Format: "hologram"},
	}
	errs := ValidateSlots(slots, nil)
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors got %d: %+v", len(errs), errs)
	}
	if errs[0].Index != 1 || errs[1].Index != 2 || errs[2].Index != 3 {
		t.Fatalf("wrong indexes: %+v", errs)
	}
}

func TestValidateSlots_UnknownCategoryTermsRejected(t *testing.T) {
	v := vocab.Vocabulary{
		vocab.KindContext: {"regional": "Regional"},
		vocab.KindTone:    {"funny": "Funny"},
	}
	slots := []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel,
			Categories: models.SlotCategories{Context: []string{"regional"}, Tone: "funny"}},
		{DayOfWeek: 2, BlockStartHour: 12, Format: models.FormatReel,
			Categories: models.SlotCategories{Context: []string{"zz-not-a-term"}, Tone: "nonsense-tone"}},
	}
	errs := ValidateSlots(slots, v)
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error got %d: %+v", len(errs), errs)
	}
	if errs[0].Index != 1 || errs[0].Field != "categories" {
		t.Fatalf("expected a categories error on slot 1, got %+v", errs[0])
	}
	if !strings.Contains(errs[0].Msg, "zz-not-a-term") || !strings.Contains(errs[0].Msg, "nonsense-tone") {
		t.Fatalf("offending terms must be named: %q", errs[0].Msg)
	}

	// Without a vocabulary, tags are not checked; structural checks still run.
	if errs := ValidateSlots(slots, nil); len(errs) != 0 {
		t.Fatalf("nil vocabulary must skip tag checks, got %+v", errs)
	}
}

func TestValidateSlots_EmptyVocabularyKindAcceptsNothing(t *testing.T) {
	v := vocab.Vocabulary{vocab.KindTone: {"funny": "Funny"}}
	slots := []models.Slot{
		{DayOfWeek: 3, BlockStartHour: 9, Format: models.FormatPhoto,
			Categories: models.SlotCategories{Proposal: []string{"tutorial"}}},
	}
	errs := ValidateSlots(slots, v)
	if len(errs) != 1 || errs[0].Field != "categories" {
		t.Fatalf("a kind with no terms must reject every tag, got %+v", errs)
	}
}

func TestApplyLifecycle_NewEmptySlotStaysPlanned(t *testing.T) {
	slot := models.Slot{Format: models.FormatReel}
	applyLifecycle(nil, &slot)
	if slot.Status != models.StatusPlanned {
		t.Fatalf("expected planned got %s", slot.Status)
	}
}

func TestApplyLifecycle_TextEditMovesToDrafted(t *testing.T) {
	prev := models.Slot{ID: strPtr("s1"), Status: models.StatusPlanned, Title: strPtr("old")}
	next := models.Slot{ID: strPtr("s1"), Status: models.StatusPlanned, Title: strPtr("new title")}
	applyLifecycle(&prev, &next)
	if next.Status != models.StatusDrafted {
		t.Fatalf("expected drafted got %s", next.Status)
	}
}

func TestApplyLifecycle_ExplicitTestWins(t *testing.T) {
	prev := models.Slot{ID: strPtr("s1"), Status: models.StatusDrafted, Title: strPtr("a")}
	next := models.Slot{ID: strPtr("s1"), Status: models.StatusTest, Title: strPtr("b")}
	applyLifecycle(&prev, &next)
	if next.Status != models.StatusTest || !next.IsExperiment {
		t.Fatalf("expected test slot with experiment flag got %+v", next)
	}

	// And the flag alone implies test status.
	flagged := models.Slot{Status: models.StatusPlanned, IsExperiment: true}
	applyLifecycle(nil, &flagged)
	if flagged.Status != models.StatusTest {
		t.Fatalf("isExperiment must imply test status, got %s", flagged.Status)
	}
}

func TestApplyLifecycle_HandEditClearsAIAttribution(t *testing.T) {
	prev := models.Slot{ID: strPtr("s1"), Status: models.StatusDrafted,
		Title: strPtr("generated title"), AIVersionID: strPtr("v1")}
	next := models.Slot{ID: strPtr("s1"), Status: models.StatusDrafted,
		Title: strPtr("my own title"), AIVersionID: strPtr("v1")}
	applyLifecycle(&prev, &next)
	if next.AIVersionID != nil {
		t.Fatalf("hand edit must clear aiVersionId, got %v", *next.AIVersionID)
	}

	// Unedited text keeps the attribution.
	same := models.Slot{ID: strPtr("s1"), Status: models.StatusDrafted,
		Title: strPtr("generated title"), AIVersionID: strPtr("v1")}
	applyLifecycle(&prev, &same)
	if same.AIVersionID == nil || *same.AIVersionID != "v1" {
		t.Fatalf("unedited slot must keep aiVersionId, got %+v", same.AIVersionID)
	}
}

func TestApplyLifecycle_PostedIsImmutableExceptMetrics(t *testing.T) {
	v := 1000.0
	prev := models.Slot{ID: strPtr("s1"), Status: models.StatusPosted,
		Title: strPtr("published"), Format: models.FormatReel}
	next := models.Slot{ID: strPtr("s1"), Status: models.StatusDrafted,
		Title: strPtr("sneaky rewrite"), Format: models.FormatPhoto,
		ExpectedMetrics: models.ExpectedMetrics{ViewsP50: &v}}
	applyLifecycle(&prev, &next)
	if next.Status != models.StatusPosted {
		t.Fatalf("posted must stay posted, got %s", next.Status)
	}
	if next.Title == nil || *next.Title != "published" || next.Format != models.FormatReel {
		t.Fatalf("posted content must not change: %+v", next)
	}
	if next.ExpectedMetrics.ViewsP50 == nil || *next.ExpectedMetrics.ViewsP50 != 1000 {
		t.Fatalf("metric refresh must apply: %+v", next.ExpectedMetrics)
	}
}

func TestDuplicate_NewDraftWithSuffixedTitle(t *testing.T) {
	src := models.Slot{
		ID:          strPtr("s1"),
		DayOfWeek:   3,
		Status:      models.StatusTest,
		Title:       strPtr("Receita regional"),
		AIVersionID: strPtr("v7"),
		Beats:       []string{"b1", "b2"},
	}
	dup := Duplicate(src)
	if dup.ID != nil || dup.AIVersionID != nil {
		t.Fatalf("duplicate must not reuse slotId or aiVersionId: %+v", dup)
	}
	if dup.Status != models.StatusDrafted {
		t.Fatalf("expected drafted got %s", dup.Status)
	}
	if dup.Title == nil || *dup.Title == *src.Title {
		t.Fatalf("duplicate title must differ from source, got %v", dup.Title)
	}
	dup.Beats[0] = "changed"
	if src.Beats[0] != "b1" {
		t.Fatalf("duplicate must not share slices with source")
	}
}

func TestRemoveFromList_ByIDAndByCoordinate(t *testing.T) {
	slots := []models.Slot{
		{ID: strPtr("s1"), DayOfWeek: 2, BlockStartHour: 9},
		{DayOfWeek: 2, BlockStartHour: 9}, // unpersisted stub at the same coordinate
		{DayOfWeek: 2, BlockStartHour: 9}, // second stub
	}

	// Coordinate match removes exactly one stub, never the persisted slot.
	out, removed := RemoveFromList(slots, models.Slot{DayOfWeek: 2, BlockStartHour: 9})
	if !removed || len(out) != 2 {
		t.Fatalf("expected one stub removed got removed=%v len=%d", removed, len(out))
	}
	if out[0].ID == nil || *out[0].ID != "s1" {
		t.Fatalf("persisted slot must survive coordinate deletes: %+v", out[0])
	}

	// ID match removes only that slot.
	out, removed = RemoveFromList(slots, models.Slot{ID: strPtr("s1")})
	if !removed || len(out) != 2 || out[0].ID != nil {
		t.Fatalf("expected s1 removed got removed=%v %+v", removed, out)
	}

	// No match leaves the list alone.
	out, removed = RemoveFromList(slots, models.Slot{DayOfWeek: 5, BlockStartHour: 18})
	if removed || len(out) != 3 {
		t.Fatalf("expected no removal got removed=%v len=%d", removed, len(out))
	}
}

func storeWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return New(db), mock, func() { _ = db.Close() }
}

func expectGateAllows(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM public\.subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id", "status", "reason", "locked"}).
			AddRow("pro", "active", nil, false))
}

func expectGateDenies(mock sqlmock.Sqlmock, reason string) {
	mock.ExpectQuery(`FROM public\.subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id", "status", "reason", "locked"}).
			AddRow("pro", "past_due", reason, false))
}

func TestSave_GateDenied_NoWrites(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	expectGateDenies(mock, "Payment failed.")

	_, _, err := s.Save(context.Background(), "c1", time.Now(), []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel},
	})
	if err == nil {
		t.Fatalf("expected EditNotAllowed")
	}
	ena, ok := err.(*EditNotAllowedError)
	if !ok {
		t.Fatalf("expected *EditNotAllowedError got %T: %v", err, err)
	}
	if ena.Reason != "Payment failed." {
		t.Fatalf("expected gate reason got %q", ena.Reason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no slot writes may happen on a denied gate: %v", err)
	}
}

func TestDelete_UnpersistedTarget_NeverTouchesRows(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	expectGateAllows(mock)

	removed, err := s.Delete(context.Background(), "c1", time.Now(), models.Slot{DayOfWeek: 2, BlockStartHour: 9})
	if err != nil {
		t.Fatalf("Delete err=%v", err)
	}
	if removed {
		t.Fatalf("coordinate fallback must not delete persisted rows")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected SQL: %v", err)
	}
}

func TestDelete_PersistedTargetByID(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	expectGateAllows(mock)
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WithArgs("s1", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := s.Delete(context.Background(), "c1", time.Now(), models.Slot{ID: strPtr("s1")})
	if err != nil {
		t.Fatalf("Delete err=%v", err)
	}
	if !removed {
		t.Fatalf("expected row removed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestLoad_NotAuthorized(t *testing.T) {
	s, _, done := storeWithMock(t)
	defer done()

	_, _, err := s.Load(context.Background(), "intruder", "c1", time.Now())
	if err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized got %v", err)
	}
}

func TestLoad_EmptyWeek_ReturnsEmptyListAndFullGrid(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	mock.ExpectQuery(`FROM public\.slots`).
		WithArgs("wk_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM public\.creator_posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "creator_id", "posted_at", "view_count", "interaction_count"}))

	slots, heatmap, err := s.Load(context.Background(), "c1", "c1", time.Now())
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("no slots yet must be an empty list, got %#v", slots)
	}
	if len(heatmap) != 28 {
		t.Fatalf("expected full 28-point grid got %d", len(heatmap))
	}
	for _, p := range heatmap {
		if p.Score != 0 || p.Observed {
			t.Fatalf("no history means every bucket empty: %+v", p)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func slotRowColumns() []string {
	return []string{"id", "day_of_week", "block_start_hour", "format", "status", "is_experiment",
		"title", "script_short", "theme_keyword", "themes", "context_tags", "proposal_tags", "tone", "reference_tags",
		"views_p50", "views_p90", "shares_p50", "rationale", "evidence_samples", "beats",
		"recording_time_sec", "ai_version_id", "created_at", "updated_at"}
}

func TestSave_ReplacesWeekAtomically(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	now := time.Now().UTC()
	expectGateAllows(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	// Previous contents of the week.
	mock.ExpectQuery(`FROM public\.slots`).
		WithArgs("wk_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	// Whole-list replace: anything not resubmitted is dropped.
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO public\.slots`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns()).
			AddRow("slot-1", 2, 9, "reel", "planned", false,
				nil, nil, nil, "{}", "{}", "{}", "", "{}",
				nil, nil, nil, "{}", []byte("null"), "{}",
				nil, nil, now, now))
	mock.ExpectCommit()

	saved, verrs, err := s.Save(context.Background(), "c1", now, []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel},
	})
	if err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if len(verrs) != 0 {
		t.Fatalf("unexpected validation errors: %+v", verrs)
	}
	if len(saved) != 1 || saved[0].ID == nil {
		t.Fatalf("expected one persisted slot got %+v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSave_InvalidSlotRejectedOthersSaved(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	now := time.Now().UTC()
	expectGateAllows(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	mock.ExpectQuery(`FROM public\.slots`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO public\.slots`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns()).
			AddRow("slot-1", 2, 9, "reel", "planned", false,
				nil, nil, nil, "{}", "{}", "{}", "", "{}",
				nil, nil, nil, "{}", []byte("null"), "{}",
				nil, nil, now, now))
	mock.ExpectCommit()

	saved, verrs, err := s.Save(context.Background(), "c1", now, []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel},
		{DayOfWeek: 99, BlockStartHour: 9, Format: models.FormatReel},
	})
	if err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if len(verrs) != 1 || verrs[0].Index != 1 {
		t.Fatalf("expected the second slot rejected, got %+v", verrs)
	}
	if len(saved) != 1 {
		t.Fatalf("valid slots must still save, got %d", len(saved))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

type staticVocab struct{ v vocab.Vocabulary }

func (s staticVocab) Load(context.Context) (vocab.Vocabulary, error) { return s.v, nil }

func TestSave_UnknownCategoryTagNotPersisted(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()
	s.Vocab = staticVocab{v: vocab.Vocabulary{vocab.KindContext: {"regional": "Regional"}}}

	now := time.Now().UTC()
	expectGateAllows(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	mock.ExpectQuery(`FROM public\.slots`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// No INSERT: the only submitted slot is rejected.
	mock.ExpectCommit()

	saved, verrs, err := s.Save(context.Background(), "c1", now, []models.Slot{
		{DayOfWeek: 2, BlockStartHour: 9, Format: models.FormatReel,
			Categories: models.SlotCategories{Context: []string{"zz-not-a-term"}}},
	})
	if err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "categories" {
		t.Fatalf("expected a categories rejection got %+v", verrs)
	}
	if len(saved) != 0 {
		t.Fatalf("rejected slot must not persist, got %+v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSave_InvalidResubmissionKeepsStoredRow(t *testing.T) {
	s, mock, done := storeWithMock(t)
	defer done()

	now := time.Now().UTC()
	expectGateAllows(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	// s-bad is already persisted in this week.
	mock.ExpectQuery(`FROM public\.slots`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns()).
			AddRow("s-bad", 2, 9, "reel", "drafted", false,
				"Last good title", nil, nil, "{}", "{}", "{}", "", "{}",
				nil, nil, nil, "{}", []byte("null"), "{}",
				nil, nil, now, now))
	// The rejected slot's id must stay on the keep-list so the replace
	// delete leaves its stored row alone.
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WithArgs("wk_1", pq.Array([]string{"s-bad"})).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// No INSERT: the bad resubmission is skipped.
	mock.ExpectCommit()

	saved, verrs, err := s.Save(context.Background(), "c1", now, []models.Slot{
		{ID: strPtr("s-bad"), DayOfWeek: 99, BlockStartHour: 9, Format: models.FormatReel},
	})
	if err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "coordinate" {
		t.Fatalf("expected a coordinate rejection got %+v", verrs)
	}
	if len(saved) != 0 {
		t.Fatalf("rejected slot must not be rewritten, got %+v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSave_LastWriteWinsAcrossSessions(t *testing.T) {
	// Two sessions editing the same week: the second full-list save replaces
	// the first's rows entirely. That is the contract of whole-list
	// replacement, not a bug.
	s, mock, done := storeWithMock(t)
	defer done()

	now := time.Now().UTC()
	expectGateAllows(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO public\.week_plans`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM public\.week_plans`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wk_1"))
	// The first session's slot is already stored.
	mock.ExpectQuery(`FROM public\.slots`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns()).
			AddRow("s-first", 2, 9, "reel", "drafted", false,
				"First session slot", nil, nil, "{}", "{}", "{}", "", "{}",
				nil, nil, nil, "{}", []byte("null"), "{}",
				nil, nil, now, now))
	// The second session never saw s-first, so its keep-list is empty and
	// the replace delete drops the first session's work.
	mock.ExpectExec(`DELETE FROM public\.slots`).
		WithArgs("wk_1", pq.Array([]string{})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO public\.slots`).
		WillReturnRows(sqlmock.NewRows(slotRowColumns()).
			AddRow("s-second", 3, 12, "photo", "drafted", false,
				"Second session slot", nil, nil, "{}", "{}", "{}", "", "{}",
				nil, nil, nil, "{}", []byte("null"), "{}",
				nil, nil, now, now))
	mock.ExpectCommit()

	saved, verrs, err := s.Save(context.Background(), "c1", now, []models.Slot{
		{DayOfWeek: 3, BlockStartHour: 12, Format: models.FormatPhoto, Title: strPtr("Second session slot")},
	})
	if err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if len(verrs) != 0 {
		t.Fatalf("unexpected validation errors: %+v", verrs)
	}
	if len(saved) != 1 || *saved[0].ID != "s-second" {
		t.Fatalf("expected only the second session's slot, got %+v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestAccessGateExported(t *testing.T) {
	// The store must always consult a gate; New wires one by default.
	s := New(nil)
	if s.Gate == nil {
		t.Fatalf("store must carry an access gate")
	}
	if res := access.Resolve(access.State{}); res.Editable {
		t.Fatalf("zero state must not be editable")
	}
}
