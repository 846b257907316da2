// Package planner owns the weekly slot grid: lazy week creation, the slot
// lifecycle, whole-list-replace saves, and the duplicate/delete operations.
package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/criadorlab/planner/backend/internal/access"
	"github.com/criadorlab/planner/backend/internal/analytics"
	"github.com/criadorlab/planner/backend/internal/models"
	"github.com/criadorlab/planner/backend/internal/vocab"
	"github.com/lib/pq"
)

// ErrNotAuthorized means the caller lacks read access to the creator's data.
// Fatal to the request, not retryable.
var ErrNotAuthorized = errors.New("not authorized")

// EditNotAllowedError carries the access gate's reason. Retryable once the
// user resolves billing.
type EditNotAllowedError struct {
	Reason string
}

func (e *EditNotAllowedError) Error() string {
	return fmt.Sprintf("edit not allowed: %s", e.Reason)
}

// SlotValidationError marks one malformed slot in a batch save. It is fatal
// to that slot only; the rest of the batch still saves.
type SlotValidationError struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e *SlotValidationError) Error() string {
	return fmt.Sprintf("slot %d: %s %s", e.Index, e.Field, e.Msg)
}

// Authorizer answers whether callerID may read creatorID's planner. The
// actual membership model lives with an external collaborator; the default
// only allows self-access.
type Authorizer func(ctx context.Context, callerID, creatorID string) (bool, error)

func selfOnly(_ context.Context, callerID, creatorID string) (bool, error) {
	return callerID == creatorID, nil
}

// VocabSource supplies the closed vocabulary slot category tags are validated
// against on save. A nil source skips tag checks.
type VocabSource interface {
	Load(ctx context.Context) (vocab.Vocabulary, error)
}

// Store is the weekly slot store over Postgres.
type Store struct {
	DB         *sql.DB
	Gate       *access.Gate
	Authorize  Authorizer
	Vocab      VocabSource
	WindowDays int
	Logger     *log.Logger
}

// New builds a store with self-only read authorization and the default
// heatmap window.
func New(db *sql.DB) *Store {
	return &Store{
		DB:         db,
		Gate:       &access.Gate{DB: db},
		Authorize:  selfOnly,
		WindowDays: analytics.DefaultWindowDays,
		Logger:     log.Default(),
	}
}

// NormalizeWeekStart truncates t to the start of its calendar week
// (Sunday 00:00 in t's location), matching dayOfWeek 1=Sunday.
func NormalizeWeekStart(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return t.AddDate(0, 0, -int(t.Weekday()))
}

func (s *Store) window() time.Duration {
	days := s.WindowDays
	if days <= 0 {
		days = analytics.DefaultWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ensureWeekPlan lazily creates the week row and returns its id. Weeks are
// never deleted, only shadowed by later weeks.
func ensureWeekPlan(ctx context.Context, q queryer, creatorID string, weekStart time.Time) (string, error) {
	id := fmt.Sprintf("wk_%s_%s", creatorID, weekStart.Format("2006-01-02"))
	_, err := q.ExecContext(ctx, `
		INSERT INTO public.week_plans (id, creator_id, week_start, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (creator_id, week_start) DO NOTHING
	`, id, creatorID, weekStart)
	if err != nil {
		return "", err
	}
	var got string
	err = q.QueryRowContext(ctx, `
		SELECT id FROM public.week_plans WHERE creator_id = $1 AND week_start = $2
	`, creatorID, weekStart).Scan(&got)
	return got, err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const slotColumns = `id, day_of_week, block_start_hour, format, status, is_experiment,
	       title, script_short, theme_keyword, themes, context_tags, proposal_tags, tone, reference_tags,
	       views_p50, views_p90, shares_p50, rationale, evidence_samples, beats,
	       recording_time_sec, ai_version_id, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(rs rowScanner) (models.Slot, error) {
	var slot models.Slot
	var id string
	var title, scriptShort, themeKeyword, tone, aiVersionID sql.NullString
	var viewsP50, viewsP90, sharesP50 sql.NullFloat64
	var recordingTimeSec sql.NullInt64
	var themes, contextTags, proposalTags, referenceTags, rationale, beats pq.StringArray
	var evidenceJSON []byte
	var updatedAt sql.NullTime

	err := rs.Scan(&id, &slot.DayOfWeek, &slot.BlockStartHour, &slot.Format, &slot.Status, &slot.IsExperiment,
		&title, &scriptShort, &themeKeyword, &themes, &contextTags, &proposalTags, &tone, &referenceTags,
		&viewsP50, &viewsP90, &sharesP50, &rationale, &evidenceJSON, &beats,
		&recordingTimeSec, &aiVersionID, &slot.CreatedAt, &updatedAt)
	if err != nil {
		return slot, err
	}
	slot.ID = &id
	if title.Valid {
		slot.Title = &title.String
	}
	if scriptShort.Valid {
		slot.ScriptShort = &scriptShort.String
	}
	if themeKeyword.Valid {
		slot.ThemeKeyword = &themeKeyword.String
	}
	slot.Themes = themes
	slot.Categories = models.SlotCategories{
		Context:   contextTags,
		Proposal:  proposalTags,
		Tone:      tone.String,
		Reference: referenceTags,
	}
	if viewsP50.Valid {
		slot.ExpectedMetrics.ViewsP50 = &viewsP50.Float64
	}
	if viewsP90.Valid {
		slot.ExpectedMetrics.ViewsP90 = &viewsP90.Float64
	}
	if sharesP50.Valid {
		slot.ExpectedMetrics.SharesP50 = &sharesP50.Float64
	}
	slot.Rationale = rationale
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &slot.EvidenceSamples)
	}
	slot.Beats = beats
	if recordingTimeSec.Valid {
		sec := int(recordingTimeSec.Int64)
		slot.RecordingTimeSec = &sec
	}
	if aiVersionID.Valid {
		slot.AIVersionID = &aiVersionID.String
	}
	if updatedAt.Valid {
		slot.UpdatedAt = &updatedAt.Time
	}
	return slot, nil
}

func (s *Store) loadSlots(ctx context.Context, q queryer, weekPlanID string) ([]models.Slot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+slotColumns+`
		  FROM public.slots
		 WHERE week_plan_id = $1
		 ORDER BY position ASC, created_at ASC
	`, weekPlanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]models.Slot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// LoadPosts reads the creator's historical post feed inside the recency
// window.
func (s *Store) LoadPosts(ctx context.Context, creatorID string, now time.Time) ([]models.PostRecord, error) {
	since := now.Add(-s.window())
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, creator_id, posted_at, view_count, interaction_count
		  FROM public.creator_posts
		 WHERE creator_id = $1
		   AND posted_at >= $2
		 ORDER BY posted_at ASC
	`, creatorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]models.PostRecord, 0)
	for rows.Next() {
		var p models.PostRecord
		if err := rows.Scan(&p.ID, &p.CreatorID, &p.PostedAt, &p.ViewCount, &p.InteractionCount); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// Load returns the week's slots plus the heatmap for the same week. A week
// with no slots yet is an empty list, never an error; the week row is created
// lazily here.
func (s *Store) Load(ctx context.Context, callerID, creatorID string, weekStart time.Time) ([]models.Slot, []models.HeatPoint, error) {
	authorize := s.Authorize
	if authorize == nil {
		authorize = selfOnly
	}
	ok, err := authorize(ctx, callerID, creatorID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotAuthorized
	}

	weekStart = NormalizeWeekStart(weekStart)
	weekID, err := ensureWeekPlan(ctx, s.DB, creatorID, weekStart)
	if err != nil {
		return nil, nil, err
	}
	slots, err := s.loadSlots(ctx, s.DB, weekID)
	if err != nil {
		return nil, nil, err
	}
	posts, err := s.LoadPosts(ctx, creatorID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	heatmap := analytics.ComputeHeatmap(posts, time.Now().UTC(), s.window())
	return slots, heatmap, nil
}

// ValidateSlots checks grid coordinates, formats, statuses, and, when a
// vocabulary is supplied, category tags against the closed taxonomy. Each
// invalid slot yields one error; valid slots are unaffected.
func ValidateSlots(slots []models.Slot, v vocab.Vocabulary) []SlotValidationError {
	var errs []SlotValidationError
	for i, slot := range slots {
		switch {
		case !models.ValidCoordinate(slot.DayOfWeek, slot.BlockStartHour):
			errs = append(errs, SlotValidationError{Index: i, Field: "coordinate",
				Msg: fmt.Sprintf("invalid (dayOfWeek=%d, blockStartHour=%d)", slot.DayOfWeek, slot.BlockStartHour)})
		case !models.ValidFormat(slot.Format):
			errs = append(errs, SlotValidationError{Index: i, Field: "format", Msg: fmt.Sprintf("unknown format %q", slot.Format)})
		case slot.Status != "" && !models.ValidStatus(slot.Status):
			errs = append(errs, SlotValidationError{Index: i, Field: "status", Msg: fmt.Sprintf("unknown status %q", slot.Status)})
		default:
			if unknown := unknownCategoryTerms(v, slot.Categories); len(unknown) > 0 {
				errs = append(errs, SlotValidationError{Index: i, Field: "categories",
					Msg: fmt.Sprintf("unknown vocabulary terms: %s", strings.Join(unknown, ", "))})
			}
		}
	}
	return errs
}

func unknownCategoryTerms(v vocab.Vocabulary, c models.SlotCategories) []string {
	if v == nil {
		return nil
	}
	unknown := v.UnknownTerms(vocab.KindContext, c.Context)
	unknown = append(unknown, v.UnknownTerms(vocab.KindProposal, c.Proposal)...)
	unknown = append(unknown, v.UnknownTerms(vocab.KindReference, c.Reference)...)
	if tone := strings.TrimSpace(c.Tone); tone != "" {
		if _, ok := v[vocab.KindTone][tone]; !ok {
			unknown = append(unknown, tone)
		}
	}
	return unknown
}

func textOf(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// applyLifecycle computes the stored status for a submitted slot given its
// previous row (nil for new slots), and clears stale AI attribution when the
// text was hand-edited after generation.
func applyLifecycle(prev *models.Slot, next *models.Slot) {
	// test flag and status stay mutually consistent, both directions.
	if next.IsExperiment {
		next.Status = models.StatusTest
	}
	if next.Status == models.StatusTest {
		next.IsExperiment = true
	}

	if prev != nil && prev.Status == models.StatusPosted {
		// Posted slots are immutable except metric refresh: keep everything
		// from the stored row and take only the submitted metrics.
		metrics := next.ExpectedMetrics
		*next = *prev
		next.ExpectedMetrics = metrics
		return
	}

	edited := prev != nil &&
		(textOf(next.Title) != textOf(prev.Title) || textOf(next.ScriptShort) != textOf(prev.ScriptShort))

	if edited && prev.AIVersionID != nil && next.AIVersionID != nil && *next.AIVersionID == *prev.AIVersionID {
		// Hand edits invalidate the generation attribution.
		next.AIVersionID = nil
	}

	switch next.Status {
	case models.StatusTest, models.StatusPosted:
		return
	}
	if textOf(next.Title) == "" && textOf(next.ScriptShort) == "" {
		next.Status = models.StatusPlanned
		return
	}
	if edited {
		next.Status = models.StatusDrafted
		return
	}
	if next.Status == "" {
		next.Status = models.StatusPlanned
	}
}

// Save replaces the week's slot list wholesale in one transaction. The access
// gate is re-checked here regardless of what the client believes, closing the
// race between permission revocation and a pending edit. Invalid slots are
// reported and skipped; a previously persisted slot whose resubmission fails
// validation keeps its stored row. Everything else commits atomically (or
// nothing does).
func (s *Store) Save(ctx context.Context, creatorID string, weekStart time.Time, slots []models.Slot) ([]models.Slot, []SlotValidationError, error) {
	res, err := s.Gate.ResolveFor(ctx, creatorID)
	if err != nil {
		return nil, nil, err
	}
	if !res.Editable {
		reason := access.GenericLockReason
		if res.Reason != nil {
			reason = *res.Reason
		}
		return nil, nil, &EditNotAllowedError{Reason: reason}
	}

	var vocabulary vocab.Vocabulary
	if s.Vocab != nil {
		vocabulary, err = s.Vocab.Load(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	validationErrs := ValidateSlots(slots, vocabulary)
	invalid := make(map[int]bool, len(validationErrs))
	for _, ve := range validationErrs {
		invalid[ve.Index] = true
	}

	weekStart = NormalizeWeekStart(weekStart)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	weekID, err := ensureWeekPlan(ctx, tx, creatorID, weekStart)
	if err != nil {
		return nil, nil, err
	}

	prev, err := s.loadSlots(ctx, tx, weekID)
	if err != nil {
		return nil, nil, err
	}
	prevByID := make(map[string]models.Slot, len(prev))
	for _, p := range prev {
		prevByID[*p.ID] = p
	}

	// Whole-list replacement: rows absent from the submitted list go away.
	// A resubmitted slot that fails validation is excluded from the upsert
	// below but keeps its stored row; rejection must not destroy the slot's
	// last good state.
	keep := make([]string, 0, len(slots))
	for i := range slots {
		if slots[i].ID != nil {
			keep = append(keep, *slots[i].ID)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM public.slots
		 WHERE week_plan_id = $1
		   AND NOT (id = ANY($2))
	`, weekID, pq.Array(keep)); err != nil {
		return nil, nil, err
	}

	saved := make([]models.Slot, 0, len(slots))
	position := 0
	for i := range slots {
		if invalid[i] {
			continue
		}
		slot := slots[i]

		var prevSlot *models.Slot
		if slot.ID != nil {
			if p, ok := prevByID[*slot.ID]; ok {
				prevSlot = &p
			}
		}
		applyLifecycle(prevSlot, &slot)

		if slot.ID == nil || prevSlot == nil {
			id := fmt.Sprintf("slot-%d-%d", time.Now().UnixNano(), position)
			slot.ID = &id
		}

		evidenceJSON, _ := json.Marshal(slot.EvidenceSamples)
		var out models.Slot
		row := tx.QueryRowContext(ctx, `
			INSERT INTO public.slots
			  (id, week_plan_id, position, day_of_week, block_start_hour, format, status, is_experiment,
			   title, script_short, theme_keyword, themes, context_tags, proposal_tags, tone, reference_tags,
			   views_p50, views_p90, shares_p50, rationale, evidence_samples, beats,
			   recording_time_sec, ai_version_id, created_at, updated_at)
			VALUES
			  ($1, $2, $3, $4, $5, $6, $7, $8,
			   $9, $10, $11, $12, $13, $14, $15, $16,
			   $17, $18, $19, $20, $21::jsonb, $22,
			   $23, $24, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
			  position = EXCLUDED.position,
			  day_of_week = EXCLUDED.day_of_week,
			  block_start_hour = EXCLUDED.block_start_hour,
			  format = EXCLUDED.format,
			  status = EXCLUDED.status,
			  is_experiment = EXCLUDED.is_experiment,
			  title = EXCLUDED.title,
			  script_short = EXCLUDED.script_short,
			  theme_keyword = EXCLUDED.theme_keyword,
			  themes = EXCLUDED.themes,
			  context_tags = EXCLUDED.context_tags,
			  proposal_tags = EXCLUDED.proposal_tags,
			  tone = EXCLUDED.tone,
			  reference_tags = EXCLUDED.reference_tags,
			  views_p50 = EXCLUDED.views_p50,
			  views_p90 = EXCLUDED.views_p90,
			  shares_p50 = EXCLUDED.shares_p50,
			  rationale = EXCLUDED.rationale,
			  evidence_samples = EXCLUDED.evidence_samples,
			  beats = EXCLUDED.beats,
			  recording_time_sec = EXCLUDED.recording_time_sec,
			  ai_version_id = EXCLUDED.ai_version_id,
			  updated_at = NOW()
			RETURNING `+slotColumns+`
		`, slot.ID, weekID, position, slot.DayOfWeek, slot.BlockStartHour, slot.Format, slot.Status, slot.IsExperiment,
			nullable(slot.Title), nullable(slot.ScriptShort), nullable(slot.ThemeKeyword),
			pq.Array(slot.Themes), pq.Array(slot.Categories.Context), pq.Array(slot.Categories.Proposal),
			slot.Categories.Tone, pq.Array(slot.Categories.Reference),
			nullableF(slot.ExpectedMetrics.ViewsP50), nullableF(slot.ExpectedMetrics.ViewsP90), nullableF(slot.ExpectedMetrics.SharesP50),
			pq.Array(slot.Rationale), string(evidenceJSON), pq.Array(slot.Beats),
			nullableI(slot.RecordingTimeSec), nullable(slot.AIVersionID))

		out, err = scanSlot(row)
		if err != nil {
			return nil, nil, err
		}
		saved = append(saved, out)
		position++
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	s.logf("[Planner] saved creatorId=%s weekStart=%s slots=%d rejected=%d",
		creatorID, weekStart.Format("2006-01-02"), len(saved), len(validationErrs))
	return saved, validationErrs, nil
}

func nullable(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableF(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableI(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// Duplicate copies a slot's content into a new, unpersisted draft. The caller
// still has to save; nothing is written here.
func Duplicate(src models.Slot) models.Slot {
	dup := src
	dup.ID = nil
	dup.AIVersionID = nil
	dup.Status = models.StatusDrafted
	dup.IsExperiment = false
	dup.CreatedAt = time.Time{}
	dup.UpdatedAt = nil

	title := "Untitled (copy)"
	if src.Title != nil && strings.TrimSpace(*src.Title) != "" {
		title = strings.TrimSpace(*src.Title) + " (copy)"
	}
	dup.Title = &title

	// Deep-copy the slices so editing the draft can't mutate the source.
	dup.Themes = append([]string(nil), src.Themes...)
	dup.Rationale = append([]string(nil), src.Rationale...)
	dup.Beats = append([]string(nil), src.Beats...)
	dup.EvidenceSamples = append([]models.EvidenceSample(nil), src.EvidenceSamples...)
	dup.Categories.Context = append([]string(nil), src.Categories.Context...)
	dup.Categories.Proposal = append([]string(nil), src.Categories.Proposal...)
	dup.Categories.Reference = append([]string(nil), src.Categories.Reference...)
	return dup
}

// RemoveFromList removes target from slots: by slotId when present, else by
// exact coordinate among slots lacking a slotId (never-persisted stubs). At
// most one slot is removed; persisted slots are never coordinate-matched.
func RemoveFromList(slots []models.Slot, target models.Slot) ([]models.Slot, bool) {
	out := make([]models.Slot, 0, len(slots))
	removed := false
	for _, s := range slots {
		if removed {
			out = append(out, s)
			continue
		}
		if target.ID != nil {
			if s.ID != nil && *s.ID == *target.ID {
				removed = true
				continue
			}
		} else if s.ID == nil && s.DayOfWeek == target.DayOfWeek && s.BlockStartHour == target.BlockStartHour {
			removed = true
			continue
		}
		out = append(out, s)
	}
	return out, removed
}

// Delete removes a persisted slot by id, scoped to the creator's week. A
// target without a slotId never touches persisted rows (the coordinate
// fallback only applies to client-side stubs, which do not exist here).
func (s *Store) Delete(ctx context.Context, creatorID string, weekStart time.Time, target models.Slot) (bool, error) {
	res, err := s.Gate.ResolveFor(ctx, creatorID)
	if err != nil {
		return false, err
	}
	if !res.Editable {
		reason := access.GenericLockReason
		if res.Reason != nil {
			reason = *res.Reason
		}
		return false, &EditNotAllowedError{Reason: reason}
	}
	if target.ID == nil {
		return false, nil
	}

	weekStart = NormalizeWeekStart(weekStart)
	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM public.slots
		 WHERE id = $1
		   AND week_plan_id IN (
		         SELECT id FROM public.week_plans WHERE creator_id = $2 AND week_start = $3
		       )
	`, *target.ID, creatorID, weekStart)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logf("[Planner] deleted slotId=%s creatorId=%s", *target.ID, creatorID)
	}
	return n > 0, nil
}

// MarkPosted is the one-way posted-status update fed by the external
// post-ingestion collaborator. It also appends the published post to the
// creator's historical feed so future heatmaps see it.
func (s *Store) MarkPosted(ctx context.Context, creatorID, slotID string, post models.PostRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE public.slots
		   SET status = 'posted', updated_at = NOW()
		 WHERE id = $1
		   AND week_plan_id IN (SELECT id FROM public.week_plans WHERE creator_id = $2)
	`, slotID, creatorID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public.creator_posts (id, creator_id, posted_at, view_count, interaction_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		  view_count = EXCLUDED.view_count,
		  interaction_count = EXCLUDED.interaction_count
	`, post.ID, creatorID, post.PostedAt, post.ViewCount, post.InteractionCount); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
