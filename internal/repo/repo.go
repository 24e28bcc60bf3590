package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dayline/internal/config"
	"dayline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(user_id,variant,start_date,current_day,viewing_day,manual_navigation,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.UserID, p.Variant, p.StartDate, p.CurrentDay, p.ViewingDay, boolInt(p.ManualNavigation), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var p domain.Profile
	var manual int
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,variant,start_date,current_day,viewing_day,manual_navigation,created_at,updated_at FROM profiles WHERE user_id=?`, userID).
		Scan(&p.UserID, &p.Variant, &p.StartDate, &p.CurrentDay, &p.ViewingDay, &manual, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.ManualNavigation = manual != 0
	return p, err
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,variant,start_date,current_day,viewing_day,manual_navigation,created_at,updated_at FROM profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		var manual int
		if err := rows.Scan(&p.UserID, &p.Variant, &p.StartDate, &p.CurrentDay, &p.ViewingDay, &manual, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ManualNavigation = manual != 0
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProfile returns the only profile in the workspace, ErrNotFound when
// none exist, and an error when several do.
func (r Repo) SingleProfile(ctx context.Context) (domain.Profile, error) {
	profiles, err := r.ListProfiles(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(profiles) == 0 {
		return domain.Profile{}, ErrNotFound
	}
	if len(profiles) > 1 {
		return domain.Profile{}, errors.New("multiple profiles exist; specify --user")
	}
	return profiles[0], nil
}

// UpdateCursors persists the viewing/manual-navigation cursors and the cached
// current-day hint.
func (r Repo) UpdateCursors(ctx context.Context, tx *sql.Tx, userID string, currentDay, viewingDay int, manualNavigation bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET current_day=?, viewing_day=?, manual_navigation=?, updated_at=? WHERE user_id=?`,
		currentDay, viewingDay, boolInt(manualNavigation), updatedAt, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProfile(ctx context.Context, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM profiles WHERE user_id=?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertCompletion replaces any existing record for (user, day, task) with
// the new outcome. Retraction-then-append is a single statement so the
// no-duplicate invariant holds even under replayed offline actions.
func (r Repo) UpsertCompletion(ctx context.Context, tx *sql.Tx, c domain.Completion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO completions(user_id,task_id,day,completed_at,skipped,skip_reason) VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id,day,task_id) DO UPDATE SET completed_at=excluded.completed_at, skipped=excluded.skipped, skip_reason=excluded.skip_reason`,
		c.UserID, c.TaskID, c.Day, c.CompletedAt, boolInt(c.Skipped), skipReason(c.SkipReason))
	return err
}

func (r Repo) ListCompletions(ctx context.Context, userID string) ([]domain.Completion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,task_id,day,completed_at,skipped,skip_reason FROM completions WHERE user_id=? ORDER BY day, task_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Completion
	for rows.Next() {
		var c domain.Completion
		var skipped int
		var reason sql.NullString
		if err := rows.Scan(&c.UserID, &c.TaskID, &c.Day, &c.CompletedAt, &skipped, &reason); err != nil {
			return nil, err
		}
		c.Skipped = skipped != 0
		if reason.Valid {
			c.SkipReason = &reason.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCompletions(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM completions WHERE user_id=?`, userID)
	return err
}

// InsertUnlocked records an achievement unlock. Re-inserting an already
// unlocked achievement is a no-op so recomputation stays idempotent.
func (r Repo) InsertUnlocked(ctx context.Context, tx *sql.Tx, u domain.UnlockedAchievement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO unlocked_achievements(user_id,achievement_id,unlocked_at) VALUES (?,?,?)
ON CONFLICT(user_id,achievement_id) DO NOTHING`,
		u.UserID, u.AchievementID, u.UnlockedAt)
	return err
}

func (r Repo) ListUnlocked(ctx context.Context, userID string) ([]domain.UnlockedAchievement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,achievement_id,unlocked_at FROM unlocked_achievements WHERE user_id=? ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UnlockedAchievement
	for rows.Next() {
		var u domain.UnlockedAchievement
		if err := rows.Scan(&u.UserID, &u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) DeleteUnlocked(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM unlocked_achievements WHERE user_id=?`, userID)
	return err
}

func (r Repo) UpsertProgramConfig(ctx context.Context, userID string, cfg *config.Config) error {
	return r.upsertProgramConfig(ctx, nil, userID, cfg)
}

func (r Repo) UpsertProgramConfigTx(ctx context.Context, tx *sql.Tx, userID string, cfg *config.Config) error {
	return r.upsertProgramConfig(ctx, tx, userID, cfg)
}

func (r Repo) upsertProgramConfig(ctx context.Context, tx *sql.Tx, userID string, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO program_configs(user_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, userID, string(payload), now, now)
	} else {
		_, err = r.DB.ExecContext(ctx, query, userID, string(payload), now, now)
	}
	return err
}

func (r Repo) GetProgramConfig(ctx context.Context, userID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM program_configs WHERE user_id=?`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// ListEvents returns up to limit events for the user, newest first. A zero
// limit means no cap.
func (r Repo) ListEvents(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(user_id,''),COALESCE(task_id,''),COALESCE(day,0),payload_json FROM events WHERE user_id=? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.TaskID, &e.Day, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func skipReason(reason *string) any {
	if reason == nil || *reason == "" {
		return nil
	}
	return *reason
}
