package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Point transaction types.
const (
	PointEarn        = "EARN"
	PointConsume     = "CONSUME"
	PointAdminAdjust = "ADMIN_ADJUST"
)

// Achievement criteria types read by the achievement check.
const (
	CriteriaCompletedProjects = "COMPLETED_PROJECTS_COUNT"
	CriteriaCompletedCourses  = "COMPLETED_COURSES_COUNT"
	CriteriaLikesReceived     = "LIKES_RECEIVED_COUNT"
	CriteriaForumTopics       = "FORUM_POSTS_COUNT"
	CriteriaChatMessages      = "CHAT_MESSAGES_COUNT"
	CriteriaLoginCount        = "LOGIN_COUNT"
)

// PointTransaction is one staged credit or debit.
type PointTransaction struct {
	ID                int64
	UserID            int64
	Amount            int64
	Reason            string
	Type              string
	RelatedEntityType *string
	RelatedEntityID   *int64
	CreatedAt         time.Time
}

// Achievement is a static definition.
type Achievement struct {
	ID            int64
	Name          string
	Description   string
	CriteriaType  string
	CriteriaValue int64
	RewardPoints  int64
	IsActive      bool
}

// UserAchievement is a per-user grant.
type UserAchievement struct {
	ID            int64
	UserID        int64
	AchievementID int64
	EarnedAt      time.Time
	IsNotified    bool
}

// Points persists point transactions and achievement grants. All mutating
// methods are meant to run on a transaction Querier so they commit or roll
// back with the action that earned them.
type Points struct {
	q Querier
}

// NewPoints binds the repository to a Querier.
func NewPoints(q Querier) *Points { return &Points{q: q} }

// InsertTransaction stages a point transaction row.
func (r *Points) InsertTransaction(ctx context.Context, tx *PointTransaction) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO point_transactions
			(user_id, amount, reason, type, related_entity_type, related_entity_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		tx.UserID, tx.Amount, tx.Reason, tx.Type, tx.RelatedEntityType, tx.RelatedEntityID).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert point transaction: %w", err)
	}
	return nil
}

// AdjustBalance applies delta to the user's total, clamping at zero, and
// returns the new balance. The row lock serialises concurrent adjustments.
func (r *Points) AdjustBalance(ctx context.Context, userID, delta int64) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `
		UPDATE users SET total_points = GREATEST(total_points + $2, 0)
		WHERE id = $1 RETURNING total_points`, userID, delta).Scan(&balance)
	if IsNoRows(err) {
		return 0, errs.NotFound("user")
	}
	if err != nil {
		return 0, fmt.Errorf("store: adjust balance: %w", err)
	}
	return balance, nil
}

// ListTransactions pages a user's history, newest first.
func (r *Points) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]PointTransaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, amount, reason, type, related_entity_type, related_entity_id, created_at
		FROM point_transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list point transactions: %w", err)
	}
	defer rows.Close()
	var out []PointTransaction
	for rows.Next() {
		var tx PointTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Reason, &tx.Type,
			&tx.RelatedEntityType, &tx.RelatedEntityID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// SumTransactions totals a user's transaction amounts. Used by invariant
// checks and admin tooling.
func (r *Points) SumTransactions(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(sum(amount), 0) FROM point_transactions WHERE user_id = $1`,
		userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("store: sum point transactions: %w", err)
	}
	return sum, nil
}

// ActiveAchievements lists active achievement definitions.
func (r *Points) ActiveAchievements(ctx context.Context) ([]Achievement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, description, criteria_type, criteria_value, reward_points, is_active
		FROM achievements WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: active achievements: %w", err)
	}
	defer rows.Close()
	var out []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.CriteriaType,
			&a.CriteriaValue, &a.RewardPoints, &a.IsActive); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EarnedAchievementIDs returns the ids the user already holds.
func (r *Points) EarnedAchievementIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := r.q.Query(ctx,
		`SELECT achievement_id FROM user_achievements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: earned achievements: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// InsertUserAchievement grants an achievement. The (user, achievement)
// uniqueness constraint makes concurrent duplicate grants a Conflict.
func (r *Points) InsertUserAchievement(ctx context.Context, userID, achievementID int64) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id) VALUES ($1, $2)`,
		userID, achievementID)
	if err != nil {
		return classify(fmt.Errorf("store: grant achievement: %w", err))
	}
	return nil
}

// EarnedAchievement is a grant joined with its definition.
type EarnedAchievement struct {
	Grant      UserAchievement
	Definition Achievement
}

// ListEarned returns the user's grants joined with their definitions.
func (r *Points) ListEarned(ctx context.Context, userID int64) ([]EarnedAchievement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT ua.id, ua.user_id, ua.achievement_id, ua.earned_at, ua.is_notified,
		       a.id, a.name, a.description, a.criteria_type, a.criteria_value,
		       a.reward_points, a.is_active
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1 ORDER BY ua.earned_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list earned: %w", err)
	}
	defer rows.Close()
	var out []EarnedAchievement
	for rows.Next() {
		var e EarnedAchievement
		if err := rows.Scan(&e.Grant.ID, &e.Grant.UserID, &e.Grant.AchievementID,
			&e.Grant.EarnedAt, &e.Grant.IsNotified,
			&e.Definition.ID, &e.Definition.Name, &e.Definition.Description,
			&e.Definition.CriteriaType, &e.Definition.CriteriaValue,
			&e.Definition.RewardPoints, &e.Definition.IsActive); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CounterValue reads the user's live counter for a criteria type from within
// the surrounding transaction so the triggering action is already visible.
func (r *Points) CounterValue(ctx context.Context, userID int64, criteriaType string) (int64, error) {
	var (
		query string
		n     int64
	)
	switch criteriaType {
	case CriteriaForumTopics:
		query = `SELECT count(*) FROM forum_topics WHERE user_id = $1`
	case CriteriaChatMessages:
		query = `SELECT count(*) FROM ai_conversation_messages m
			JOIN ai_conversations c ON c.id = m.conversation_id
			WHERE c.owner_id = $1 AND m.role = 'user'`
	case CriteriaLoginCount:
		query = `SELECT login_count FROM users WHERE id = $1`
	case CriteriaCompletedProjects, CriteriaCompletedCourses, CriteriaLikesReceived:
		// Tracked by the collaboration service outside this core; the
		// achievement check treats them as point-transaction-derived counters.
		query = `SELECT count(*) FROM point_transactions
			WHERE user_id = $1 AND related_entity_type = $2`
		err := r.q.QueryRow(ctx, query, userID, relatedEntityFor(criteriaType)).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("store: counter %s: %w", criteriaType, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("store: unknown criteria type %q", criteriaType)
	}
	if err := r.q.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counter %s: %w", criteriaType, err)
	}
	return n, nil
}

func relatedEntityFor(criteriaType string) string {
	switch criteriaType {
	case CriteriaCompletedProjects:
		return "project"
	case CriteriaCompletedCourses:
		return "course"
	case CriteriaLikesReceived:
		return "like"
	}
	return ""
}

// CreateForumTopic inserts a forum topic. The topic CRUD proper lives in the
// collaboration service; this minimal insert exists so the points hook has a
// first-class triggering action to attach to.
func (r *Points) CreateForumTopic(ctx context.Context, userID int64, title, content string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO forum_topics (user_id, title, content)
		VALUES ($1, $2, $3) RETURNING id`, userID, title, content).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create topic: %w", err)
	}
	return id, nil
}

// UpsertAchievement seeds or updates an achievement definition by name.
func (r *Points) UpsertAchievement(ctx context.Context, a *Achievement) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO achievements (name, description, criteria_type, criteria_value, reward_points, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			description    = EXCLUDED.description,
			criteria_type  = EXCLUDED.criteria_type,
			criteria_value = EXCLUDED.criteria_value,
			reward_points  = EXCLUDED.reward_points,
			is_active      = EXCLUDED.is_active
		RETURNING id`,
		a.Name, a.Description, a.CriteriaType, a.CriteriaValue, a.RewardPoints, a.IsActive).
		Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("store: upsert achievement: %w", err)
	}
	return nil
}
