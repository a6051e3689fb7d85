// Package points implements the transactional points and achievements hook.
// Handlers call AwardPoints and CheckAndAwardAchievements on a repository
// bound to their open transaction, so the credit, the grant and the action
// that earned them commit or roll back together.
package points

import (
	"context"

	"goa.design/clue/log"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// Repo is the slice of the points store the hook needs. *store.Points
// satisfies it.
type Repo interface {
	InsertTransaction(ctx context.Context, tx *store.PointTransaction) error
	AdjustBalance(ctx context.Context, userID, delta int64) (int64, error)
	ActiveAchievements(ctx context.Context) ([]store.Achievement, error)
	EarnedAchievementIDs(ctx context.Context, userID int64) (map[int64]bool, error)
	InsertUserAchievement(ctx context.Context, userID, achievementID int64) error
	CounterValue(ctx context.Context, userID int64, criteriaType string) (int64, error)
}

// Award describes one point credit or debit.
type Award struct {
	UserID            int64
	Amount            int64
	Reason            string
	Type              string // EARN | CONSUME | ADMIN_ADJUST, default EARN
	RelatedEntityType *string
	RelatedEntityID   *int64
}

// AwardPoints stages a point transaction and mutates the balance, clamping
// at zero. The new balance is returned.
func AwardPoints(ctx context.Context, repo Repo, a Award) (int64, error) {
	if a.Type == "" {
		a.Type = store.PointEarn
	}
	tx := store.PointTransaction{
		UserID:            a.UserID,
		Amount:            a.Amount,
		Reason:            a.Reason,
		Type:              a.Type,
		RelatedEntityType: a.RelatedEntityType,
		RelatedEntityID:   a.RelatedEntityID,
	}
	if err := repo.InsertTransaction(ctx, &tx); err != nil {
		return 0, err
	}
	return repo.AdjustBalance(ctx, a.UserID, a.Amount)
}

// CreditAction stages a point credit for a user-observable action and runs
// the achievement check. Check failures are logged and swallowed so the
// triggering action still commits. The new balance is returned.
func CreditAction(ctx context.Context, repo Repo, a Award) (int64, error) {
	balance, err := AwardPoints(ctx, repo, a)
	if err != nil {
		return 0, err
	}
	if _, err := CheckAndAwardAchievements(ctx, repo, a.UserID); err != nil {
		log.Errorf(ctx, err, "points: achievement check for user %d", a.UserID)
	}
	return balance, nil
}

// CheckAndAwardAchievements compares the user's live counters against every
// active achievement they have not yet earned and grants the matches. Counter
// reads happen on the caller's transaction so the triggering action is
// visible. Returns the newly granted definitions.
func CheckAndAwardAchievements(ctx context.Context, repo Repo, userID int64) ([]store.Achievement, error) {
	active, err := repo.ActiveAchievements(ctx)
	if err != nil {
		return nil, err
	}
	earned, err := repo.EarnedAchievementIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	var granted []store.Achievement
	for _, a := range active {
		if earned[a.ID] {
			continue
		}
		counter, err := repo.CounterValue(ctx, userID, a.CriteriaType)
		if err != nil {
			return nil, err
		}
		if counter < a.CriteriaValue {
			continue
		}
		if err := repo.InsertUserAchievement(ctx, userID, a.ID); err != nil {
			// A concurrent transaction won the grant; not an error here.
			if errs.Is(err, errs.KindConflict) {
				log.Printf(ctx, "points: achievement %q already granted to user %d", a.Name, userID)
				continue
			}
			return nil, err
		}
		if a.RewardPoints > 0 {
			entity := "achievement"
			id := a.ID
			_, err := AwardPoints(ctx, repo, Award{
				UserID:            userID,
				Amount:            a.RewardPoints,
				Reason:            "获得成就：" + a.Name,
				Type:              store.PointEarn,
				RelatedEntityType: &entity,
				RelatedEntityID:   &id,
			})
			if err != nil {
				return nil, err
			}
		}
		granted = append(granted, a)
	}
	return granted, nil
}
