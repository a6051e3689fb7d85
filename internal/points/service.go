package points

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/atheneum-ai/atheneum/internal/store"
)

// Credit amounts for user-observable actions.
const (
	checkinPoints    = 5
	forumTopicPoints = 15
)

// Service runs point-earning actions, each in its own transaction so the
// action and its credits commit or roll back together.
type Service struct {
	db *store.DB
}

// NewService builds a Service on the database.
func NewService(db *store.DB) *Service { return &Service{db: db} }

// CreateForumTopic inserts the topic, credits its points and runs the
// achievement check in one transaction.
func (s *Service) CreateForumTopic(ctx context.Context, userID int64, title, content string) (int64, error) {
	var topicID int64
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		repo := store.NewPoints(tx)
		id, err := repo.CreateForumTopic(ctx, userID, title, content)
		if err != nil {
			return err
		}
		topicID = id
		return creditForumTopic(ctx, repo, userID, id)
	})
	if err != nil {
		return 0, err
	}
	return topicID, nil
}

func creditForumTopic(ctx context.Context, repo Repo, userID, topicID int64) error {
	entity := "forum_topic"
	_, err := CreditAction(ctx, repo, Award{
		UserID:            userID,
		Amount:            forumTopicPoints,
		Reason:            "发布论坛主题",
		Type:              store.PointEarn,
		RelatedEntityType: &entity,
		RelatedEntityID:   &topicID,
	})
	return err
}

// DailyCheckin records a login and, on the first check-in of the day, credits
// the daily points. Repeat check-ins return the current balance unchanged.
func (s *Service) DailyCheckin(ctx context.Context, userID int64) (awarded bool, balance int64, err error) {
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		users := store.NewUsers(tx)
		first, err := users.RecordLogin(ctx, userID)
		if err != nil {
			return err
		}
		if !first {
			u, err := users.Get(ctx, userID)
			if err != nil {
				return err
			}
			balance = u.TotalPoints
			return nil
		}
		awarded = true
		entity := "login"
		balance, err = CreditAction(ctx, store.NewPoints(tx), Award{
			UserID:            userID,
			Amount:            checkinPoints,
			Reason:            "每日签到",
			Type:              store.PointEarn,
			RelatedEntityType: &entity,
		})
		return err
	})
	return awarded, balance, err
}
