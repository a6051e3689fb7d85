package agent

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/atheneum-ai/atheneum/internal/points"
	"github.com/atheneum-ai/atheneum/internal/store"
)

// chatMessagePoints is credited for each user chat message.
const chatMessagePoints = 1

// Turns is the production TurnWriter: one transaction appends the messages,
// credits the chat-message points and runs the achievement check. Achievement
// failures never block the turn.
type Turns struct {
	db *store.DB
}

// NewTurns builds a Turns writer.
func NewTurns(db *store.DB) *Turns { return &Turns{db: db} }

// PersistTurn implements TurnWriter.
func (t *Turns) PersistTurn(ctx context.Context, conversationID, userID int64, msgs []store.Message) ([]store.Message, error) {
	var persisted []store.Message
	err := t.db.WithTx(ctx, func(tx pgx.Tx) error {
		convs := store.NewConversations(tx)
		var err error
		persisted, err = convs.AppendMessages(ctx, conversationID, msgs)
		if err != nil {
			return err
		}
		entity := "ai_message"
		_, err = points.CreditAction(ctx, store.NewPoints(tx), points.Award{
			UserID:            userID,
			Amount:            chatMessagePoints,
			Reason:            "发送聊天消息",
			Type:              store.PointEarn,
			RelatedEntityType: &entity,
			RelatedEntityID:   &conversationID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}
