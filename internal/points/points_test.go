package points

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atheneum-ai/atheneum/internal/errs"
	"github.com/atheneum-ai/atheneum/internal/store"
)

type fakeRepo struct {
	balance      int64
	transactions []store.PointTransaction
	active       []store.Achievement
	earned       map[int64]bool
	counters     map[string]int64
	grantErr     error
	activeErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{earned: map[int64]bool{}, counters: map[string]int64{}}
}

func (f *fakeRepo) InsertTransaction(_ context.Context, tx *store.PointTransaction) error {
	tx.ID = int64(len(f.transactions) + 1)
	f.transactions = append(f.transactions, *tx)
	return nil
}

func (f *fakeRepo) AdjustBalance(_ context.Context, _ int64, delta int64) (int64, error) {
	f.balance += delta
	if f.balance < 0 {
		f.balance = 0
	}
	return f.balance, nil
}

func (f *fakeRepo) ActiveAchievements(context.Context) ([]store.Achievement, error) {
	return f.active, f.activeErr
}

func (f *fakeRepo) EarnedAchievementIDs(context.Context, int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(f.earned))
	for k, v := range f.earned {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRepo) InsertUserAchievement(_ context.Context, _ int64, achievementID int64) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.earned[achievementID] = true
	return nil
}

func (f *fakeRepo) CounterValue(_ context.Context, _ int64, criteriaType string) (int64, error) {
	return f.counters[criteriaType], nil
}

func TestAwardPointsStagesTransactionAndBalance(t *testing.T) {
	repo := newFakeRepo()
	balance, err := AwardPoints(context.Background(), repo, Award{UserID: 1, Amount: 10, Reason: "check-in"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	require.Len(t, repo.transactions, 1)
	assert.Equal(t, store.PointEarn, repo.transactions[0].Type)
	assert.Equal(t, "check-in", repo.transactions[0].Reason)
}

func TestAwardPointsClampsAtZero(t *testing.T) {
	repo := newFakeRepo()
	repo.balance = 5
	balance, err := AwardPoints(context.Background(), repo, Award{
		UserID: 1, Amount: -50, Reason: "penalty", Type: store.PointAdminAdjust})
	require.NoError(t, err)
	assert.Zero(t, balance)
	assert.Equal(t, int64(-50), repo.transactions[0].Amount)
}

func TestCreditActionSwallowsAchievementFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.activeErr = errs.New(errs.KindInternal, "achievements table gone")

	balance, err := CreditAction(context.Background(), repo, Award{UserID: 1, Amount: 5, Reason: "每日签到"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
	require.Len(t, repo.transactions, 1)
}

func TestForumTopicCreditAmount(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, creditForumTopic(context.Background(), repo, 1, 42))
	require.Len(t, repo.transactions, 1)
	assert.Equal(t, int64(15), repo.transactions[0].Amount)
	assert.Equal(t, "发布论坛主题", repo.transactions[0].Reason)
	require.NotNil(t, repo.transactions[0].RelatedEntityID)
	assert.Equal(t, int64(42), *repo.transactions[0].RelatedEntityID)
}

func TestCheckAwardsMatchingAchievement(t *testing.T) {
	repo := newFakeRepo()
	repo.active = []store.Achievement{
		{ID: 1, Name: "初来乍到", CriteriaType: store.CriteriaLoginCount, CriteriaValue: 1, RewardPoints: 5},
		{ID: 2, Name: "常客", CriteriaType: store.CriteriaLoginCount, CriteriaValue: 10},
	}
	repo.counters[store.CriteriaLoginCount] = 3

	granted, err := CheckAndAwardAchievements(context.Background(), repo, 1)
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, "初来乍到", granted[0].Name)
	assert.True(t, repo.earned[1])
	assert.False(t, repo.earned[2])

	// The reward lands as its own staged transaction.
	require.Len(t, repo.transactions, 1)
	assert.Equal(t, "获得成就：初来乍到", repo.transactions[0].Reason)
	assert.Equal(t, int64(5), repo.transactions[0].Amount)
	assert.Equal(t, int64(5), repo.balance)
}

func TestCheckSkipsAlreadyEarned(t *testing.T) {
	repo := newFakeRepo()
	repo.active = []store.Achievement{
		{ID: 1, Name: "初来乍到", CriteriaType: store.CriteriaLoginCount, CriteriaValue: 1, RewardPoints: 5},
	}
	repo.earned[1] = true
	repo.counters[store.CriteriaLoginCount] = 3

	granted, err := CheckAndAwardAchievements(context.Background(), repo, 1)
	require.NoError(t, err)
	assert.Empty(t, granted)
	assert.Empty(t, repo.transactions)
}

func TestCheckToleratesConcurrentGrant(t *testing.T) {
	repo := newFakeRepo()
	repo.active = []store.Achievement{
		{ID: 1, Name: "初来乍到", CriteriaType: store.CriteriaLoginCount, CriteriaValue: 1, RewardPoints: 5},
	}
	repo.counters[store.CriteriaLoginCount] = 3
	repo.grantErr = errs.New(errs.KindConflict, "duplicate grant")

	granted, err := CheckAndAwardAchievements(context.Background(), repo, 1)
	require.NoError(t, err)
	assert.Empty(t, granted)
	assert.Empty(t, repo.transactions)
}

func TestSeedParsesAndUpserts(t *testing.T) {
	repo := &seedRecorder{}
	data := []byte(`
achievements:
  - name: 初来乍到
    description: 首次登录
    criteria_type: LOGIN_COUNT
    criteria_value: 1
    reward_points: 5
  - name: 论坛新星
    criteria_type: FORUM_POSTS_COUNT
    criteria_value: 10
    active: false
`)
	n, err := Seed(context.Background(), repo, data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, repo.defs, 2)
	assert.True(t, repo.defs[0].IsActive)
	assert.False(t, repo.defs[1].IsActive)
	assert.Equal(t, int64(5), repo.defs[0].RewardPoints)
}

func TestSeedRejectsMissingFields(t *testing.T) {
	repo := &seedRecorder{}
	_, err := Seed(context.Background(), repo, []byte("achievements:\n  - description: x\n"))
	require.Error(t, err)
}

type seedRecorder struct {
	defs []store.Achievement
}

func (s *seedRecorder) UpsertAchievement(_ context.Context, a *store.Achievement) error {
	a.ID = int64(len(s.defs) + 1)
	s.defs = append(s.defs, *a)
	return nil
}
