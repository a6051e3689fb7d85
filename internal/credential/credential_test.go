package credential

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atheneum-ai/atheneum/internal/config"
	"github.com/atheneum-ai/atheneum/internal/errs"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type fakeStore struct {
	records map[int64][]Record
}

func (f *fakeStore) CredentialsFor(_ context.Context, userID int64) ([]Record, error) {
	return f.records[userID], nil
}

func newResolver(t *testing.T, records map[int64][]Record) *Resolver {
	t.Helper()
	sealer, err := NewSealer(testKey)
	require.NoError(t, err)
	cfg, err := config.Load()
	require.NoError(t, err)
	return NewResolver(&fakeStore{records: records}, sealer, cfg)
}

func sealed(t *testing.T, key string) string {
	t.Helper()
	sealer, err := NewSealer(testKey)
	require.NoError(t, err)
	out, err := sealer.Seal(key)
	require.NoError(t, err)
	return out
}

func TestSealRoundTrip(t *testing.T) {
	sealer, err := NewSealer(testKey)
	require.NoError(t, err)
	ct, err := sealer.Seal("sk-test-123")
	require.NoError(t, err)
	assert.NotContains(t, ct, "sk-test-123")
	pt, err := sealer.Open(ct)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", pt)
}

func TestSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer(hex.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestChatResolvesWithDefaults(t *testing.T) {
	r := newResolver(t, map[int64][]Record{
		7: {{UserID: 7, ProviderType: ProviderZhipu, EncryptedKey: sealed(t, "zp-key")}},
	})
	cred, err := r.Chat(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, ProviderZhipu, cred.ProviderType)
	assert.Equal(t, "zp-key", cred.APIKey)
	assert.NotEmpty(t, cred.BaseURL)
	assert.NotEmpty(t, cred.ModelID)
}

func TestChatModelOverrideMustBeListed(t *testing.T) {
	r := newResolver(t, map[int64][]Record{
		7: {{
			UserID:       7,
			ProviderType: ProviderOpenAI,
			EncryptedKey: sealed(t, "sk"),
			ModelID:      "gpt-4o-mini",
			ModelIDs:     []string{"gpt-4o", "gpt-4o-mini"},
		}},
	})
	cred, err := r.Chat(context.Background(), 7, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cred.ModelID)

	_, err = r.Chat(context.Background(), 7, "o999")
	require.Error(t, err)
	assert.Equal(t, errs.KindBadRequest, errs.KindOf(err))
}

func TestChatUnconfigured(t *testing.T) {
	r := newResolver(t, map[int64][]Record{})
	_, err := r.Chat(context.Background(), 42, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindProviderUnconfigured, errs.KindOf(err))
}

func TestEmbeddingAbsenceYieldsEmptyCredential(t *testing.T) {
	r := newResolver(t, map[int64][]Record{})
	cred, err := r.Embedding(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, cred.Empty())
}

func TestEmbeddingSkipsAnthropic(t *testing.T) {
	r := newResolver(t, map[int64][]Record{
		7: {
			{UserID: 7, ProviderType: ProviderAnthropic, EncryptedKey: sealed(t, "ak")},
			{UserID: 7, ProviderType: ProviderSiliconFlow, EncryptedKey: sealed(t, "sf")},
		},
	})
	cred, err := r.Embedding(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, ProviderSiliconFlow, cred.ProviderType)
	assert.Equal(t, "sf", cred.APIKey)
}
