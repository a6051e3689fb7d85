// Package credential manages per-user provider credentials. Keys are
// ciphertext at rest (AES-256-GCM) and are opened lazily, once per request,
// by the resolver. The gateway never sees a stored row; it receives a plain
// Credential value scoped to a single call.
package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/atheneum-ai/atheneum/internal/config"
	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Provider is the tagged union of supported provider types.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderSiliconFlow Provider = "siliconflow"
	ProviderZhipu       Provider = "zhipu"
	ProviderModelScope  Provider = "modelscope"
	ProviderAnthropic   Provider = "anthropic"
	ProviderCustom      Provider = "custom"
)

// Known reports whether p is a supported provider type.
func Known(p Provider) bool {
	switch p {
	case ProviderOpenAI, ProviderSiliconFlow, ProviderZhipu, ProviderModelScope,
		ProviderAnthropic, ProviderCustom:
		return true
	}
	return false
}

// Record is a stored credential row. APIKey is ciphertext.
type Record struct {
	ID           int64
	UserID       int64
	ProviderType Provider
	EncryptedKey string
	BaseURL      string
	ModelID      string
	ModelIDs     []string // per-provider model list the user may select from
}

// Credential is a decrypted, per-call credential handed to the gateway.
type Credential struct {
	ProviderType Provider
	APIKey       string
	BaseURL      string
	ModelID      string
	ModelIDs     []string
}

// Empty reports whether no API key is available.
func (c Credential) Empty() bool { return c.APIKey == "" }

// Store lists a user's stored credentials.
type Store interface {
	CredentialsFor(ctx context.Context, userID int64) ([]Record, error)
}

// Sealer encrypts and decrypts credential keys with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 64-hex-character (32-byte) key.
func NewSealer(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("credential: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential: gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts a plaintext API key for storage. Output is
// base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credential: nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored ciphertext produced by Seal.
func (s *Sealer) Open(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("credential: decode: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("credential: ciphertext too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("credential: open: %w", err)
	}
	return string(plain), nil
}

// Resolver resolves a user's credential for a capability, applying system
// defaults for missing base URLs and model ids.
type Resolver struct {
	store  Store
	sealer *Sealer
	cfg    *config.Config
}

// NewResolver builds a Resolver.
func NewResolver(store Store, sealer *Sealer, cfg *config.Config) *Resolver {
	return &Resolver{store: store, sealer: sealer, cfg: cfg}
}

// Chat resolves the user's chat credential. modelOverride, when non-empty,
// must be in the credential's model list (or equal its model id); otherwise
// the request is rejected. A user with no credential gets
// ProviderUnconfigured.
func (r *Resolver) Chat(ctx context.Context, userID int64, modelOverride string) (Credential, error) {
	cred, err := r.first(ctx, userID, chatCapable)
	if err != nil {
		return Credential{}, err
	}
	if modelOverride != "" {
		if !cred.allows(modelOverride) {
			return Credential{}, errs.Newf(errs.KindBadRequest,
				"model %q is not configured for this provider", modelOverride)
		}
		cred.ModelID = modelOverride
	}
	if cred.ModelID == "" {
		cred.ModelID = r.cfg.DefaultsFor(string(cred.ProviderType)).ChatModel
	}
	if cred.ModelID == "" {
		return Credential{}, errs.New(errs.KindProviderUnconfigured, "no chat model configured")
	}
	return cred, nil
}

// Embedding resolves the user's embedding credential. Absence is not an
// error: the gateway substitutes the zero-vector sentinel, so the resolver
// returns an empty credential with the configured defaults instead.
func (r *Resolver) Embedding(ctx context.Context, userID int64) (Credential, error) {
	cred, err := r.first(ctx, userID, embedCapable)
	if err != nil {
		if errs.Is(err, errs.KindProviderUnconfigured) {
			return Credential{}, nil
		}
		return Credential{}, err
	}
	if cred.ModelID == "" {
		cred.ModelID = r.cfg.DefaultsFor(string(cred.ProviderType)).EmbeddingModel
	}
	return cred, nil
}

// Rerank resolves the user's rerank credential; absence yields an empty
// credential which the gateway maps to all-zero scores.
func (r *Resolver) Rerank(ctx context.Context, userID int64) (Credential, error) {
	cred, err := r.first(ctx, userID, rerankCapable)
	if err != nil {
		if errs.Is(err, errs.KindProviderUnconfigured) {
			return Credential{}, nil
		}
		return Credential{}, err
	}
	if cred.ModelID == "" {
		cred.ModelID = r.cfg.DefaultsFor(string(cred.ProviderType)).RerankModel
	}
	return cred, nil
}

func chatCapable(p Provider) bool { return Known(p) }

// embedCapable excludes providers without an embeddings endpoint.
func embedCapable(p Provider) bool { return p != ProviderAnthropic && Known(p) }

// rerankCapable is limited to OpenAI-compatible vendors exposing /rerank.
func rerankCapable(p Provider) bool {
	return p == ProviderSiliconFlow || p == ProviderCustom
}

func (r *Resolver) first(ctx context.Context, userID int64, capable func(Provider) bool) (Credential, error) {
	records, err := r.store.CredentialsFor(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: list: %w", err)
	}
	for _, rec := range records {
		p := Provider(strings.ToLower(string(rec.ProviderType)))
		if !capable(p) {
			continue
		}
		key, err := r.sealer.Open(rec.EncryptedKey)
		if err != nil {
			return Credential{}, fmt.Errorf("credential: user %d provider %s: %w", userID, p, err)
		}
		cred := Credential{
			ProviderType: p,
			APIKey:       key,
			BaseURL:      rec.BaseURL,
			ModelID:      rec.ModelID,
			ModelIDs:     rec.ModelIDs,
		}
		if cred.BaseURL == "" {
			cred.BaseURL = r.cfg.DefaultsFor(string(p)).BaseURL
		}
		return cred, nil
	}
	return Credential{}, errs.New(errs.KindProviderUnconfigured, "no provider credential configured")
}

func (c Credential) allows(model string) bool {
	if model == c.ModelID {
		return true
	}
	for _, m := range c.ModelIDs {
		if m == model {
			return true
		}
	}
	return false
}
