package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWalksWrapChain(t *testing.T) {
	inner := New(KindConflict, "document already exists")
	wrapped := fmt.Errorf("ingest: %w", inner)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "document already exists", DetailOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", DetailOf(err))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:             http.StatusNotFound,
		KindUnauthenticated:      http.StatusUnauthorized,
		KindUnauthorized:         http.StatusForbidden,
		KindBadRequest:           http.StatusBadRequest,
		KindConflict:             http.StatusConflict,
		KindProviderUnconfigured: http.StatusUnprocessableEntity,
		KindProviderTransient:    http.StatusServiceUnavailable,
		KindProviderFatal:        http.StatusInternalServerError,
		KindResourceExhausted:    http.StatusServiceUnavailable,
		KindInternal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind.String())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindProviderTransient, "embedding provider unavailable")
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindProviderTransient, KindOf(err))
	assert.Contains(t, err.Error(), "embedding provider unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}
