package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:        http.StatusNotFound,
		KindInvalidInput:    http.StatusBadRequest,
		KindPayloadTooLarge: http.StatusRequestEntityTooLarge,
		KindUnauthorized:    http.StatusUnauthorized,
		KindConflict:        http.StatusConflict,
		KindUpstream:        http.StatusBadGateway,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		require.Equal(t, status, HTTPStatus(New(kind, "x")), string(kind))
	}
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindUpstream, base, "backend said %s", "no"))

	require.ErrorIs(t, err, base)
	require.Equal(t, KindUpstream, KindOf(err))
	require.Equal(t, "backend said no", DetailOf(err))
	require.Equal(t, "Internal server error", DetailOf(base))
}
