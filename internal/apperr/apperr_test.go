package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("advancing point: %w", New(KindPointNotFound, "point p1 not found"))

	assert.Equal(t, KindPointNotFound, KindOf(err))
	assert.True(t, Is(err, KindPointNotFound))
	assert.True(t, errors.Is(err, &Error{Kind: KindPointNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTopicNotFound}))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindPersistenceFailure, "saving", nil))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindUpstreamUnavailable, "completion failed", errors.New("connection refused"))
	assert.Equal(t, "completion failed: connection refused", err.Error())
	assert.Equal(t, "EmptyCompletion", (&Error{Kind: KindEmptyCompletion}).Error())
}

func TestStatusOf(t *testing.T) {
	cases := map[Kind]int{
		KindPointNotFound:       http.StatusNotFound,
		KindMainTopicNotFound:   http.StatusNotFound,
		KindPrerequisiteMissing: http.StatusConflict,
		KindInvalidRequest:      http.StatusBadRequest,
		KindUpstreamUnavailable: http.StatusBadGateway,
		KindParseAmbiguous:      http.StatusUnprocessableEntity,
		KindPersistenceFailure:  http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusOf(kind), kind)
	}
}
