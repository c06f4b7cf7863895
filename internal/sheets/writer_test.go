package sheets

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/comptaflow/ledgercast/internal/common"
)

func TestClassifyErrorRateLimit(t *testing.T) {
	apiErr := &googleapi.Error{Code: 429, Message: "rate limit exceeded"}
	err := classifyError(fmt.Errorf("failed to write batch starting at row 1: %w", apiErr))

	assert.ErrorIs(t, err, common.ErrRateLimit)
}

func TestClassifyErrorServerErrorsRetry(t *testing.T) {
	err := classifyError(&googleapi.Error{Code: 503, Message: "backend error"})

	var retryable *common.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.True(t, retryable.Retryable)
}

func TestClassifyErrorClientErrorsFailFast(t *testing.T) {
	err := classifyError(&googleapi.Error{Code: 400, Message: "invalid range"})

	var retryable *common.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.False(t, retryable.Retryable)
}

func TestClassifyErrorPassesThroughNonAPIErrors(t *testing.T) {
	assert.NoError(t, classifyError(nil))

	plain := errors.New("dial tcp: connection refused")
	assert.Equal(t, plain, classifyError(plain))
}
