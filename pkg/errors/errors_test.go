package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Transport("fetch", 503, fmt.Errorf("bad gateway"))
	assert.Equal(t, "fetch: transport error (code 503): bad gateway", err.Error())

	err = UpstreamData("paginate", "null batch")
	assert.Equal(t, "paginate: upstream_data error: null batch", err.Error())
}

func TestIsWalksChain(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("item 42: %w", IO("write", cause))

	assert.True(t, Is(err, ErrorTypeIO))
	assert.False(t, Is(err, ErrorTypePersistence))
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, ErrorTypeIO, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(cause))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ErrorTypeIO, "op", nil))
}

func TestRetryability(t *testing.T) {
	assert.False(t, IsRetryable(ErrorTypeTransport))
	assert.True(t, IsRetryable(ErrorTypeRateLimit))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.False(t, IsRetryable(ErrorTypePersistence))
	assert.True(t, IsRetryableStatusCode(502))
	assert.False(t, IsRetryableStatusCode(0))
	assert.False(t, IsRetryableStatusCode(404))
	assert.Equal(t, ErrorTypeAuth, FromStatus(400))
	assert.Equal(t, ErrorTypeServerError, FromStatus(500))
}
