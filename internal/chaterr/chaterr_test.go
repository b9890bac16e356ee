package chaterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf_UnwrapsWrappedError(t *testing.T) {
	base := New(LLMError, "model call failed", errors.New("connection refused"))
	wrapped := fmt.Errorf("context: %w", base)

	require.Equal(t, LLMError, CodeOf(wrapped))
}

func TestCodeOf_DefaultsToInternalForUnclassified(t *testing.T) {
	require.Equal(t, Internal, CodeOf(errors.New("plain error")))
}

func TestOrchestratorCode_MapsNarrowCodesToOutboundSet(t *testing.T) {
	require.Equal(t, UpstreamUnavailable, OrchestratorCode(IOError))
	require.Equal(t, UpstreamUnavailable, OrchestratorCode(LLMError))
	require.Equal(t, Internal, OrchestratorCode(EmptyResponse))
	require.Equal(t, Internal, OrchestratorCode(ProcessingError))
	require.Equal(t, Cancelled, OrchestratorCode(Cancelled))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := New(IOError, "read failed", errors.New("eof"))
	require.Contains(t, err.Error(), "io_error")
	require.Contains(t, err.Error(), "read failed")
	require.Contains(t, err.Error(), "eof")
}
