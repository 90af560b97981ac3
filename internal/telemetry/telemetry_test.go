package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetupOTelSDK_ShutdownSucceeds(t *testing.T) {
	shutdown, err := SetupOTelSDK(context.Background(), "stratrun-test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
}

func TestLogWriter_WriteReturnsLength(t *testing.T) {
	w := logWriter{}
	n, err := w.Write([]byte("trace payload"))
	require.NoError(t, err)
	require.Equal(t, len("trace payload"), n)
}
