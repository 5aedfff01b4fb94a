package main

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rclgo/rclgo/internal/rlog"
)

func TestRunCompletesAfterConfiguredTicks(t *testing.T) {
	log := rlog.New(io.Discard, -1)

	done := make(chan error, 1)
	go func() { done <- run(log, 5*time.Millisecond, 3) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after the configured number of ticks")
	}
}
