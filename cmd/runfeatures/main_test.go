package main

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runfeatures/pkg/report"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "runs failed", err: fmt.Errorf("%w: 1 of 3", errRunsFailed), want: exitRunsFailed},
		{
			name: "wrapped runs failed",
			err: fmt.Errorf("process: %w", checkFailures(&report.Summary{
				Failed: []report.Failure{{RunID: "b", Error: "boom"}},
			})),
			want: exitRunsFailed,
		},
		{name: "other error", err: errors.New("reading input: boom"), want: exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	require.NoError(t, configureLogger(l, "debug", "json"))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	require.NoError(t, configureLogger(l, "warn", "TEXT"))
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	assert.ErrorContains(t, configureLogger(l, "loud", "text"), "invalid log level")
	assert.ErrorContains(t, configureLogger(l, "info", "xml"), "invalid log format")
}
