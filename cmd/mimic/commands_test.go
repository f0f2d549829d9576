package main

import (
	"errors"
	"testing"

	"mimic/internal/orchestrator"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		sum  orchestrator.Summary
		err  error
		want subcommands.ExitStatus
	}{
		{"success", orchestrator.Summary{Outcome: orchestrator.OutcomeSuccess}, nil, subcommands.ExitSuccess},
		{"skipped", orchestrator.Summary{Outcome: orchestrator.OutcomeSkipped, SkipReason: orchestrator.SkipMarketClosed}, nil, subcommands.ExitSuccess},
		{"run failed", orchestrator.Summary{Outcome: orchestrator.OutcomeFailed}, errors.New("feed down"), subcommands.ExitFailure},
		{"trade failed", orchestrator.Summary{Outcome: orchestrator.OutcomeSuccess, Counts: orchestrator.Counts{Failed: 1}}, nil, subcommands.ExitFailure},
		{"reconcile error", orchestrator.Summary{Outcome: orchestrator.OutcomeSuccess, Counts: orchestrator.Counts{Errors: 1}}, nil, subcommands.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitStatus(tt.sum, tt.err))
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("MIMIC_CONFIG", "")
	assert.Equal(t, "configs/config.yaml", defaultConfigPath())
	t.Setenv("MIMIC_CONFIG", "/etc/mimic.yaml")
	assert.Equal(t, "/etc/mimic.yaml", defaultConfigPath())
}
