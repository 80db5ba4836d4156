package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	cfgErr := NewConfigError("proxy.port", "must be between 1 and 65535")
	if got, want := cfgErr.Error(), "config error in proxy.port: must be between 1 and 65535"; got != want {
		t.Errorf("ConfigError.Error() = %q, want %q", got, want)
	}

	inner := errors.New("backend not found")
	cmdErr := NewCommandError("switch", inner)
	if got, want := cmdErr.Error(), "command switch failed: backend not found"; got != want {
		t.Errorf("CommandError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(cmdErr, inner) {
		t.Error("CommandError does not unwrap to its cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitError},
		{"config", NewConfigError("retry.max_attempts", "must be positive"), ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("a", "b")), ExitConfig},
		{"usage", Usagef("unknown backend %q", "x"), ExitUsage},
		{"command wrapping usage", NewCommandError("logs", Usagef("bad --limit")), ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
