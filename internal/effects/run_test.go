package effects

import (
	"testing"

	xerrors "restaurant-ops/internal/xpkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  error
		prefetch int
	}{
		{name: "defaults", args: nil, prefetch: 10},
		{name: "custom prefetch", args: []string{"--prefetch", "3"}, prefetch: 3},
		{name: "help", args: []string{"--help"}, wantErr: xerrors.ErrHelp},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: xerrors.ErrParseCmd},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			p, err := parseParams(testCase.args)
			if testCase.wantErr != nil {
				assert.ErrorIs(t, err, testCase.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.prefetch, p.workerParams.Prefetch)
			assert.Equal(t, "config.yaml", p.configPath)
		})
	}
}

func TestValidateParams(t *testing.T) {
	p, err := parseParams([]string{"--concurrency", "0", "--config-path", "missing.yaml"})
	require.NoError(t, err)
	assert.Error(t, validateParams(p))
}
