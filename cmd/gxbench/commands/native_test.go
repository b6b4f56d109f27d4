//go:build !nogpu

package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gx/backend"
)

func TestRunBenchHALNoop(t *testing.T) {
	cfg := traceConfig()
	cfg.Backend = backend.NameNoop
	res, err := runBench(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Frames*cfg.Workers*cfg.Dispatches, res.Contexts.Dispatches)

	cfg.RootSig = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = runBench(t.Context(), cfg)
	assert.Error(t, err)
}

func TestBackendsCommandListsHAL(t *testing.T) {
	var out bytes.Buffer
	cmd := createTestRootCommand(&out)
	cmd.SetArgs([]string{"backends"})
	require.NoError(t, cmd.Execute())
	names := strings.Fields(out.String())
	assert.Contains(t, names, backend.NameNoop)
	assert.Contains(t, names, backend.NameVulkan)
}
