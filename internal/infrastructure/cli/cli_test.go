package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/domain"
)

func init() {
	color.NoColor = true
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := `
backends:
  language: [offline]
providers:
  - name: offline
    capability: language
    kind: heuristic
storage:
  dir: ` + filepath.Join(dir, "state") + `
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root, s := newRoot(Options{ConfigPath: configPath})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, s.close())
	return out.String(), err
}

func TestPrompterChoose(t *testing.T) {
	candidates := []domain.Intent{
		{Action: domain.ActionLaunch, Target: domain.TargetRef{Name: "Calculator", Resolved: true}},
		{Action: domain.ActionLaunch, Target: domain.TargetRef{Name: "Calendar", Resolved: true}},
	}
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"first", "1\n", 0},
		{"second without newline", "2", 1},
		{"empty cancels", "\n", -1},
		{"eof cancels", "", -1},
		{"out of range", "3\n", -1},
		{"not a number", "calc\n", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)
			assert.True(t, p.Enabled())
			got, err := p.Choose("open cal", candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "2) launch Calendar")
		})
	}
}

func TestVersionNeedsNoConfig(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "missing", "dir", "config.yaml"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pcpilot version "+Version)
}

func TestDryRunIsRecordedInHistory(t *testing.T) {
	path := testConfig(t)

	out, err := execute(t, path, "--dry-run", "run", "-y", "open", "calculator")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run:")
	assert.Contains(t, out, "Calculator")

	out, err = execute(t, path, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "open calculator")
}

func TestRunRequiresInput(t *testing.T) {
	_, err := execute(t, testConfig(t), "run")
	assert.ErrorContains(t, err, "--audio")
}

func TestResolveShowsCandidates(t *testing.T) {
	out, err := execute(t, testConfig(t), "resolve", "open", "calculator")
	require.NoError(t, err)
	assert.Contains(t, out, "1. launch")
	assert.Contains(t, out, "Calculator")
}

func TestHistoryClearNeedsConfirmation(t *testing.T) {
	_, err := execute(t, testConfig(t), "history", "clear")
	assert.ErrorContains(t, err, "--yes")
}
