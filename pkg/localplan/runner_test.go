//go:build !windows

package localplan

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rancher/fileguard/pkg/applyinator"
	"github.com/rancher/fileguard/pkg/checkfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lines []string

func (l *lines) Println(line string) {
	*l = append(*l, line)
}

type fixture struct {
	planDir string
	dataDir string
	out     *lines
	runner  *Runner
}

func newFixture(t *testing.T, extraPaths ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		planDir: filepath.Join(root, "plans"),
		dataDir: filepath.Join(root, "data"),
		out:     &lines{},
	}
	require.NoError(t, os.Mkdir(f.planDir, 0755))
	require.NoError(t, os.Mkdir(f.dataDir, 0755))

	a := applyinator.NewApplyinator(filepath.Join(root, "work"), false, "")
	guard := checkfile.New(checkfile.NewOsFs(), f.out)
	f.runner = New(a, guard, extraPaths, f.planDir)
	return f
}

func (f *fixture) writePlan(t *testing.T, name string, plan applyinator.Plan) string {
	t.Helper()
	b, err := json.Marshal(plan)
	require.NoError(t, err)
	path := filepath.Join(f.planDir, name)
	require.NoError(t, os.WriteFile(path, b, 0600))
	return path
}

func (f *fixture) writeData(t *testing.T, name string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(f.dataDir, name)
	require.NoError(t, os.WriteFile(path, []byte("old"), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func filePlan(path, content, perm string) applyinator.Plan {
	return applyinator.Plan{
		Files: []applyinator.File{
			{
				Path:        path,
				Content:     base64.StdEncoding.EncodeToString([]byte(content)),
				Permissions: perm,
				UID:         -1,
				GID:         -1,
			},
		},
	}
}

func TestApplyOnceReportsChangesAndRecordsPosition(t *testing.T) {
	f := newFixture(t)
	target := f.writeData(t, "config.yaml", 0644)
	planPath := f.writePlan(t, "app.plan", filePlan(target, "new", "0600"))

	results, err := f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Result{{Path: planPath, Applied: true, Status: checkfile.OK}}, results)
	assert.Equal(t, lines{
		"The file permissions of [" + target + "] have changed from [rw-r--r--] to [rw-------]. " +
			"Please ensure that the user account running the service has read access to this file",
	}, *f.out)

	data, err := os.ReadFile(filepath.Join(f.planDir, "app.pos"))
	require.NoError(t, err)
	position, err := parsePositionData(data)
	require.NoError(t, err)
	assert.NotEmpty(t, position.AppliedChecksum)

	// The checksum now matches, so nothing is applied a second time.
	*f.out = nil
	results, err = f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Result{{Path: planPath}}, results)
	assert.Empty(t, *f.out)
}

func TestApplyOnceWithoutAttributeChanges(t *testing.T) {
	f := newFixture(t)
	target := f.writeData(t, "config.yaml", 0600)
	f.writePlan(t, "app.plan", filePlan(target, "new", "0600"))

	_, err := f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, *f.out)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestApplyOnceWatchesExtraPaths(t *testing.T) {
	root := t.TempDir()
	extra := filepath.Join(root, "extra")
	require.NoError(t, os.WriteFile(extra, []byte("x"), 0644))
	require.NoError(t, os.Chmod(extra, 0644))

	f := newFixture(t, extra)
	f.writePlan(t, "app.plan", applyinator.Plan{
		OneTimeInstructions: []applyinator.OneTimeInstruction{
			{CommonInstruction: applyinator.CommonInstruction{Name: "chmod", Command: "chmod", Args: []string{"0640", extra}}},
		},
	})

	results, err := f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, checkfile.OK, results[0].Status)
	assert.Equal(t, lines{
		"The file permissions of [" + extra + "] have changed from [rw-r--r--] to [rw-r-----]. " +
			"Please ensure that the user account running the service has read access to this file",
	}, *f.out)
}

func TestApplyOnceSkipsFiles(t *testing.T) {
	f := newFixture(t)
	target := f.writeData(t, "config.yaml", 0644)
	plan := filePlan(target, "new", "0600")

	f.writePlan(t, ".hidden.plan", plan)
	f.writePlan(t, "skipped.plan", plan)
	f.writePlan(t, "notes.txt", plan)
	require.NoError(t, os.WriteFile(filepath.Join(f.planDir, "skipped.plan.skip"), nil, 0600))

	results, err := f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(content))
}

func TestApplyOnceAggregatesErrors(t *testing.T) {
	f := newFixture(t)
	target := f.writeData(t, "config.yaml", 0644)
	require.NoError(t, os.WriteFile(filepath.Join(f.planDir, "a-broken.plan"), []byte("files: {"), 0600))
	f.writePlan(t, "b-bad-content.plan", applyinator.Plan{Files: []applyinator.File{{Path: target, Content: "not base64!"}}})
	good := f.writePlan(t, "c-good.plan", filePlan(target, "new", "0644"))

	results, err := f.runner.ApplyOnce(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "a-broken.plan")
	assert.ErrorContains(t, err, "b-bad-content.plan")

	require.Len(t, results, 3)
	assert.False(t, results[0].Applied)
	assert.False(t, results[1].Applied)
	assert.Equal(t, checkfile.IOError, results[1].Status)
	assert.Equal(t, Result{Path: good, Applied: true, Status: checkfile.OK}, results[2])
	assert.NoFileExists(t, filepath.Join(f.planDir, "b-bad-content.pos"))
}

func TestApplyOnceFailedInstructionStatus(t *testing.T) {
	f := newFixture(t)
	f.writePlan(t, "fail.plan", applyinator.Plan{
		OneTimeInstructions: []applyinator.OneTimeInstruction{
			{CommonInstruction: applyinator.CommonInstruction{Name: "fail", Command: "false"}},
		},
	})

	results, err := f.runner.ApplyOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)
	assert.Equal(t, checkfile.CodeError, results[0].Status)
}

func TestApplyOnceMissingDirectory(t *testing.T) {
	f := newFixture(t)
	r := New(f.runner.applyinator, f.runner.guard, nil, filepath.Join(f.planDir, "missing"))

	_, err := r.ApplyOnce(context.Background())
	assert.Error(t, err)
}

func TestWatchStopsWithContext(t *testing.T) {
	f := newFixture(t)
	target := f.writeData(t, "config.yaml", 0644)
	f.writePlan(t, "app.plan", filePlan(target, "new", "0644"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(f.planDir, "app.pos"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestSkipFile(t *testing.T) {
	skips := map[string]bool{"/plans/b.plan": true}

	assert.False(t, skipFile("/plans/a.plan", skips))
	assert.True(t, skipFile("/plans/b.plan", skips))
	assert.True(t, skipFile("/plans/.a.plan", skips))
	assert.True(t, skipFile("/plans/a.pos", skips))
	assert.Equal(t, "/plans/a.pos", positionFileName("/plans/a.plan"))
}
