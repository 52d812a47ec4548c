package localplan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rancher/fileguard/pkg/applyinator"
	"github.com/rancher/fileguard/pkg/checkfile"
	"github.com/sirupsen/logrus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const (
	planSuffix     = ".plan"
	positionSuffix = ".pos"
	skipSuffix     = ".skip"

	DefaultInterval = 5 * time.Second
)

// PlanPosition is persisted next to each plan and records what was applied.
// Output is the gzip compressed one-time instruction output.
type PlanPosition struct {
	AppliedChecksum string `json:"appliedChecksum,omitempty"`
	Output          []byte `json:"output,omitempty"`
}

// Result describes what happened to one plan file.
type Result struct {
	Path    string
	Applied bool
	Status  checkfile.ExitStatus
}

// Runner applies the plan files found in a set of directories, each under the
// attribute guard.
type Runner struct {
	bases       []string
	applyinator *applyinator.Applyinator
	guard       *checkfile.Command
	extraPaths  []string
}

// New returns a Runner for the plans below bases. extraPaths are added to the
// guarded path-set of every plan.
func New(a *applyinator.Applyinator, guard *checkfile.Command, extraPaths []string, bases ...string) *Runner {
	return &Runner{
		bases:       bases,
		applyinator: a,
		guard:       guard,
		extraPaths:  extraPaths,
	}
}

// Watch processes the directories every interval until ctx is done.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	for {
		if _, err := r.ApplyOnce(ctx); err != nil {
			logrus.Errorf("[local] Failed to process plans: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ApplyOnce processes every directory once. A failing plan does not stop the
// others; all failures are returned together.
func (r *Runner) ApplyOnce(ctx context.Context) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, base := range r.bases {
		res, err := r.applyDir(ctx, base)
		results = append(results, res...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, utilerrors.NewAggregate(errs)
}

func (r *Runner) applyDir(ctx context.Context, base string) ([]Result, error) {
	files := map[string]fs.DirEntry{}
	if err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files[path] = d
		}
		return nil
	}); err != nil {
		return nil, err
	}

	skips := map[string]bool{}
	keys := make([]string, 0, len(files))
	for path, file := range files {
		if strings.HasSuffix(file.Name(), skipSuffix) {
			skips[filepath.Join(filepath.Dir(path), strings.TrimSuffix(file.Name(), skipSuffix))] = true
		}
		keys = append(keys, path)
	}
	sort.Strings(keys)

	var (
		results []Result
		errs    []error
	)
	for _, path := range keys {
		if skipFile(path, skips) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		logrus.Debugf("[local] Processing file %s", path)
		result, err := r.applyPlan(ctx, path)
		if err != nil {
			logrus.Errorf("[local] Error when applying plan from file %s: %v", path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		results = append(results, result)
	}
	return results, utilerrors.NewAggregate(errs)
}

func (r *Runner) applyPlan(ctx context.Context, path string) (Result, error) {
	result := Result{Path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		return result, err
	}
	cp, err := applyinator.CalculatePlan(b)
	if err != nil {
		return result, err
	}
	logrus.Debugf("[local] Plan from file %s was: %v", path, cp.Plan)

	posFile := positionFileName(path)
	posData, err := readPositionFile(posFile)
	if err != nil {
		return result, err
	}
	position, err := parsePositionData(posData)
	if err != nil {
		logrus.Errorf("[local] Error parsing position file %s, reapplying plan: %v", posFile, err)
	}

	if position.AppliedChecksum == cp.Checksum {
		logrus.Debugf("[local] Plan checksum (%s) matched", cp.Checksum)
		return result, nil
	}
	logrus.Infof("[local] Plan checksums differed (%s:%s)", cp.Checksum, position.AppliedChecksum)

	input := applyinator.ApplyInput{
		CalculatedPlan:         cp,
		ReconcileFiles:         true,
		RunOneTimeInstructions: true,
		ExistingOneTimeOutput:  position.Output,
	}

	paths := func() ([]string, error) {
		watched := r.applyinator.PathsForPermissionsCheck(cp.Plan)
		watched = append(watched, posFile)
		return append(watched, r.extraPaths...), nil
	}

	status, err := r.guard.Run(ctx, paths, func(ctx context.Context) (checkfile.ExitStatus, error) {
		var output applyinator.ApplyOutput
		status, err := r.applyinator.Operation(input, &output)(ctx)
		if err != nil {
			return status, err
		}
		next := PlanPosition{
			AppliedChecksum: cp.Checksum,
			Output:          output.OneTimeOutput,
		}
		if err := writePositionFile(posFile, posData, next); err != nil {
			return checkfile.CantCreate, err
		}
		return status, nil
	})
	result.Applied = err == nil
	result.Status = status
	return result, err
}

func positionFileName(planPath string) string {
	return strings.TrimSuffix(planPath, planSuffix) + positionSuffix
}

func readPositionFile(positionFile string) ([]byte, error) {
	data, err := os.ReadFile(positionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.Debugf("[local] Position file %s did not exist", positionFile)
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func parsePositionData(positionData []byte) (PlanPosition, error) {
	var planPosition PlanPosition
	if len(positionData) == 0 {
		return planPosition, nil
	}
	if err := json.Unmarshal(positionData, &planPosition); err != nil {
		return PlanPosition{}, err
	}
	return planPosition, nil
}

func writePositionFile(positionFile string, existing []byte, position PlanPosition) error {
	data, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("marshalling plan position: %w", err)
	}
	if bytes.Equal(data, existing) {
		return nil
	}
	logrus.Debugf("[local] Writing position data to %s", positionFile)
	return os.WriteFile(positionFile, data, 0600)
}

// skipFile reports whether path is not a plan to apply: dotfiles, files without
// the plan suffix and plans with a matching skip marker.
func skipFile(path string, skips map[string]bool) bool {
	fileName := filepath.Base(path)
	switch {
	case strings.HasPrefix(fileName, "."):
		return true
	case skips[path]:
		return true
	case strings.HasSuffix(fileName, planSuffix):
		return false
	default:
		return true
	}
}
