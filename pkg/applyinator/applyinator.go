package applyinator

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rancher/fileguard/pkg/checkfile"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/yaml"
)

type Applyinator struct {
	mu              *sync.Mutex
	workDir         string
	preserveWorkDir bool
	appliedPlanDir  string
}

// CalculatedPlan is passed into Applyinator and is a Plan with checksum calculated
type CalculatedPlan struct {
	Plan     Plan
	Checksum string
}

type Plan struct {
	Files               []File               `json:"files,omitempty"`
	OneTimeInstructions []OneTimeInstruction `json:"instructions,omitempty"`
}

type CommonInstruction struct {
	Name    string   `json:"name,omitempty"`
	Env     []string `json:"env,omitempty"`
	Args    []string `json:"args,omitempty"`
	Command string   `json:"command,omitempty"`
}

type OneTimeInstruction struct {
	CommonInstruction
	SaveOutput bool `json:"saveOutput,omitempty"`
}

// File describes a path the plan manages. Content is base64 encoded. If
// Directory is true a directory is created instead of a file, and an Action of
// "delete" removes the path.
type File struct {
	Content     string `json:"content,omitempty"`
	Directory   bool   `json:"directory,omitempty"`
	UID         int    `json:"uid,omitempty"`
	GID         int    `json:"gid,omitempty"`
	Path        string `json:"path,omitempty"`
	Permissions string `json:"permissions,omitempty"` // octal, e.g. "0640"
	Action      string `json:"action,omitempty"`
}

type ApplyInput struct {
	CalculatedPlan         CalculatedPlan
	ReconcileFiles         bool
	RunOneTimeInstructions bool
	// ExistingOneTimeOutput is the gzip compressed JSON returned by a previous apply.
	ExistingOneTimeOutput []byte
}

type ApplyOutput struct {
	OneTimeApplySucceeded bool
	// OneTimeOutput is gzip compressed JSON of the saved instruction output keyed by instruction name.
	OneTimeOutput []byte
}

const (
	appliedPlanFileSuffix     = "-applied.plan"
	applyinatorDateCodeLayout = "20060102-150405"
	executionPwdEnvKey        = "FILEGUARD_EXECUTION_PWD"
)

func NewApplyinator(workDir string, preserveWorkDir bool, appliedPlanDir string) *Applyinator {
	return &Applyinator{
		mu:              &sync.Mutex{},
		workDir:         workDir,
		preserveWorkDir: preserveWorkDir,
		appliedPlanDir:  appliedPlanDir,
	}
}

// CalculatePlan decodes a JSON or YAML plan and checksums the raw bytes.
func CalculatePlan(rawPlan []byte) (CalculatedPlan, error) {
	var cp CalculatedPlan
	var plan Plan
	if err := yaml.Unmarshal(rawPlan, &plan); err != nil {
		return cp, fmt.Errorf("decoding plan: %w", err)
	}

	cp.Checksum = checksum(rawPlan)
	cp.Plan = plan

	return cp, nil
}

func checksum(input []byte) string {
	h := sha256.New()
	h.Write(input)

	return fmt.Sprintf("%x", h.Sum(nil))
}

// PathsForPermissionsCheck lists the paths an apply of plan may touch and that
// exist beyond the apply: every managed file or directory that is not deleted,
// plus the applied plan history directory.
func (a *Applyinator) PathsForPermissionsCheck(plan Plan) []string {
	var paths []string
	for _, file := range plan.Files {
		if file.Path == "" || file.Action == deleteFileAction {
			continue
		}
		paths = append(paths, file.Path)
	}
	if a.appliedPlanDir != "" {
		paths = append(paths, a.appliedPlanDir)
	}
	return paths
}

// Operation wraps Apply for the attribute guard. A failed apply maps to
// checkfile.IOError and a failed one-time instruction to checkfile.CodeError.
// The apply result is stored in output when it is not nil.
func (a *Applyinator) Operation(input ApplyInput, output *ApplyOutput) checkfile.Operation {
	return func(ctx context.Context) (checkfile.ExitStatus, error) {
		result, err := a.Apply(ctx, input)
		if err != nil {
			return checkfile.IOError, err
		}
		if output != nil {
			*output = result
		}
		if input.RunOneTimeInstructions && !result.OneTimeApplySucceeded {
			return checkfile.CodeError, nil
		}
		return checkfile.OK, nil
	}
}

// Apply writes the plan to the applied plan history, reconciles its files and
// runs its one-time instructions. Concurrent calls are serialized.
func (a *Applyinator) Apply(ctx context.Context, input ApplyInput) (ApplyOutput, error) {
	output := ApplyOutput{
		OneTimeOutput: input.ExistingOneTimeOutput,
	}
	cp := input.CalculatedPlan

	logrus.Infof("[Applyinator] Applying plan with checksum %s", cp.Checksum)
	logrus.Tracef("[Applyinator] Applying plan - attempting to get lock")
	a.mu.Lock()
	logrus.Tracef("[Applyinator] Applying plan - lock achieved")
	defer a.mu.Unlock()

	nowString := time.Now().Format(applyinatorDateCodeLayout)
	executionDir := filepath.Join(a.workDir, nowString)
	logrus.Tracef("[Applyinator] Applying calculated plan contents %v", cp)
	logrus.Tracef("[Applyinator] Using %s as execution directory", executionDir)

	if a.appliedPlanDir != "" {
		logrus.Debugf("[Applyinator] Writing applied calculated plan contents to historical plan directory %s", a.appliedPlanDir)
		if err := a.writeAppliedPlan(cp, nowString+appliedPlanFileSuffix); err != nil {
			return output, err
		}
	}

	if input.ReconcileFiles {
		for _, file := range cp.Plan.Files {
			if err := reconcileFile(file); err != nil {
				return output, err
			}
		}
	}

	if !input.RunOneTimeInstructions {
		return output, nil
	}

	if !a.preserveWorkDir {
		logrus.Debugf("[Applyinator] Cleaning working directory before applying %s", a.workDir)
		if err := os.RemoveAll(a.workDir); err != nil {
			return output, err
		}
	}

	executionOutputs := map[string][]byte{}
	if len(input.ExistingOneTimeOutput) > 0 {
		if err := decompressJSON(input.ExistingOneTimeOutput, &executionOutputs); err != nil {
			return output, fmt.Errorf("decoding existing one-time output: %w", err)
		}
	}

	succeeded := true
	for index, instruction := range cp.Plan.OneTimeInstructions {
		logrus.Debugf("[Applyinator] Executing instruction %d for plan %s", index, cp.Checksum)
		prefix := cp.Checksum + "_" + strconv.Itoa(index)
		out, err := a.execute(ctx, prefix, filepath.Join(executionDir, prefix), instruction.CommonInstruction)
		if err != nil {
			logrus.Errorf("[Applyinator] Error executing instruction %d: %v", index, err)
			succeeded = false
		}
		if instruction.SaveOutput {
			if instruction.Name == "" {
				logrus.Errorf("[Applyinator] Instruction %d does not have a name set, cannot save output data", index)
			} else {
				executionOutputs[instruction.Name] = out
			}
		}
		// later instructions may depend on this one
		if !succeeded {
			break
		}
	}

	compressed, err := compressJSON(executionOutputs)
	if err != nil {
		return output, err
	}
	output.OneTimeApplySucceeded = succeeded
	output.OneTimeOutput = compressed
	return output, nil
}

func (a *Applyinator) writeAppliedPlan(cp CalculatedPlan, name string) error {
	if err := os.MkdirAll(a.appliedPlanDir, 0700); err != nil {
		return err
	}
	anpString, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return writeContentToFile(filepath.Join(a.appliedPlanDir, name), -1, -1, 0600, anpString)
}

// execute runs instruction in executionDir and returns its combined output.
func (a *Applyinator) execute(ctx context.Context, prefix, executionDir string, instruction CommonInstruction) ([]byte, error) {
	if instruction.Command == "" {
		return nil, fmt.Errorf("instruction %s has no command", prefix)
	}

	logrus.Debugf("[Applyinator] Creating working directory %s", executionDir)
	if err := createDirectory(File{Directory: true, Path: executionDir, UID: -1, GID: -1}); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, instruction.Command, instruction.Args...)
	logrus.Infof("[Applyinator] Running command: %s %v", instruction.Command, instruction.Args)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, instruction.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", executionPwdEnvKey, executionDir))
	cmd.Dir = executionDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setting up stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setting up stderr pipe: %w", err)
	}

	var (
		eg     errgroup.Group
		lock   sync.Mutex
		buffer bytes.Buffer
	)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	eg.Go(func() error {
		return streamLogs("["+prefix+":stdout]", &buffer, stdout, &lock)
	})
	eg.Go(func() error {
		return streamLogs("["+prefix+":stderr]", &buffer, stderr, &lock)
	})

	// cmd.Wait closes the pipes, so the readers have to drain first.
	streamErr := eg.Wait()
	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		exitCode = -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	} else {
		err = streamErr
	}
	logrus.Infof("[Applyinator] Command %s %v finished with err: %v and exit code: %d", instruction.Command, instruction.Args, err, exitCode)
	return buffer.Bytes(), err
}

// streamLogs logs every line read from reader with prefix and appends it to
// outputBuffer while holding lock.
func streamLogs(prefix string, outputBuffer *bytes.Buffer, reader io.Reader, lock *sync.Mutex) error {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		logrus.Infof("%s: %s", prefix, scanner.Text())
		lock.Lock()
		outputBuffer.Write(scanner.Bytes())
		outputBuffer.WriteByte('\n')
		lock.Unlock()
	}
	return scanner.Err()
}

func compressJSON(v interface{}) ([]byte, error) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var gzOutput bytes.Buffer
	gzWriter := gzip.NewWriter(&gzOutput)
	if _, err := gzWriter.Write(marshalled); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	return gzOutput.Bytes(), nil
}

func decompressJSON(data []byte, v interface{}) error {
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gzReader.Close()

	var objectBuffer bytes.Buffer
	if _, err := io.Copy(&objectBuffer, gzReader); err != nil {
		return err
	}
	return json.Unmarshal(objectBuffer.Bytes(), v)
}

// DecodeOneTimeOutput expands the output of an apply into the saved
// instruction output keyed by instruction name.
func DecodeOneTimeOutput(data []byte) (map[string][]byte, error) {
	outputs := map[string][]byte{}
	if len(data) == 0 {
		return outputs, nil
	}
	if err := decompressJSON(data, &outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}
