/*
Copyright 2021 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runner executes a single trainer process against a composed
// configuration. Every outcome, including a failure to start, is a value.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/shlex"
	"github.com/gramlabs/trialmatrix/internal/experiment"
	"github.com/gramlabs/trialmatrix/internal/sfio"
	"github.com/gramlabs/trialmatrix/internal/template"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultGracePeriod is the time between the terminate and kill signals
	DefaultGracePeriod = 10 * time.Second
	// DefaultTailLines is the number of output lines kept in the outcome
	DefaultTailLines = 40
	// ConfigFileName is the name of the configuration written into the scratch root
	ConfigFileName = "config.yaml"
)

// Job describes a single trainer execution.
type Job struct {
	ExperimentID string
	ModelID      string
	Category     string
	Option       string
	Seed         int
	// Invocation is the trainer command line, it may be a Go template
	Invocation string
	// Config is written to the scratch root and passed to the trainer
	Config map[string]interface{}
	// ScratchRoot is the private directory of the experiment
	ScratchRoot string
	// OutputDir is the scratch directory for trainer outputs
	OutputDir string
	// Env is the complete trainer environment
	Env []string
	// Dir is the working directory of the trainer
	Dir string
	// LogPath receives the merged trainer output
	LogPath string
	// Timeout is the wall-clock limit, zero for no limit
	Timeout time.Duration
	// GracePeriod is the time allowed between terminate and kill
	GracePeriod time.Duration
	// Observer is invoked with every output line
	Observer func(line string)
}

// Outcome is the result of a trainer execution.
type Outcome struct {
	Status     experiment.Status
	ReturnCode int
	WallTime   time.Duration
	// Tail holds the last lines of trainer output
	Tail string
	// ConfigPath is the configuration file given to the trainer
	ConfigPath string
}

// Runner spawns trainer processes.
type Runner struct {
	Engine    *template.Engine
	Log       logr.Logger
	TailLines int
}

// New returns a new runner.
func New(log logr.Logger) *Runner {
	return &Runner{Engine: template.New(), Log: log, TailLines: DefaultTailLines}
}

// Run writes the configuration, spawns the trainer and waits for it to exit or
// time out. Cancelling the context kills the trainer immediately.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	log := r.Log.WithValues("experimentID", job.ExperimentID)
	start := time.Now()

	out := Outcome{ReturnCode: -1}
	fail := func(err error) Outcome {
		log.Error(err, "Unable to run trainer")
		out.Status = experiment.StatusFailed
		out.Tail = err.Error()
		out.WallTime = time.Since(start)
		return out
	}

	var err error
	if out.ConfigPath, err = writeConfig(job); err != nil {
		return fail(err)
	}

	args, err := r.command(job, out.ConfigPath)
	if err != nil {
		return fail(err)
	}

	logFile, err := createLog(job.LogPath)
	if err != nil {
		return fail(err)
	}
	defer logFile.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return fail(err)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = job.Dir
	cmd.Env = job.Env
	cmd.Stdout = pw
	cmd.Stderr = pw
	setProcessGroup(cmd)

	log.Info("Starting trainer", "command", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		_, _ = fmt.Fprintf(logFile, "unable to start trainer: %v\n", err)
		return fail(fmt.Errorf("unable to start trainer: %w", err))
	}
	start = time.Now()
	_ = pw.Close()

	tail := newRing(r.tailLines())
	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		stream(pr, logFile, tail, job.Observer)
	}()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	var timeout <-chan time.Time
	if job.Timeout > 0 {
		t := time.NewTimer(job.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var timedOut bool
	select {
	case err = <-waited:
	case <-timeout:
		timedOut = true
		log.Info("Trainer timed out, terminating", "timeout", job.Timeout.String())
		err = r.stop(cmd, waited, gracePeriod(job))
	case <-ctx.Done():
		log.Info("Trainer cancelled, terminating")
		err = r.stop(cmd, waited, 0)
	}
	out.WallTime = time.Since(start)

	// Orphaned grandchildren may keep the pipe open
	select {
	case <-streamed:
	case <-time.After(gracePeriod(job)):
		log.Info("Trainer output still open after exit, closing")
	}
	_ = pr.Close()
	<-streamed

	out.Tail = tail.String()
	out.ReturnCode = exitCode(cmd, err)
	switch {
	case timedOut:
		out.Status = experiment.StatusTimeout
	case out.ReturnCode == 0 && err == nil:
		out.Status = experiment.StatusCompleted
	default:
		out.Status = experiment.StatusFailed
	}

	log.Info("Trainer finished", "status", out.Status, "returnCode", out.ReturnCode, "wallTime", out.WallTime.String())
	return out
}

// stop terminates the process group, escalating to a kill after the grace period
func (r *Runner) stop(cmd *exec.Cmd, waited <-chan error, grace time.Duration) error {
	if grace > 0 {
		if err := terminate(cmd.Process); err != nil {
			r.Log.V(1).Info("Unable to terminate trainer", "error", err.Error())
		}
		select {
		case err := <-waited:
			return err
		case <-time.After(grace):
		}
	}

	if err := kill(cmd.Process); err != nil {
		r.Log.V(1).Info("Unable to kill trainer", "error", err.Error())
	}
	return <-waited
}

func (r *Runner) command(job Job, configPath string) ([]string, error) {
	invocation, err := r.Engine.RenderInvocation(job.Invocation, &template.InvocationData{
		ExperimentID: job.ExperimentID,
		ModelID:      job.ModelID,
		Category:     job.Category,
		Option:       job.Option,
		Seed:         job.Seed,
		ScratchRoot:  job.ScratchRoot,
		OutputDir:    job.OutputDir,
		Config:       job.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid trainer invocation: %w", err)
	}

	args, err := shlex.Split(invocation)
	if err != nil {
		return nil, fmt.Errorf("invalid trainer invocation: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("empty trainer invocation")
	}
	return append(args, "--config", configPath), nil
}

func (r *Runner) tailLines() int {
	if r.TailLines > 0 {
		return r.TailLines
	}
	return DefaultTailLines
}

func writeConfig(job Job) (string, error) {
	if job.ScratchRoot == "" {
		return "", errors.New("no scratch root for the trainer configuration")
	}

	b, err := yaml.Marshal(job.Config)
	if err != nil {
		return "", fmt.Errorf("unable to encode trainer configuration: %w", err)
	}

	path := filepath.Join(job.ScratchRoot, ConfigFileName)
	if err := sfio.WriteFileAtomic(path, b, 0644); err != nil {
		return "", fmt.Errorf("unable to write trainer configuration: %w", err)
	}
	return path, nil
}

func createLog(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("no log path for the trainer output")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// stream copies the trainer output into the log line by line
func stream(r io.Reader, w io.Writer, tail *ring, observer func(string)) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			_, _ = io.WriteString(w, line)
			trimmed := strings.TrimRight(line, "\r\n")
			tail.Add(trimmed)
			if observer != nil {
				observer(trimmed)
			}
		}
		if err != nil {
			return
		}
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func gracePeriod(job Job) time.Duration {
	if job.GracePeriod > 0 {
		return job.GracePeriod
	}
	return DefaultGracePeriod
}

// ring keeps the last lines of output
type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRing(size int) *ring {
	return &ring{lines: make([]string, size)}
}

func (r *ring) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lines []string
	if r.full {
		lines = append(lines, r.lines[r.next:]...)
	}
	lines = append(lines, r.lines[:r.next]...)
	return strings.Join(lines, "\n")
}
