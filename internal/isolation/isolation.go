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

// Package isolation provides the scoped per-experiment resources: a seed, a
// private scratch tree and an environment overlay. Everything acquired for an
// experiment is released when the lease is released.
package isolation

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
)

// SeedRange bounds the per-experiment seed offset.
const SeedRange = 50000

// Scratch sub-directories created for every lease.
const (
	DirCUDACache     = "cuda_cache"
	DirFrameworkHome = "framework_home"
	DirTelemetry     = "telemetry"
	DirOutputs       = "outputs"
)

// ErrStaleScratchRoot is logged when a scratch root left by an earlier run is reclaimed.
var ErrStaleScratchRoot = errors.New("stale scratch root")

// IsolationUnavailable is returned when the resources of an experiment cannot be acquired.
type IsolationUnavailable struct {
	ExperimentID string
	ScratchRoot  string
	Err          error
}

func (e *IsolationUnavailable) Error() string {
	return fmt.Sprintf("isolation unavailable for %s (%s): %v", e.ExperimentID, e.ScratchRoot, e.Err)
}

func (e *IsolationUnavailable) Unwrap() error {
	return e.Err
}

// ReleasePolicy controls how long a release waits for accelerator memory to be returned.
type ReleasePolicy struct {
	// GCPasses is the number of forced garbage collections
	GCPasses int
	// GCPause is the sleep between garbage collections
	GCPause time.Duration
	// ThresholdGB is the retained accelerator memory considered released
	ThresholdGB float64
	// PollInterval is the time between accelerator memory checks
	PollInterval time.Duration
	// Timeout bounds the accelerator memory wait
	Timeout time.Duration
}

// DefaultReleasePolicy returns the standard release policy.
func DefaultReleasePolicy() ReleasePolicy {
	return ReleasePolicy{
		GCPasses:     3,
		GCPause:      100 * time.Millisecond,
		ThresholdGB:  0.5,
		PollInterval: time.Second,
		Timeout:      30 * time.Second,
	}
}

// Manager hands out leases. Only one lease may hold a scratch root at a time.
type Manager struct {
	// TempPrefix is the directory scratch roots are created in
	TempPrefix string
	// BaseSeed is added to the per-experiment seed offset
	BaseSeed int
	// Policy controls the release of accelerator memory
	Policy ReleasePolicy
	// MemoryUsedGB reports the retained accelerator memory, nil skips the wait
	MemoryUsedGB func() (float64, error)
	// Log receives the release diagnostics
	Log logr.Logger

	active map[string]*Lease
}

// NewManager returns a new lease manager.
func NewManager(tempPrefix string, baseSeed int, log logr.Logger) *Manager {
	return &Manager{
		TempPrefix: tempPrefix,
		BaseSeed:   baseSeed,
		Policy:     DefaultReleasePolicy(),
		Log:        log,
		active:     make(map[string]*Lease),
	}
}

// Seed returns the seed of an experiment.
func Seed(baseSeed int, experimentID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(experimentID))
	return baseSeed + int(h.Sum64()%SeedRange)
}

// Lease holds the isolated resources of a single experiment.
type Lease struct {
	ExperimentID string
	Seed         int
	ScratchRoot  string
	EnvOverlay   map[string]string
	Active       bool

	manager  *Manager
	snapshot []string
}

// Acquire creates the scratch tree of an experiment and overlays the process environment.
func (m *Manager) Acquire(experimentID string) (*Lease, error) {
	if m.active == nil {
		m.active = make(map[string]*Lease)
	}

	root, err := filepath.Abs(filepath.Join(m.TempPrefix, experimentID))
	if err != nil {
		return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: err}
	}
	switch {
	case experimentID == "", experimentID == ".", experimentID == "..", strings.ContainsAny(experimentID, `/\`):
		return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: fmt.Errorf("invalid experiment id")}
	}
	for _, l := range m.active {
		if l.ScratchRoot == root {
			return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: fmt.Errorf("scratch root is held by an active lease")}
		}
	}

	// Nothing alive holds the directory, it is left over from an interrupted run
	if _, err := os.Stat(root); err == nil {
		m.Log.Error(ErrStaleScratchRoot, "Deleting scratch root left by an earlier run", "experimentID", experimentID, "path", root)
		if err := os.RemoveAll(root); err != nil {
			return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: err}
		}
	}

	for _, d := range []string{DirCUDACache, DirFrameworkHome, DirTelemetry, DirOutputs} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			_ = os.RemoveAll(root)
			return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: err}
		}
	}

	l := &Lease{
		ExperimentID: experimentID,
		Seed:         Seed(m.BaseSeed, experimentID),
		ScratchRoot:  root,
		Active:       true,
		manager:      m,
		snapshot:     os.Environ(),
	}
	l.EnvOverlay = overlay(l)

	for _, k := range sortedKeys(l.EnvOverlay) {
		if err := os.Setenv(k, l.EnvOverlay[k]); err != nil {
			_ = l.Release()
			return nil, &IsolationUnavailable{ExperimentID: experimentID, ScratchRoot: root, Err: err}
		}
	}

	m.active[experimentID] = l
	m.Log.V(1).Info("Acquired lease", "experimentID", experimentID, "seed", l.Seed, "scratchRoot", root)
	return l, nil
}

// With runs a function while holding the lease of an experiment. The lease is
// released on every exit path, including a panic.
func (m *Manager) With(experimentID string, fn func(*Lease) error) error {
	l, err := m.Acquire(experimentID)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn(l)
}

// Active returns the number of leases currently held.
func (m *Manager) Active() int {
	return len(m.active)
}

// overlay returns the environment variables exposed to the trainer
func overlay(l *Lease) map[string]string {
	seed := strconv.Itoa(l.Seed)
	return map[string]string{
		"EXPERIMENT_ID":         l.ExperimentID,
		"EXPERIMENT_SEED":       seed,
		"PYTHONHASHSEED":        seed,
		"PL_GLOBAL_SEED":        seed,
		"TORCH_DETERMINISTIC":   "0",
		"CUDNN_DETERMINISTIC":   "0",
		"CUDNN_BENCHMARK":       "1",
		"CUDA_CACHE_PATH":       filepath.Join(l.ScratchRoot, DirCUDACache),
		"TORCH_HOME":            filepath.Join(l.ScratchRoot, DirFrameworkHome),
		"XDG_CACHE_HOME":        filepath.Join(l.ScratchRoot, DirFrameworkHome),
		"HF_HOME":               filepath.Join(l.ScratchRoot, DirFrameworkHome),
		"WANDB_DIR":             filepath.Join(l.ScratchRoot, DirTelemetry),
		"EXPERIMENT_OUTPUT_DIR": filepath.Join(l.ScratchRoot, DirOutputs),
	}
}

// Environ returns the environment a trainer should run with.
func (l *Lease) Environ() []string {
	env := make([]string, 0, len(l.snapshot)+len(l.EnvOverlay))
	for _, kv := range l.snapshot {
		if k, _ := splitEnv(kv); k != "" {
			if _, ok := l.EnvOverlay[k]; ok {
				continue
			}
		}
		env = append(env, kv)
	}
	for _, k := range sortedKeys(l.EnvOverlay) {
		env = append(env, k+"="+l.EnvOverlay[k])
	}
	return env
}

// OutputDir returns the scratch directory for trainer outputs.
func (l *Lease) OutputDir() string {
	return filepath.Join(l.ScratchRoot, DirOutputs)
}

// Release restores the environment, waits for the accelerator memory to be
// returned and purges the scratch tree. Releasing an inactive lease does nothing.
func (l *Lease) Release() error {
	if !l.Active {
		return nil
	}
	m := l.manager
	log := m.Log.WithValues("experimentID", l.ExperimentID)

	err := restoreEnv(l.snapshot)
	if err != nil {
		log.Error(err, "Failed to restore environment")
	}

	l.reclaimMemory(log)

	if rmErr := os.RemoveAll(l.ScratchRoot); rmErr != nil {
		log.Error(rmErr, "Failed to remove scratch root", "path", l.ScratchRoot)
	}

	l.Active = false
	delete(m.active, l.ExperimentID)
	log.V(1).Info("Released lease")
	return err
}

func (l *Lease) reclaimMemory(log logr.Logger) {
	p := l.manager.Policy
	for i := 0; i < p.GCPasses; i++ {
		runtime.GC()
		debug.FreeOSMemory()
		if p.GCPause > 0 {
			time.Sleep(p.GCPause)
		}
	}

	probe := l.manager.MemoryUsedGB
	if probe == nil || p.Timeout <= 0 {
		return
	}

	var used float64
	err := wait.PollImmediate(p.PollInterval, p.Timeout, func() (bool, error) {
		var err error
		if used, err = probe(); err != nil {
			return false, err
		}
		return used < p.ThresholdGB, nil
	})
	switch err {
	case nil:
	case wait.ErrWaitTimeout:
		log.Info("Accelerator memory still retained", "usedGB", used, "thresholdGB", p.ThresholdGB)
	default:
		log.Error(err, "Unable to read accelerator memory")
	}
}

func restoreEnv(snapshot []string) error {
	os.Clearenv()
	for _, kv := range snapshot {
		k, v := splitEnv(kv)
		if k == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// splitEnv splits an environment entry, allowing for a leading "=" in the name
func splitEnv(kv string) (string, string) {
	if kv == "" {
		return "", ""
	}
	if i := strings.IndexByte(kv[1:], '='); i >= 0 {
		return kv[:i+1], kv[i+2:]
	}
	return kv, ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
