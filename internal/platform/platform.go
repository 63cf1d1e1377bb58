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

// Package platform reports the host characteristics that shape a training
// configuration. Probing is a pure read; recommendations are advisory.
package platform

import (
	"bytes"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Accelerator identifies the compute device a trainer will use.
type Accelerator string

const (
	CUDA Accelerator = "cuda"
	MPS  Accelerator = "mps"
	CPU  Accelerator = "cpu"
)

const bytesPerGB = 1 << 30

// Profile describes the host the orchestrator is running on.
type Profile struct {
	OS                  string      `json:"os"`
	Accelerator         Accelerator `json:"accelerator"`
	AcceleratorMemoryGB float64     `json:"acceleratorMemoryGB"`
	HostMemoryGB        float64     `json:"hostMemoryGB"`
	CPUCount            int         `json:"cpuCount"`
}

// batchFactors scale the base batch size per accelerator
var batchFactors = map[Accelerator]float64{
	CUDA: 1.5,
	MPS:  0.8,
	CPU:  0.5,
}

// BatchSize returns the recommended batch size for the supplied base value.
func (p Profile) BatchSize(base int) int {
	f, ok := batchFactors[p.Accelerator]
	if !ok {
		f = batchFactors[CPU]
	}
	if bs := int(math.Floor(float64(base) * f)); bs > 1 {
		return bs
	}
	return 1
}

// Workers returns the recommended number of data loader workers.
func (p Profile) Workers() int {
	var w int
	switch p.Accelerator {
	case CUDA:
		w = minInt(8, p.CPUCount)
	case MPS:
		w = minInt(4, p.CPUCount/2)
	default:
		w = p.CPUCount
	}
	if w < 0 {
		return 0
	}
	return w
}

// MixedPrecision returns true if automatic mixed precision should be enabled.
func (p Profile) MixedPrecision() bool {
	return p.Accelerator == CUDA
}

// PinMemory returns true if data loaders should pin host memory.
func (p Profile) PinMemory() bool {
	return p.Accelerator == CUDA
}

// Prober detects the platform profile. The function fields exist so the
// detection can be exercised without the real tools present.
type Prober struct {
	GOOS   string
	GOARCH string
	// NumCPU returns the number of logical CPUs
	NumCPU func() int
	// LookPath finds an executable
	LookPath func(file string) (string, error)
	// Output runs a command and returns its standard output
	Output func(name string, arg ...string) ([]byte, error)
	// HostMemory returns the total host memory in bytes
	HostMemory func() (uint64, error)
}

// NewProber returns a prober for the current process.
func NewProber() *Prober {
	return &Prober{
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		NumCPU:     runtime.NumCPU,
		LookPath:   exec.LookPath,
		Output:     func(name string, arg ...string) ([]byte, error) { return exec.Command(name, arg...).Output() },
		HostMemory: hostMemory,
	}
}

// Probe returns the profile of the current process.
func Probe() Profile {
	return NewProber().Probe()
}

// Probe detects the platform profile, preferring CUDA, then MPS, then the CPU.
func (p *Prober) Probe() Profile {
	prof := Profile{
		OS:          p.GOOS,
		CPUCount:    p.NumCPU(),
		Accelerator: CPU,
	}

	if p.HostMemory != nil {
		if mem, err := p.HostMemory(); err == nil {
			prof.HostMemoryGB = float64(mem) / bytesPerGB
		}
	}

	if mem, err := p.queryCUDA("memory.total"); err == nil {
		prof.Accelerator = CUDA
		prof.AcceleratorMemoryGB = mem
		return prof
	}

	// Apple Silicon uses unified memory, the accelerator shares the host memory
	if p.GOOS == "darwin" && p.GOARCH == "arm64" {
		prof.Accelerator = MPS
		prof.AcceleratorMemoryGB = prof.HostMemoryGB
	}

	return prof
}

// AcceleratorMemoryUsedGB reports the memory currently retained on the accelerator.
// Only CUDA devices can be inspected, other accelerators always report zero.
func (p *Prober) AcceleratorMemoryUsedGB() (float64, error) {
	if _, err := p.LookPath("nvidia-smi"); err != nil {
		return 0, nil
	}
	return p.queryCUDA("memory.used")
}

// queryCUDA returns a memory query for the first CUDA device in gigabytes
func (p *Prober) queryCUDA(field string) (float64, error) {
	if _, err := p.LookPath("nvidia-smi"); err != nil {
		return 0, err
	}

	out, err := p.Output("nvidia-smi", "--query-gpu="+field, "--format=csv,noheader,nounits")
	if err != nil {
		return 0, err
	}

	line := string(bytes.TrimSpace(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	mib, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse nvidia-smi %s: %w", field, err)
	}
	return mib / 1024, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
