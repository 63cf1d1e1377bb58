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

package config

import (
	"os"
	"time"

	"github.com/gramlabs/trialmatrix/internal/matrix"
)

// matrixLoader reads the system and execution sections of the matrix. A missing
// matrix is only an error if a matrix file was named explicitly.
func matrixLoader(s *Settings) error {
	if s.Matrix == nil && s.MatrixFile != "" {
		spec, err := matrix.Load(s.MatrixFile)
		if os.IsNotExist(err) && s.MatrixFile == DefaultMatrixFile {
			return nil
		}
		if err != nil {
			return err
		}
		s.Matrix = spec
	}
	if s.Matrix == nil {
		return nil
	}

	m := s.Matrix
	defaultString(&s.ResultsDir, m.Resolve(m.System.ResultsDir))
	defaultString(&s.TempPrefix, m.Resolve(m.System.TempDirPrefix))
	if s.Timeout == 0 {
		s.Timeout = time.Duration(m.Timeout()) * time.Second
	}
	if s.GracePeriod == 0 && m.Execution.GracePeriodS > 0 {
		s.GracePeriod = time.Duration(m.Execution.GracePeriodS) * time.Second
	}
	if m.Execution.BaseSeed != nil {
		s.BaseSeed = *m.Execution.BaseSeed
		s.baseSeedSet = true
	}
	return nil
}
