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

package main

import (
	"testing"

	"github.com/gramlabs/trialmatrix/cli/internal/commands"
	"github.com/stretchr/testify/assert"
)

func TestRootCommand(t *testing.T) {
	cmd := commands.NewOrchestrateCommand()
	assert.Equal(t, "orchestrate", cmd.Root().Name())
	assert.NotEmpty(t, cmd.Version)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("results-dir"))
}
