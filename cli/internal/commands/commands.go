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

package commands

import (
	"errors"
	"fmt"

	"github.com/gramlabs/trialmatrix/cli/internal/commander"
	"github.com/gramlabs/trialmatrix/cli/internal/commands/orchestrate"
	"github.com/gramlabs/trialmatrix/cli/internal/commands/track"
	"github.com/gramlabs/trialmatrix/internal/config"
	"github.com/gramlabs/trialmatrix/internal/queue"
	"github.com/gramlabs/trialmatrix/internal/tracker"
	"github.com/gramlabs/trialmatrix/internal/version"
	"github.com/spf13/cobra"
)

// NewOrchestrateCommand creates the top-level queue driver command.
func NewOrchestrateCommand() *cobra.Command {
	g := newGlobals()
	rootCmd := orchestrate.NewCommand(&orchestrate.Options{Globals: g})
	rootCmd.Version = version.GetInfo().String()
	rootCmd.DisableAutoGenTag = true
	rootCmd.SilenceUsage = true

	commander.SetGlobals(g, rootCmd)
	commander.MapErrors(rootCmd, mapError)
	return rootCmd
}

// NewTrackCommand creates the top-level submission tracker command.
func NewTrackCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "track",
		Short:             "Track leaderboard submissions",
		Version:           version.GetInfo().String(),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	g := newGlobals()
	commander.SetGlobals(g, rootCmd)
	track.NewCommand(rootCmd, g)

	commander.MapErrors(rootCmd, mapError)
	return rootCmd
}

func newGlobals() *commander.Globals {
	return &commander.Globals{Settings: &config.Settings{MatrixFile: config.DefaultMatrixFile}}
}

// mapError intercepts errors returned by commands before they are reported.
func mapError(err error) error {
	var fatal *queue.FatalError
	if errors.As(err, &fatal) {
		return fmt.Errorf("unable to continue: %w", err)
	}

	if errors.Is(err, tracker.ErrUnknownExperiment) {
		return fmt.Errorf("%w, try running 'track candidates' to list the experiments", err)
	}

	return err
}
