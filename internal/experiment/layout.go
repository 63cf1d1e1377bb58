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

package experiment

import "path/filepath"

// Layout computes the persisted locations of every per-experiment artifact.
// Everything is keyed by the experiment identifier.
type Layout struct {
	// ResultsDir is the root of all persisted state
	ResultsDir string
}

// QueuePath is the location of the queue document.
func (l Layout) QueuePath() string {
	return filepath.Join(l.ResultsDir, "queue.json")
}

// SubmissionStorePath is the location of the submission tracker table.
func (l Layout) SubmissionStorePath() string {
	return filepath.Join(l.ResultsDir, "submissions.csv")
}

// ResultPath is the location of the per-experiment result record.
func (l Layout) ResultPath(id string) string {
	return filepath.Join(l.ResultsDir, "results", id+".json")
}

// LogPath is the location of the trainer output log.
func (l Layout) LogPath(id string) string {
	return filepath.Join(l.ResultsDir, "logs", id+".log")
}

// SubmissionPath is the location the trainer must write its submission CSV to.
func (l Layout) SubmissionPath(id string) string {
	return filepath.Join(l.ResultsDir, "submissions", id+".csv")
}

// SidecarPath is the optional JSON metrics file stored next to the submission.
func (l Layout) SidecarPath(id string) string {
	return filepath.Join(l.ResultsDir, "submissions", id+".json")
}

// CheckpointDir is the directory the trainer stores checkpoints in.
func (l Layout) CheckpointDir(id string) string {
	return filepath.Join(l.ResultsDir, "checkpoints", id)
}

// CheckpointMetadataPath is the canonical checkpoint metadata document.
func (l Layout) CheckpointMetadataPath(id string) string {
	return filepath.Join(l.CheckpointDir(id), "checkpoint.json")
}
