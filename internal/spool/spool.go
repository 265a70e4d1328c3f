// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package spool persists live job state to one file per process
// identity so a restart can reconstruct cluster reservations and user
// counters without re-contacting any client. Records are serialized as
// YAML rather than the original implementation's native object
// pickling, per DESIGN NOTES §9, and carry an explicit schema version.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wq-cluster/wqd/internal/job"
	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is stamped into every spool record so a future format
// change can detect and migrate old files instead of silently
// misreading them.
const SchemaVersion = 1

// Record is the on-disk shape of a spooled job.
type Record struct {
	SchemaVersion int     `yaml:"schema_version"`
	Job           job.Job `yaml:"job"`
}

// Spool manages the job files in dir. It does not manage users.yaml,
// which is internal/users' concern.
type Spool struct {
	dir string
}

// New returns a Spool rooted at dir, creating dir if absent.
func New(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeIO, "creating spool directory", err)
	}
	return &Spool{dir: dir}, nil
}

func (s *Spool) filename(pid int, status job.Status) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.%s", pid, status))
}

// Write atomically produces <pid>.<status>, deleting any previous spool
// file for that pid first. Only wait and run jobs are spoolable; calling
// Write for any other status is a programmer error.
func (s *Spool) Write(j *job.Job) error {
	if !j.Status.Spoolable() {
		return wqerrors.New(wqerrors.ErrorCodeInvariant,
			fmt.Sprintf("spool: status %s is not spoolable", j.Status))
	}

	if err := s.removeExisting(j.Pid); err != nil {
		return err
	}

	rec := Record{SchemaVersion: SchemaVersion, Job: *j}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeIO, "marshaling spool record", err)
	}

	target := s.filename(j.Pid, j.Status)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeIO, "writing spool file", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeIO, "renaming spool file", err)
	}

	j.SpoolFname = target
	return nil
}

// Remove deletes any spool file for pid, regardless of status.
func (s *Spool) Remove(pid int) error {
	return s.removeExisting(pid)
}

func (s *Spool) removeExisting(pid int) error {
	for _, status := range []job.Status{job.StatusWait, job.StatusRun} {
		path := s.filename(pid, status)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return wqerrors.Wrap(wqerrors.ErrorCodeIO, "removing stale spool file", err)
		}
	}
	return nil
}

// ReplayedJob pairs a successfully-decoded record with the file it came
// from, so the caller can log which file produced which job.
type ReplayedJob struct {
	Job      *job.Job
	Filename string
}

// Replay reads every spool file in dir, sorted ascending by filename,
// skipping anything not ending in .run or .wait. A corrupt or unreadable
// file is reported through the onSkip callback and otherwise ignored;
// it never aborts startup.
func (s *Spool) Replay(onSkip func(filename string, err error)) ([]ReplayedJob, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeIO, "reading spool directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".run") && !strings.HasSuffix(e.Name(), ".wait") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []ReplayedJob
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if onSkip != nil {
				onSkip(name, wqerrors.NewSpoolReadError(name, err))
			}
			continue
		}

		var rec Record
		if err := yaml.Unmarshal(data, &rec); err != nil {
			if onSkip != nil {
				onSkip(name, wqerrors.NewSpoolReadError(name, err))
			}
			continue
		}

		j := rec.Job
		j.SpoolFname = path
		out = append(out, ReplayedJob{Job: &j, Filename: name})
	}
	return out, nil
}
