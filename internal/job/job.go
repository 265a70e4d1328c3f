// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package job

import "time"

// Job is a single queued unit of work: the submitter's identity, its
// resource requirement, and the state the scheduler has decided on it.
type Job struct {
	Pid          int         `json:"pid" yaml:"pid"`
	SubmitHost   string      `json:"fromhost,omitempty" yaml:"fromhost,omitempty"`
	User         string      `json:"user" yaml:"user"`
	CommandLine  string      `json:"commandline" yaml:"commandline"`
	Require      Requirement `json:"require" yaml:"require"`
	SubmitTime   time.Time   `json:"submit_time" yaml:"submit_time"`
	RunTime      time.Time   `json:"run_time,omitempty" yaml:"run_time,omitempty"`
	Status       Status      `json:"status" yaml:"status"`
	Hosts        []string    `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	SpoolFname   string      `json:"spool_fname,omitempty" yaml:"spool_fname,omitempty"`
	Reason       string      `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// New constructs a job in the wait state, ready for a first match
// attempt. Callers must have already validated req.
func New(pid int, submitHost, user, commandline string, req Requirement) *Job {
	return &Job{
		Pid:         pid,
		SubmitHost:  submitHost,
		User:        user,
		CommandLine: commandline,
		Require:     req,
		SubmitTime:  time.Now(),
		Status:      StatusWait,
	}
}

// SetStatus transitions the job to next, returning ErrIllegalTransition
// if the edge is not legal. RunTime is stamped when entering run.
func (j *Job) SetStatus(next Status) error {
	if !j.Status.CanTransition(next) {
		return &ErrIllegalTransition{From: j.Status, To: next}
	}
	if next == StatusRun {
		j.RunTime = time.Now()
	}
	j.Status = next
	return nil
}

// CoreCount returns the number of cores this job holds, i.e. the length
// of its host multiset. A host appearing k times in Hosts represents k
// cores reserved on that host.
func (j *Job) CoreCount() int {
	return len(j.Hosts)
}
