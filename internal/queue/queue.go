// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package queue owns the insertion-ordered job list and the refresh
// sweep: the periodic pass that reclaims resources from dead submitters
// and promotes waiting jobs to run. It is the only caller of
// cluster.Reserve/Unreserve and users.Registry.Increment/Decrement —
// every mutation to shared cluster/user state happens here, under the
// queue's own mutex, matching §5's "single logical owner" model.
package queue

import (
	"sync"

	"github.com/wq-cluster/wqd/internal/cluster"
	"github.com/wq-cluster/wqd/internal/job"
	"github.com/wq-cluster/wqd/internal/liveness"
	"github.com/wq-cluster/wqd/internal/match"
	"github.com/wq-cluster/wqd/internal/spool"
	"github.com/wq-cluster/wqd/internal/users"
	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
)

// Queue is the scheduler's state authority: cluster, users, spool, and
// the job list itself, all mutated together under one lock.
type Queue struct {
	mu       sync.Mutex
	cluster  *cluster.Cluster
	users    *users.Registry
	spool    *spool.Spool
	liveness liveness.ProcessLiveness
	jobs     []*job.Job
}

// New builds a queue over an already-loaded cluster and user registry.
func New(c *cluster.Cluster, u *users.Registry, sp *spool.Spool, lv liveness.ProcessLiveness) *Queue {
	return &Queue{cluster: c, users: u, spool: sp, liveness: lv}
}

// Cluster exposes the underlying cluster for its immutable properties
// (Filename, the node inventory shape) and for single-goroutine test
// code that calls it synchronously between Queue method calls. Node.Used
// and Node.Online are mutated under q.mu; a concurrent caller (the admin
// HTTP goroutine, a second in-flight dispatch) must go through
// ClusterStatus and SetOnline instead of reading or writing those fields
// directly, or it races the dispatch/refresh goroutines that hold q.mu.
func (q *Queue) Cluster() *cluster.Cluster { return q.cluster }

// ClusterStatus returns a node snapshot taken under q.mu, safe to call
// from the admin HTTP goroutine concurrently with dispatch and refresh.
func (q *Queue) ClusterStatus() []cluster.NodeStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cluster.Status()
}

// SetOnline toggles a host's admission flag under q.mu, serializing it
// against Reserve/Unreserve and against match's reads of Node.Online.
func (q *Queue) SetOnline(hostname string, online bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cluster.SetOnline(hostname, online)
}

// Users exposes the underlying user registry for read-only snapshots.
func (q *Queue) Users() *users.Registry { return q.users }

// Bootstrap replays the spool directory, reserving the cluster and
// incrementing user counters for every job that was running at the last
// clean or unclean shutdown, and re-enqueuing every waiting job exactly
// as it was left. Corrupt files are skipped via onSkip, never fatal.
func (q *Queue) Bootstrap(onSkip func(filename string, err error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	replayed, err := q.spool.Replay(onSkip)
	if err != nil {
		return err
	}

	for _, r := range replayed {
		j := r.Job
		if j.Status == job.StatusRun {
			if err := q.cluster.Reserve(j.Hosts); err != nil {
				return err
			}
			q.users.Increment(j.User, j.Hosts)
		}
		q.jobs = append(q.jobs, j)
	}
	return nil
}

// SubmitResult is the outcome dispatch needs to build a "sub" response.
type SubmitResult struct {
	Job        *job.Job
	Nevermatch bool
}

// Submit validates req, constructs a job, and matches it once against
// current cluster state. A non-block job is matched against the groups
// blocked by currently waiting block-priority jobs; a block job is
// matched with an empty blocked-group set. A nevermatch verdict never
// enters the queue.
func (q *Queue) Submit(pid int, submitHost, user, commandline string, req job.Requirement) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeValidation, "invalid requirement", err)
	}
	if pid <= 0 {
		return nil, wqerrors.NewValidationError("'pid' field is required")
	}
	if user == "" {
		return nil, wqerrors.NewValidationError("'user' field is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j := job.New(pid, submitHost, user, commandline, req)

	var bgroups map[string]bool
	if req.Priority != job.PriorityBlock {
		bgroups = q.computeBlockedGroups()
	}

	verdict := match.Match(q.cluster, req, bgroups)
	if !verdict.PMatch {
		if err := j.SetStatus(job.StatusNevermatch); err != nil {
			return nil, err
		}
		j.Reason = verdict.Reason
		return &SubmitResult{Job: j, Nevermatch: true}, nil
	}

	if verdict.Match && q.users.Check(user, req.N) {
		if err := q.promote(j, verdict.Hosts); err != nil {
			return nil, err
		}
	} else {
		j.Reason = verdict.Reason
		if verdict.Match {
			j.Reason = "user limits exceeded"
		}
		if err := q.spool.Write(j); err != nil {
			return nil, err
		}
	}

	q.jobs = append(q.jobs, j)
	return &SubmitResult{Job: j}, nil
}

// promote reserves hosts, increments the user's counters, flips status
// to run, and rewrites the spool file. Caller must hold q.mu.
func (q *Queue) promote(j *job.Job, hosts []string) error {
	if err := q.cluster.Reserve(hosts); err != nil {
		return err
	}
	q.users.Increment(j.User, hosts)
	j.Hosts = hosts
	j.Reason = ""

	if j.Status == job.StatusWait {
		if err := j.SetStatus(job.StatusReady); err != nil {
			return err
		}
	}
	if err := j.SetStatus(job.StatusRun); err != nil {
		return err
	}
	return q.spool.Write(j)
}

// release reverses promote: unreserves hosts and decrements the user's
// counters. Caller must hold q.mu. A returned error is always an
// invariant violation (ErrorCodeInvariant) that callers must treat as
// fatal, per §7.
func (q *Queue) release(j *job.Job) error {
	if err := q.cluster.Unreserve(j.Hosts); err != nil {
		return err
	}
	q.users.Decrement(j.User, j.Hosts)
	return nil
}

// RefreshResult summarizes one sweep for metrics and logging.
type RefreshResult struct {
	Reaped   int
	Promoted int
}

// Refresh is the heartbeat described in §4.3: reap dead submitters, then
// attempt to promote waiting jobs to run, strictly in block -> high ->
// med -> low priority order.
func (q *Queue) Refresh() (RefreshResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result RefreshResult
	var removed []*job.Job
	var bgroups map[string]bool

	for _, prio := range job.PriorityOrder {
		if prio != job.PriorityBlock {
			bgroups = q.computeBlockedGroups()
		}

		for _, j := range q.jobsWithPriority(prio) {
			if !q.liveness.Alive(j.Pid) {
				if j.Status == job.StatusRun {
					if err := q.release(j); err != nil {
						return result, err
					}
				}
				_ = q.spool.Remove(j.Pid)
				if err := j.SetStatus(job.StatusDone); err != nil {
					return result, err
				}
				removed = append(removed, j)
				result.Reaped++
				continue
			}

			if j.Status == job.StatusRun {
				continue
			}

			if !q.users.Check(j.User, j.Require.N) {
				j.Reason = "user limits exceeded"
				continue
			}

			verdict := match.Match(q.cluster, j.Require, bgroups)
			if !verdict.PMatch {
				// A cluster topology change (e.g. a host taken
				// permanently offline) can turn a previously-waiting
				// job impossible; this mirrors the submit-time check.
				if err := j.SetStatus(job.StatusNevermatch); err != nil {
					return result, err
				}
				j.Reason = verdict.Reason
				_ = q.spool.Remove(j.Pid)
				removed = append(removed, j)
				continue
			}
			if !verdict.Match {
				j.Reason = verdict.Reason
				continue
			}

			if err := q.promote(j, verdict.Hosts); err != nil {
				return result, err
			}
			result.Promoted++
		}
	}

	q.removeJobs(removed)
	return result, nil
}

// computeBlockedGroups gathers the group filters of every still-waiting
// block-priority job, per §4.3.
func (q *Queue) computeBlockedGroups() map[string]bool {
	var blockGroups [][]string
	for _, j := range q.jobs {
		if j.Require.Priority == job.PriorityBlock && j.Status == job.StatusWait {
			blockGroups = append(blockGroups, j.Require.Group)
		}
	}
	return match.BlockedGroups(q.cluster, blockGroups)
}

// jobsWithPriority returns jobs of the given priority in insertion
// order, as a stable snapshot safe to range over while q.jobs itself is
// later rewritten.
func (q *Queue) jobsWithPriority(p job.Priority) []*job.Job {
	var out []*job.Job
	for _, j := range q.jobs {
		if j.Require.Priority == p {
			out = append(out, j)
		}
	}
	return out
}

func (q *Queue) removeJobs(removed []*job.Job) {
	if len(removed) == 0 {
		return
	}
	doomed := make(map[int]bool, len(removed))
	for _, j := range removed {
		doomed[j.Pid] = true
	}
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if !doomed[j.Pid] {
			kept = append(kept, j)
		}
	}
	q.jobs = kept
}

// Notify handles the "notify" verb: "done" unspools, releases, removes,
// and refreshes; "refresh" only refreshes.
func (q *Queue) Notify(pid int, notification string) (RefreshResult, error) {
	switch notification {
	case "done":
		q.mu.Lock()
		var releaseErr error
		for _, j := range q.jobs {
			if j.Pid != pid {
				continue
			}
			if j.Status == job.StatusRun {
				releaseErr = q.release(j)
			}
			_ = q.spool.Remove(pid)
			_ = j.SetStatus(job.StatusDone)
			break
		}
		q.removeJobs(q.doneJobsLocked())
		q.mu.Unlock()
		if releaseErr != nil {
			return RefreshResult{}, releaseErr
		}
		return q.Refresh()
	case "refresh":
		return q.Refresh()
	default:
		return RefreshResult{}, wqerrors.NewValidationError("unknown notification " + notification)
	}
}

// doneJobsLocked returns every job already transitioned to done. Caller
// must hold q.mu.
func (q *Queue) doneJobsLocked() []*job.Job {
	var out []*job.Job
	for _, j := range q.jobs {
		if j.Status == job.StatusDone {
			out = append(out, j)
		}
	}
	return out
}

// Remove implements the "rm" verb. It does not itself release resources
// for still-running pids; the client is expected to signal-kill the
// returned pids, and the next refresh reclaims them once gone (§4.6).
func (q *Queue) Remove(user string, pid int, all bool) ([]int, error) {
	if _, err := q.Refresh(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var toKill []int
	for _, j := range q.jobs {
		if j.User != user && user != "root" {
			continue
		}
		if all {
			toKill = append(toKill, j.Pid)
			continue
		}
		if j.Pid == pid {
			toKill = append(toKill, j.Pid)
		}
	}
	return toKill, nil
}

// Jobs returns a snapshot of every queued job, insertion order.
func (q *Queue) Jobs() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*job.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

// JobByPid returns the job with the given pid, if any.
func (q *Queue) JobByPid(pid int) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.Pid == pid {
			return j, true
		}
	}
	return nil, false
}
