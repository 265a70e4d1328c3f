// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package server implements the TCP accept loop, verb dispatch table, and
// refresh tick described in §4.6/§5: one connection per request, a single
// logical dispatch goroutine serializing every mutation against
// internal/queue, and a restart-delay loop around the listener itself.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/wq-cluster/wqd/internal/job"
	"github.com/wq-cluster/wqd/internal/proto"
	"github.com/wq-cluster/wqd/internal/users"
)

// handler processes one decoded request and returns the response to
// encode back to the client. It never touches the network directly.
type handler func(s *Server, req *proto.Request) proto.Response

// verbs is the dispatch table named in §4.6. gethosts and get_hosts alias
// the same handler, as do users and user, matching the original client's
// two spellings.
var verbs = map[string]handler{
	"sub":       handleSub,
	"gethosts":  handleGetHosts,
	"get_hosts": handleGetHosts,
	"ls":        handleLs,
	"lsfull":    handleLsFull,
	"stat":      handleStat,
	"users":     handleUsers,
	"user":      handleUsers,
	"limit":     handleLimit,
	"rm":        handleRemove,
	"notify":    handleNotify,
	"node":      handleNode,
	"refresh":   handleRefresh,
	"ping":      handlePing,
}

// dispatch looks up req.Command in the verb table and invokes it,
// returning the original implementation's unknown-command fallback
// shape when no handler matches (original_source's server.py
// _process_unknown branch).
func (s *Server) dispatch(req *proto.Request) proto.Response {
	h, ok := verbs[req.Command]
	if !ok {
		return proto.Fail(fmt.Sprintf("unknown command %s", req.Command))
	}
	return h(s, req)
}

func handlePing(s *Server, req *proto.Request) proto.Response {
	return proto.WithPayload("PONG")
}

func handleSub(s *Server, req *proto.Request) proto.Response {
	var pid int
	if _, err := req.Get("pid", &pid); err != nil {
		return proto.Fail(err.Error())
	}
	var fromhost, user, commandline string
	if _, err := req.Get("fromhost", &fromhost); err != nil {
		return proto.Fail(err.Error())
	}
	if _, err := req.Get("user", &user); err != nil {
		return proto.Fail(err.Error())
	}
	if _, err := req.Get("commandline", &commandline); err != nil {
		return proto.Fail(err.Error())
	}

	var requirement job.Requirement
	var raw json.RawMessage
	present, err := req.Get("require", &raw)
	if err != nil {
		return proto.Fail(err.Error())
	}
	if present {
		requirement, err = proto.DecodeRequirement(raw)
		if err != nil {
			return proto.Fail(err.Error())
		}
	} else {
		requirement.Defaults()
	}

	result, err := s.queue.Submit(pid, fromhost, user, commandline, requirement)
	if err != nil {
		return s.failDispatch("sub", err)
	}

	if result.Nevermatch {
		return proto.Fail(result.Job.Reason)
	}
	return proto.WithPayload(result.Job)
}

func handleGetHosts(s *Server, req *proto.Request) proto.Response {
	var pid int
	if _, err := req.Get("pid", &pid); err != nil {
		return proto.Fail(err.Error())
	}
	j, ok := s.queue.JobByPid(pid)
	if !ok {
		return proto.Fail(fmt.Sprintf("no such job %d", pid))
	}
	return proto.WithPayload(j.Hosts)
}

// jobSummary is the payload for the "ls" verb: a terser view than the
// full job record, matching the original client's short listing.
type jobSummary struct {
	Pid    int        `json:"pid"`
	User   string     `json:"user"`
	Status job.Status `json:"status"`
	Mode   job.Mode   `json:"mode"`
	N      int        `json:"N"`
}

func summarize(j *job.Job) jobSummary {
	return jobSummary{Pid: j.Pid, User: j.User, Status: j.Status, Mode: j.Require.Mode, N: j.Require.N}
}

func handleLs(s *Server, req *proto.Request) proto.Response {
	jobs := s.queue.Jobs()
	out := make([]jobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = summarize(j)
	}
	return proto.WithPayload(out)
}

func handleLsFull(s *Server, req *proto.Request) proto.Response {
	return proto.WithPayload(s.queue.Jobs())
}

func handleStat(s *Server, req *proto.Request) proto.Response {
	return proto.WithPayload(s.queue.ClusterStatus())
}

func handleUsers(s *Server, req *proto.Request) proto.Response {
	return proto.WithPayload(s.queue.Users().All())
}

func handleLimit(s *Server, req *proto.Request) proto.Response {
	var user string
	if _, err := req.Get("user", &user); err != nil || user == "" {
		return proto.Fail("'user' field is required")
	}
	var action string
	if _, err := req.Get("action", &action); err != nil {
		return proto.Fail(err.Error())
	}
	if action == "" {
		action = string(users.ActionSet)
	}

	var limits users.Limits
	if _, err := req.Get("njobs", &limits.Njobs); err != nil {
		return proto.Fail(err.Error())
	}
	if _, err := req.Get("ncores", &limits.Ncores); err != nil {
		return proto.Fail(err.Error())
	}

	if err := s.queue.Users().SetLimits(user, limits, users.Action(action)); err != nil {
		return s.failDispatch("limit", err)
	}
	return proto.OK()
}

func handleRemove(s *Server, req *proto.Request) proto.Response {
	var user string
	if _, err := req.Get("user", &user); err != nil || user == "" {
		return proto.Fail("'user' field is required")
	}
	var pid int
	if _, err := req.Get("pid", &pid); err != nil {
		return proto.Fail(err.Error())
	}
	var all bool
	if _, err := req.Get("all", &all); err != nil {
		return proto.Fail(err.Error())
	}

	toKill, err := s.queue.Remove(user, pid, all)
	if err != nil {
		return s.failDispatch("rm", err)
	}
	return proto.WithPayload(toKill)
}

func handleNotify(s *Server, req *proto.Request) proto.Response {
	var pid int
	if _, err := req.Get("pid", &pid); err != nil {
		return proto.Fail(err.Error())
	}
	var notification string
	if _, err := req.Get("notification", &notification); err != nil {
		return proto.Fail(err.Error())
	}

	result, err := s.queue.Notify(pid, notification)
	if err != nil {
		return s.failDispatch("notify", err)
	}
	s.metrics.RecordRefresh(0, result.Reaped, result.Promoted)
	return proto.OK()
}

func handleNode(s *Server, req *proto.Request) proto.Response {
	var hostname string
	if _, err := req.Get("host", &hostname); err != nil || hostname == "" {
		return proto.Fail("'host' field is required")
	}
	var online bool
	if _, err := req.Get("online", &online); err != nil {
		return proto.Fail(err.Error())
	}

	if err := s.queue.SetOnline(hostname, online); err != nil {
		return proto.Fail(err.Error())
	}
	return proto.OK()
}

func handleRefresh(s *Server, req *proto.Request) proto.Response {
	result, err := s.queue.Refresh()
	if err != nil {
		return s.failDispatch("refresh", err)
	}
	s.metrics.RecordRefresh(0, result.Reaped, result.Promoted)
	return proto.OK()
}
