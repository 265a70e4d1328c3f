// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package match implements the five resource-matching algorithms. Every
// algorithm is a pure function over a cluster snapshot and a requirement;
// none of them mutate cluster state. The queue package commits a verdict
// by calling cluster.Reserve only after a match algorithm returns match=true.
package match

import (
	"fmt"

	"github.com/wq-cluster/wqd/internal/cluster"
	"github.com/wq-cluster/wqd/internal/job"
)

// Reason strings. §4.2 requires these three categories to be
// distinguishable by callers inspecting the reason text.
const (
	ReasonNotEnoughTotal = "not enough total capacity"
	ReasonNotEnoughFree  = "not enough free capacity"
	ReasonBlocked        = "waiting for a blocking job"
)

// Verdict is the (pmatch, match, hosts, reason) tuple every algorithm
// returns.
type Verdict struct {
	PMatch bool
	Match  bool
	Hosts  []string
	Reason string
}

// Match dispatches req.Mode to the corresponding algorithm. bgroups is the
// set of group tags currently blocked by a waiting block-priority job; it
// is empty for block-priority jobs themselves.
func Match(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	switch req.Mode {
	case job.ModeByCore:
		return byCore(c, req, bgroups)
	case job.ModeByCore1:
		return byCore1(c, req, bgroups)
	case job.ModeByNode:
		return byNode(c, req, bgroups)
	case job.ModeByHost:
		return byHost(c, req, bgroups)
	case job.ModeByGroup:
		return byGroup(c, req, bgroups)
	default:
		return Verdict{PMatch: false, Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
}

func passesGroupFilters(n *cluster.Node, req job.Requirement) bool {
	return n.Online && n.HasAnyGroup(req.Group) && n.HasNoneOfGroups(req.NotGroup) && n.Mem >= req.MinMem
}

func blocked(n *cluster.Node, bgroups map[string]bool) bool {
	if len(bgroups) == 0 {
		return false
	}
	for _, g := range n.Groups {
		if bgroups[g] {
			return true
		}
	}
	return false
}

func freeCores(n *cluster.Node, bgroups map[string]bool) int {
	if blocked(n, bgroups) {
		return 0
	}
	return n.FreeCores()
}

// floorToMultiple rounds v down to the nearest multiple of m (m > 0).
func floorToMultiple(v, m int) int {
	return (v / m) * m
}

// byCore collects cores across as many hosts as necessary, in ascending
// hostname order, filling each host up to a multiple of threads before
// spilling to the next.
func byCore(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	th := req.Threads
	if req.N%th != 0 {
		return Verdict{PMatch: false, Reason: "N is not a multiple of threads"}
	}

	var filtered []*cluster.Node
	for _, n := range c.Nodes() {
		if passesGroupFilters(n, req) {
			filtered = append(filtered, n)
		}
	}

	pmatch := false
	np := req.N
	for _, n := range filtered {
		np -= floorToMultiple(n.Cores, th)
		if np <= 0 {
			pmatch = true
		}
	}
	if !pmatch {
		return Verdict{PMatch: false, Reason: ReasonNotEnoughTotal}
	}

	allocate := func(bg map[string]bool) []string {
		var hosts []string
		remaining := req.N
		for _, n := range filtered {
			if remaining == 0 {
				break
			}
			take := floorToMultiple(freeCores(n, bg), th)
			if take > remaining {
				take = remaining
			}
			for i := 0; i < take; i++ {
				hosts = append(hosts, n.Hostname)
			}
			remaining -= take
		}
		return hosts
	}

	hosts := allocate(bgroups)
	if len(hosts) == req.N {
		return Verdict{PMatch: true, Match: true, Hosts: hosts}
	}

	if len(bgroups) > 0 && len(allocate(nil)) == req.N {
		return Verdict{PMatch: true, Match: false, Reason: ReasonBlocked}
	}
	return Verdict{PMatch: true, Match: false, Reason: ReasonNotEnoughFree}
}

// byCore1 is like byCore but the whole grant must land on a single host.
func byCore1(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	var filtered []*cluster.Node
	for _, n := range c.Nodes() {
		if passesGroupFilters(n, req) {
			filtered = append(filtered, n)
		}
	}

	pmatch := false
	for _, n := range filtered {
		if n.Cores >= req.N {
			pmatch = true
			break
		}
	}
	if !pmatch {
		return Verdict{PMatch: false, Reason: ReasonNotEnoughTotal}
	}

	findHost := func(bg map[string]bool) string {
		for _, n := range filtered {
			if freeCores(n, bg) >= req.N {
				return n.Hostname
			}
		}
		return ""
	}

	if h := findHost(bgroups); h != "" {
		hosts := make([]string, req.N)
		for i := range hosts {
			hosts[i] = h
		}
		return Verdict{PMatch: true, Match: true, Hosts: hosts}
	}

	if len(bgroups) > 0 && findHost(nil) != "" {
		return Verdict{PMatch: true, Match: false, Reason: ReasonBlocked}
	}
	return Verdict{PMatch: true, Match: false, Reason: ReasonNotEnoughFree}
}

// byNode requests N whole, strictly idle nodes.
func byNode(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	var filtered []*cluster.Node
	for _, n := range c.Nodes() {
		if n.Cores < req.MinCores {
			continue
		}
		if passesGroupFilters(n, req) {
			filtered = append(filtered, n)
		}
	}

	if len(filtered) < req.N {
		return Verdict{PMatch: false, Reason: ReasonNotEnoughTotal}
	}

	allocate := func(bg map[string]bool) []string {
		var hosts []string
		remaining := req.N
		for _, n := range filtered {
			if remaining == 0 {
				break
			}
			if !n.Idle() || blocked(n, bg) {
				continue
			}
			for i := 0; i < n.Cores; i++ {
				hosts = append(hosts, n.Hostname)
			}
			remaining--
		}
		return hosts
	}

	hosts := allocate(bgroups)
	if countNodes(hosts) == req.N {
		return Verdict{PMatch: true, Match: true, Hosts: hosts}
	}

	if len(bgroups) > 0 && countNodes(allocate(nil)) == req.N {
		return Verdict{PMatch: true, Match: false, Reason: ReasonBlocked}
	}
	return Verdict{PMatch: true, Match: false, Reason: ReasonNotEnoughFree}
}

func countNodes(hosts []string) int {
	seen := make(map[string]int)
	for _, h := range hosts {
		seen[h]++
	}
	return len(seen)
}

// byHost targets exactly one named host.
func byHost(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	if req.Host == "" {
		return Verdict{PMatch: false, Reason: "'host' field not in requirement"}
	}
	n := c.Node(req.Host)
	if n == nil {
		return Verdict{PMatch: false, Reason: fmt.Sprintf("host %q does not exist", req.Host)}
	}
	if !n.Online {
		return Verdict{PMatch: false, Reason: fmt.Sprintf("host %q is offline", req.Host)}
	}
	if n.Cores < req.N {
		return Verdict{PMatch: false, Reason: "host cores too few"}
	}

	if freeCores(n, bgroups) >= req.N {
		hosts := make([]string, req.N)
		for i := range hosts {
			hosts[i] = n.Hostname
		}
		return Verdict{PMatch: true, Match: true, Hosts: hosts}
	}

	if blocked(n, bgroups) && n.FreeCores() >= req.N {
		return Verdict{PMatch: true, Match: false, Reason: ReasonBlocked}
	}
	return Verdict{PMatch: true, Match: false, Reason: ReasonNotEnoughFree}
}

// byGroup demands every host carrying the single requested tag be
// entirely free.
func byGroup(c *cluster.Cluster, req job.Requirement, bgroups map[string]bool) Verdict {
	if len(req.Group) != 1 || req.Group[0] == "" {
		return Verdict{PMatch: false, Reason: "need to specify exactly one group"}
	}
	tag := req.Group[0]

	var qualifying []*cluster.Node
	for _, n := range c.Nodes() {
		if n.Online && n.HasAnyGroup([]string{tag}) {
			qualifying = append(qualifying, n)
		}
	}
	if len(qualifying) == 0 {
		return Verdict{PMatch: false, Reason: fmt.Sprintf("not a single host in group %q", tag)}
	}

	allIdle := func(bg map[string]bool) ([]string, bool) {
		var hosts []string
		for _, n := range qualifying {
			if !n.Idle() || blocked(n, bg) {
				return nil, false
			}
			for i := 0; i < n.Cores; i++ {
				hosts = append(hosts, n.Hostname)
			}
		}
		return hosts, true
	}

	if hosts, ok := allIdle(bgroups); ok {
		return Verdict{PMatch: true, Match: true, Hosts: hosts}
	}

	if len(bgroups) > 0 {
		if _, ok := allIdle(nil); ok {
			return Verdict{PMatch: true, Match: false, Reason: ReasonBlocked}
		}
	}
	return Verdict{PMatch: true, Match: false, Reason: ReasonNotEnoughFree}
}

// BlockedGroups computes the set of group tags a waiting block-priority
// job freezes for everyone else, per §4.3: a blocking job with no group
// filter blocks every group in the cluster; otherwise the union of its
// requested groups is blocked.
func BlockedGroups(c *cluster.Cluster, blockJobGroups [][]string) map[string]bool {
	bgroups := make(map[string]bool)
	for _, groups := range blockJobGroups {
		if len(groups) == 0 {
			for _, n := range c.Nodes() {
				for _, g := range n.Groups {
					bgroups[g] = true
				}
			}
			continue
		}
		for _, g := range groups {
			bgroups[g] = true
		}
	}
	return bgroups
}
