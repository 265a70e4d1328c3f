// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
)

// Cluster is the hostname-keyed node inventory, built once from a
// description file and mutated only through Reserve, Unreserve, and
// SetOnline.
type Cluster struct {
	nodes    map[string]*Node
	filename string
}

// Load reads a cluster description file: one host per line,
// "hostname cores mem [group1,group2,...]". Blank lines are skipped.
func Load(filename string) (*Cluster, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeIO, "opening cluster file", err)
	}
	defer f.Close()

	c := &Cluster{nodes: make(map[string]*Node), filename: filename}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, wqerrors.New(wqerrors.ErrorCodeMalformed,
				fmt.Sprintf("%s:%d: expected at least 3 fields, got %d", filename, lineNo, len(fields)))
		}
		cores, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, wqerrors.Wrap(wqerrors.ErrorCodeMalformed,
				fmt.Sprintf("%s:%d: invalid cores", filename, lineNo), err)
		}
		mem, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, wqerrors.Wrap(wqerrors.ErrorCodeMalformed,
				fmt.Sprintf("%s:%d: invalid mem", filename, lineNo), err)
		}
		var groups []string
		if len(fields) >= 4 {
			groups = strings.Split(fields[3], ",")
		}
		c.nodes[fields[0]] = &Node{
			Hostname: fields[0],
			Cores:    cores,
			Mem:      mem,
			Groups:   groups,
			Online:   true,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeIO, "reading cluster file", err)
	}
	return c, nil
}

// Node returns the node by hostname, or nil if unknown.
func (c *Cluster) Node(hostname string) *Node {
	return c.nodes[hostname]
}

// Nodes returns every node, sorted ascending by hostname. Callers must
// not mutate Node fields outside Reserve/Unreserve/SetOnline.
func (c *Cluster) Nodes() []*Node {
	names := make([]string, 0, len(c.nodes))
	for name := range c.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Node, len(names))
	for i, name := range names {
		out[i] = c.nodes[name]
	}
	return out
}

// Reserve increments Used on each listed hostname once per occurrence.
// Overflowing a node's capacity is an invariant violation: it indicates
// a scheduler bug, not bad user input, and is reported as a fatal error
// code for the caller to act on.
func (c *Cluster) Reserve(hosts []string) error {
	for _, h := range hosts {
		n := c.nodes[h]
		if n == nil {
			return wqerrors.NewInvariantError(fmt.Sprintf("reserve: unknown host %q", h))
		}
		if n.Used+1 > n.Cores {
			return wqerrors.NewInvariantError(fmt.Sprintf("reserve: %s would exceed capacity (%d/%d)", h, n.Used+1, n.Cores))
		}
		n.Used++
	}
	return nil
}

// Unreserve decrements Used on each listed hostname once per occurrence.
// Dropping below zero is an invariant violation.
func (c *Cluster) Unreserve(hosts []string) error {
	for _, h := range hosts {
		n := c.nodes[h]
		if n == nil {
			return wqerrors.NewInvariantError(fmt.Sprintf("unreserve: unknown host %q", h))
		}
		if n.Used-1 < 0 {
			return wqerrors.NewInvariantError(fmt.Sprintf("unreserve: %s would go negative", h))
		}
		n.Used--
	}
	return nil
}

// SetOnline toggles a host's admission flag. Offline hosts are invisible
// to matching.
func (c *Cluster) SetOnline(hostname string, online bool) error {
	n := c.nodes[hostname]
	if n == nil {
		return wqerrors.NewValidationError(fmt.Sprintf("unknown host %q", hostname))
	}
	n.Online = online
	return nil
}

// NodeStatus is a deterministic, read-only snapshot of one node for the
// dispatcher's stat verb.
type NodeStatus struct {
	Hostname string
	Cores    int
	Used     int
	Mem      float64
	Groups   []string
	Online   bool
}

// Status returns a snapshot of every node, sorted by hostname.
func (c *Cluster) Status() []NodeStatus {
	nodes := c.Nodes()
	out := make([]NodeStatus, len(nodes))
	for i, n := range nodes {
		out[i] = NodeStatus{
			Hostname: n.Hostname,
			Cores:    n.Cores,
			Used:     n.Used,
			Mem:      n.Mem,
			Groups:   n.Groups,
			Online:   n.Online,
		}
	}
	return out
}

// Filename returns the description file the cluster was loaded from.
func (c *Cluster) Filename() string {
	return c.filename
}
