// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package users tracks per-user running-job and held-core counters
// against configurable ceilings, persisting the ceilings (but not the
// live counters, which are rebuilt by spool replay) to a YAML file in
// the spool directory.
package users

import (
	"os"
	"sort"
	"sync"

	wqerrors "github.com/wq-cluster/wqd/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Limits ceilings a user's usage. A zero or negative value means
// unlimited, per spec.md §3 ("absent/negative mean no limit").
type Limits struct {
	Njobs  int `yaml:"njobs"`
	Ncores int `yaml:"ncores"`
}

// hasJobLimit reports whether Njobs is an enforced ceiling.
func (l Limits) hasJobLimit() bool { return l.Njobs > 0 }

// hasCoreLimit reports whether Ncores is an enforced ceiling.
func (l Limits) hasCoreLimit() bool { return l.Ncores > 0 }

// User is one tracked account: its live counters and its limits.
type User struct {
	Name   string `yaml:"-"`
	Njobs  int    `yaml:"-"`
	Ncores int    `yaml:"-"`
	Limits Limits `yaml:"limits"`
}

// persistedUser is the on-disk shape: counters are never persisted,
// only the configured limits, matching §4.4 ("counters are derived by
// replay").
type persistedUser struct {
	User   string `yaml:"user"`
	Limits Limits `yaml:"limits"`
}

type persistedFile struct {
	Users map[string]persistedUser `yaml:"users"`
}

// Registry is the in-memory user table, persisted to path on every
// limit change.
type Registry struct {
	mu    sync.Mutex
	path  string
	users map[string]*User
}

// Action selects whether SetLimits assigns or clears a user's limits.
type Action string

const (
	ActionSet   Action = "set"
	ActionClear Action = "clear"
)

// NewRegistry creates an empty registry that will persist to path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, users: make(map[string]*User)}
}

// Load reads the limits file at path if it exists; a missing file is not
// an error (a fresh spool directory has none yet).
func Load(path string) (*Registry, error) {
	r := NewRegistry(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeIO, "reading users file", err)
	}

	var pf persistedFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, wqerrors.Wrap(wqerrors.ErrorCodeMalformed, "parsing users file", err)
	}
	for name, pu := range pf.Users {
		r.users[name] = &User{Name: name, Limits: pu.Limits}
	}
	return r, nil
}

func (r *Registry) getOrCreate(name string) *User {
	u, ok := r.users[name]
	if !ok {
		u = &User{Name: name}
		r.users[name] = u
	}
	return u
}

// Increment adds one running job and len(hosts) cores to user's counters.
// Used both on submit-to-run and on spool replay at startup.
func (r *Registry) Increment(user string, hosts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.getOrCreate(user)
	u.Njobs++
	u.Ncores += len(hosts)
}

// Decrement removes one running job and len(hosts) cores, clamping at
// zero so a reaping race never drives a counter negative.
func (r *Registry) Decrement(user string, hosts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.getOrCreate(user)
	u.Njobs--
	if u.Njobs < 0 {
		u.Njobs = 0
	}
	u.Ncores -= len(hosts)
	if u.Ncores < 0 {
		u.Ncores = 0
	}
}

// Check reports whether user may take on one more job with the given
// number of additional cores without exceeding its limits.
func (r *Registry) Check(user string, additionalCores int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[user]
	if !ok {
		return true
	}
	if u.Limits.hasJobLimit() && u.Njobs+1 > u.Limits.Njobs {
		return false
	}
	if u.Limits.hasCoreLimit() && u.Ncores+additionalCores > u.Limits.Ncores {
		return false
	}
	return true
}

// SetLimits sets or clears user's limits and persists the registry.
func (r *Registry) SetLimits(user string, limits Limits, action Action) error {
	r.mu.Lock()
	u := r.getOrCreate(user)
	switch action {
	case ActionSet:
		u.Limits = limits
	case ActionClear:
		u.Limits = Limits{}
	default:
		r.mu.Unlock()
		return wqerrors.NewValidationError("unknown limit action " + string(action))
	}
	r.mu.Unlock()

	return r.persist()
}

// Get returns a copy of the named user's current record.
func (r *Registry) Get(user string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[user]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// All returns every tracked user, sorted by name.
func (r *Registry) All() []User {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]User, len(names))
	for i, name := range names {
		out[i] = *r.users[name]
	}
	return out
}

func (r *Registry) persist() error {
	r.mu.Lock()
	pf := persistedFile{Users: make(map[string]persistedUser, len(r.users))}
	for name, u := range r.users {
		pf.Users[name] = persistedUser{User: name, Limits: u.Limits}
	}
	r.mu.Unlock()

	data, err := yaml.Marshal(pf)
	if err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeIO, "marshaling users file", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return wqerrors.Wrap(wqerrors.ErrorCodeIO, "writing users file", err)
	}
	return nil
}
