// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"encoding/json"
	"strings"

	"github.com/wq-cluster/wqd/internal/job"
)

// stringOrList decodes a JSON value that is either a bare string or a
// list of strings into []string, matching the original protocol's
// permissive shape for group/not_group (original_source's
// Job._get_req_list: "can either send 'v1,v2,v3' ... or an actual
// list").
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*s = nil
		return nil
	}
	*s = stringOrList(strings.Split(single, ","))
	return nil
}

// wireRequirement mirrors job.Requirement but accepts the wire
// protocol's permissive group/not_group shape before normalization.
type wireRequirement struct {
	Mode     job.Mode     `json:"mode"`
	N        int          `json:"N"`
	Threads  int          `json:"threads"`
	MinMem   float64      `json:"min_mem"`
	MinCores int          `json:"min_cores"`
	Group    stringOrList `json:"group"`
	NotGroup stringOrList `json:"not_group"`
	Host     string       `json:"host"`
	Priority job.Priority `json:"priority"`
	JobName  string       `json:"job_name"`
}

// DecodeRequirement decodes a "require" field into a job.Requirement
// with defaults applied.
func DecodeRequirement(data json.RawMessage) (job.Requirement, error) {
	var wr wireRequirement
	if err := json.Unmarshal(data, &wr); err != nil {
		return job.Requirement{}, err
	}
	req := job.Requirement{
		Mode:     wr.Mode,
		N:        wr.N,
		Threads:  wr.Threads,
		MinMem:   wr.MinMem,
		MinCores: wr.MinCores,
		Group:    []string(wr.Group),
		NotGroup: []string(wr.NotGroup),
		Host:     wr.Host,
		Priority: wr.Priority,
		JobName:  wr.JobName,
	}
	req.Defaults()
	return req, nil
}
