package partition

import (
	"github.com/autopeer-io/fwagent/internal/fwagent/core"
)

// View is a partition annotated with boot selection and image version.
type View struct {
	core.Partition

	Running bool   `json:"running"`
	Boot    bool   `json:"boot"`
	Version string `json:"version,omitempty"`
	Project string `json:"project,omitempty"`
}

// Views describes every partition of s.
func Views(s core.PartitionStore) []View {
	running, boot := s.Running().Label, s.Boot().Label

	parts := s.Partitions()
	out := make([]View, 0, len(parts))
	for _, p := range parts {
		v := View{Partition: p, Running: p.Label == running, Boot: p.Label == boot}
		if d, ok := s.Descriptor(p); ok {
			v.Version = d.Version
			v.Project = d.ProjectName
		}
		out = append(out, v)
	}
	return out
}
