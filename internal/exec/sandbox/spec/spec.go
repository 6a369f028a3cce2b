// Package spec defines resource limits applied to sandboxed processes.
package spec

// ResourceLimit describes limits enforced on a child process.
// Zero means unlimited.
type ResourceLimit struct {
	CPUTimeMs int64 `yaml:"cpuTimeMs" json:"cpuTimeMs"`
	// MemoryMB caps resident memory; enforced by sampling.
	MemoryMB int64 `yaml:"memoryMB" json:"memoryMB"`
	// AddressSpaceMB caps virtual memory through RLIMIT_AS (sandbox helper only).
	AddressSpaceMB int64 `yaml:"addressSpaceMB" json:"addressSpaceMB"`
	StackMB        int64 `yaml:"stackMB" json:"stackMB"`
	OutputMB       int64 `yaml:"outputMB" json:"outputMB"`
	PIDs           int64 `yaml:"pids" json:"pids"`
}

// Merge returns base with every non-zero field of override applied.
func (base ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	out := base
	if override.CPUTimeMs > 0 {
		out.CPUTimeMs = override.CPUTimeMs
	}
	if override.MemoryMB > 0 {
		out.MemoryMB = override.MemoryMB
	}
	if override.AddressSpaceMB > 0 {
		out.AddressSpaceMB = override.AddressSpaceMB
	}
	if override.StackMB > 0 {
		out.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		out.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		out.PIDs = override.PIDs
	}
	return out
}
