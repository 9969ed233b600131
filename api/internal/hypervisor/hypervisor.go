// Package hypervisor is the outbound port to the machine-provisioning
// backend. The worker calls it after a request enters PROVISIONING; the
// result decides whether the stream gets a completed or failed event.
package hypervisor

import "context"

// ProvisionRequest carries the VM sizing captured on the creating event.
type ProvisionRequest struct {
	RequestID  string `json:"request_id"`
	TenantID   string `json:"tenant_id"`
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	CPUCores   int    `json:"cpu_cores"`
	MemoryMB   int    `json:"memory_mb"`
	DiskGB     int    `json:"disk_gb"`
}

type ProvisionResult struct {
	VMID      string `json:"vm_id"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
}

// Provisioner creates a machine for an approved request. An error return
// is terminal for the attempt; retry policy belongs to the task queue.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error)
}
