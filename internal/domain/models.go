package domain

import (
	"encoding/json"
	"strconv"
)

// Deployment groups the instances planned from one manifest
type Deployment struct {
	ID        int64  `db:"id"`         // Unique identifier
	Name      string `db:"name"`       // Deployment name from the manifest
	CreatedAt string `db:"created_at"` // When the deployment was first seen
}

// Instance is the persisted record of a previously deployed instance
type Instance struct {
	ID               int64  `db:"id"`                // Unique identifier
	DeploymentID     int64  `db:"deployment_id"`     // Foreign key to Deployment
	Job              string `db:"job"`               // Instance group name
	Index            int    `db:"idx"`               // Index within the instance group
	UUID             string `db:"uuid"`              // Stable instance identity
	AvailabilityZone string `db:"availability_zone"` // Empty when AZs are not in use
	VMType           string `db:"vm_type"`           // VM type applied on last placement
	VMExtensionsJSON string `db:"vm_extensions"`     // JSON array of VM extension names
	Ignore           bool   `db:"ignored"`           // Operator asked to leave this instance alone
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`

	PersistentDisks []PersistentDisk `db:"-"`
	IPAddresses     []IPAddress      `db:"-"`
}

// Name renders the instance the way operators refer to it.
func (i *Instance) Name() string {
	return i.Job + "/" + strconv.Itoa(i.Index)
}

// HasPersistentDisk reports whether any disk, active or not, is attached.
func (i *Instance) HasPersistentDisk() bool {
	return len(i.PersistentDisks) > 0
}

// VMExtensions decodes the stored extension list.
func (i *Instance) VMExtensions() []string {
	if i.VMExtensionsJSON == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(i.VMExtensionsJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetVMExtensions encodes the extension list for storage.
func (i *Instance) SetVMExtensions(exts []string) {
	if len(exts) == 0 {
		i.VMExtensionsJSON = "[]"
		return
	}
	b, _ := json.Marshal(exts)
	i.VMExtensionsJSON = string(b)
}

// PersistentDisk is a disk attached to an instance
type PersistentDisk struct {
	ID         int64  `db:"id"`          // Unique identifier
	InstanceID int64  `db:"instance_id"` // Foreign key to Instance
	DiskCID    string `db:"disk_cid"`    // Cloud identifier of the disk
	Size       int    `db:"size"`        // Size in MiB
	Active     bool   `db:"active"`
}

// IPAddress is one persisted reservation row
type IPAddress struct {
	ID           int64  `db:"id"`             // Unique identifier
	Address      string `db:"address_str"`    // CIDR text, e.g. 192.168.1.5/32 or 192.168.1.4/31
	NetworkName  string `db:"network_name"`   // Network the address is bound on
	Static       bool   `db:"static"`         // Came from a static pool
	InstanceID   *int64 `db:"instance_id"`    // Owning instance, nil when unowned
	OrphanedVMID *int64 `db:"orphaned_vm_id"` // Owning orphaned VM, nil unless orphaned
	TaskID       string `db:"task_id"`        // Task that last wrote the row
	CreatedAt    string `db:"created_at"`
}

// OrphanedVM keeps the network identity of a VM whose instance went away
type OrphanedVM struct {
	ID               int64  `db:"id"`                // Unique identifier
	CID              string `db:"cid"`               // Cloud identifier of the VM
	DeploymentName   string `db:"deployment_name"`   // Deployment the VM belonged to
	InstanceName     string `db:"instance_name"`     // job/index of the former instance
	AvailabilityZone string `db:"availability_zone"` // AZ the VM lived in
	OrphanedAt       string `db:"orphaned_at"`
}
