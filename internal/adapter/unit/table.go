// Package unit implements the storage-unit table: fixed-capacity slot
// allocation, GUID collision detection, refcounting, BTL addressing, and
// the process-death use-bitmap. Ported from sys/stgunit.c
// (SpdStorageUnitProvision / SpdStorageUnitUnprovision /
// SpdStorageUnitReferenceByBtl / SpdStorageUnitDereference), trading its
// spinlock for a mutex since nothing here runs at an elevated IRQL.
package unit

import (
	"fmt"
	"sync"

	"github.com/spd-project/go-spd/internal/adapter/scsi"
	"github.com/spd-project/go-spd/internal/ioq"
	"github.com/spd-project/go-spd/internal/spderr"
	"github.com/spd-project/go-spd/internal/wire"
)

// Capacity is the fixed upper bound on concurrently provisioned units,
// matching SPD_IOCTL_STORAGE_UNIT_CAPACITY. It doubles as the width of
// the process-death use-bitmap.
const Capacity = 16

// BTL packs bus/target/lun into a 24-bit address; bus and lun are always
// 0 here, so Slot encodes the target index.
func BTL(target uint8) uint32 { return uint32(target) << 8 }

// Target extracts the target (slot) index from a BTL. Bus/LUN must both
// be zero for a BTL to resolve to a slot.
func Target(btl uint32) (target uint8, ok bool) {
	bus := (btl >> 16) & 0xff
	lun := btl & 0xff
	if bus != 0 || lun != 0 {
		return 0, false
	}
	return uint8((btl >> 8) & 0xff), true
}

// Slot is one occupied entry in the unit table.
type Slot struct {
	RefCount    int32
	Params      wire.StorageUnitParams
	Serial      string
	OwnerPID    uint32
	TransactPID uint32
	Ioq         *ioq.Ioq
}

// Info returns the scsi package's read-only view of this slot.
func (s *Slot) Info() scsi.UnitInfo {
	return scsi.UnitInfo{Params: s.Params, Serial: s.Serial, OwnerPID: s.OwnerPID}
}

// Table is the process-wide (or, over the driver transport, kernel-wide)
// slot table. One Table backs one adapter.
type Table struct {
	mu    sync.Mutex
	slots [Capacity]*Slot
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// Provision validates params, rejects a GUID collision, and occupies the
// first free slot. It returns the new slot's BTL.
func (t *Table) Provision(params wire.StorageUnitParams, ownerPID uint32) (uint32, error) {
	if err := Validate(params); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	free := -1
	for i, s := range t.slots {
		if s == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.Params.GUID == params.GUID {
			return 0, spderr.New(spderr.CodeAlreadyExists, "unit.Provision", "GUID already provisioned")
		}
	}
	if free < 0 {
		return 0, spderr.New(spderr.CodeCannotMake, "unit.Provision", "unit table full")
	}

	t.slots[free] = &Slot{
		RefCount:    1,
		Params:      params,
		Serial:      scsi.FormatSerial(params.GUID),
		OwnerPID:    ownerPID,
		TransactPID: ownerPID,
		Ioq:         ioq.New(),
	}
	return BTL(uint8(free)), nil
}

// Unprovision removes the slot matching guid, requiring requesterPID to
// match the slot's owner. It clears the slot and releases the table lock,
// then stops the slot's Ioq (handing every pending/in-process SRB to
// fail) and defers the final free to Dereference once every outstanding
// reference drops.
func (t *Table) Unprovision(guid [16]byte, requesterPID uint32, fail func(op any)) error {
	t.mu.Lock()
	var slot *Slot
	idx := -1
	for i, s := range t.slots {
		if s != nil && s.Params.GUID == guid {
			slot, idx = s, i
			break
		}
	}
	if slot == nil {
		t.mu.Unlock()
		return spderr.New(spderr.CodeObjectNameNotFound, "unit.Unprovision", "no such unit")
	}
	if slot.OwnerPID != requesterPID {
		t.mu.Unlock()
		return spderr.New(spderr.CodeAccessDenied, "unit.Unprovision", "requester is not owner")
	}
	t.slots[idx] = nil
	t.mu.Unlock()

	slot.Ioq.Reset(true, fail)
	t.Dereference(slot)
	return nil
}

// ReferenceByBTL resolves btl to its slot and increments the refcount, or
// returns ObjectNameNotFound if the target index is unpopulated or the
// BTL does not address bus=0/lun=0.
func (t *Table) ReferenceByBTL(btl uint32) (*Slot, error) {
	target, ok := Target(btl)
	if !ok || int(target) >= Capacity {
		return nil, spderr.New(spderr.CodeObjectNameNotFound, "unit.ReferenceByBTL", "invalid btl")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slots[target]
	if slot == nil {
		return nil, spderr.New(spderr.CodeObjectNameNotFound, "unit.ReferenceByBTL", "no unit at btl")
	}
	slot.RefCount++
	return slot, nil
}

// Dereference drops one reference; the last release tears down the Ioq.
func (t *Table) Dereference(slot *Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dereferenceLocked(slot)
}

func (t *Table) dereferenceLocked(slot *Slot) {
	slot.RefCount--
	if slot.RefCount <= 0 {
		slot.Ioq.Reset(true, func(any) {})
	}
}

// SetTransactPID reassigns the process id allowed to call Transact for
// this unit (ioctl code 'i').
func (t *Table) SetTransactPID(btl uint32, requesterPID, newPID uint32) error {
	target, ok := Target(btl)
	if !ok {
		return spderr.New(spderr.CodeObjectNameNotFound, "unit.SetTransactPID", "invalid btl")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slots[target]
	if slot == nil {
		return spderr.New(spderr.CodeObjectNameNotFound, "unit.SetTransactPID", "no unit at btl")
	}
	if slot.OwnerPID != requesterPID {
		return spderr.New(spderr.CodeAccessDenied, "unit.SetTransactPID", "requester is not owner")
	}
	slot.TransactPID = newPID
	return nil
}

// List enumerates occupied slots' BTLs (ioctl code 'l').
func (t *Table) List() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint32
	for i, s := range t.slots {
		if s != nil {
			out = append(out, BTL(uint8(i)))
		}
	}
	return out
}

// UseBitmap returns a Capacity-bit mask: bit i set means
// slot i is occupied, and, when pidFilter is non-nil, owned by *pidFilter.
// Used by the process-death sweep.
func (t *Table) UseBitmap(pidFilter *uint32) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var mask uint16
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		if pidFilter != nil && s.OwnerPID != *pidFilter {
			continue
		}
		mask |= 1 << uint(i)
	}
	return mask
}

// SweepOwner unprovisions every slot owned by pid on process death:
// snapshot the filtered bitmap, release the lock, then act.
func (t *Table) SweepOwner(pid uint32, fail func(op any)) {
	mask := t.UseBitmap(&pid)
	for i := 0; i < Capacity; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		t.mu.Lock()
		slot := t.slots[i]
		if slot == nil || slot.OwnerPID != pid {
			t.mu.Unlock()
			continue
		}
		t.slots[i] = nil
		t.mu.Unlock()

		slot.Ioq.Reset(true, fail)
		t.Dereference(slot)
	}
}

// Validate checks a unit's parameters before it is provisioned.
func Validate(p wire.StorageUnitParams) error {
	if p.GUID == ([16]byte{}) {
		return spderr.New(spderr.CodeInvalidParameter, "unit.Validate", "GUID must be non-zero")
	}
	if p.BlockCount == 0 {
		return spderr.New(spderr.CodeInvalidParameter, "unit.Validate", "block-count must be > 0")
	}
	const minBlockLength = 16
	if p.BlockLength < minBlockLength {
		return spderr.New(spderr.CodeInvalidParameter, "unit.Validate",
			fmt.Sprintf("block-length must be >= %d", minBlockLength))
	}
	if p.DeviceType != 0 {
		return spderr.New(spderr.CodeInvalidParameter, "unit.Validate", "device-type must be 0")
	}
	if p.MaxTransferLength == 0 || p.MaxTransferLength%p.BlockLength != 0 {
		return spderr.New(spderr.CodeInvalidParameter, "unit.Validate",
			"max-transfer-length must be a positive multiple of block-length")
	}
	return nil
}
