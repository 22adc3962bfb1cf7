package proc

import (
	"weensyos/kernel"
	"weensyos/kernel/mm"
	"weensyos/kernel/mm/vmm"
)

// CopyToUser writes data to p's address space starting at va.
func (t *Table) CopyToUser(p *Process, va uintptr, data []byte) *kernel.Error {
	for len(data) > 0 {
		physAddr, err := p.PageTable.Translate(va)
		if err != nil {
			return err
		}

		n := min(uintptr(len(data)), mm.PageSize-vmm.PageOffset(va))
		copy(t.mem.Slice(physAddr, n), data[:n])
		data, va = data[n:], va+n
	}
	return nil
}

func (t *Table) zeroUser(p *Process, va, size uintptr) *kernel.Error {
	for size > 0 {
		physAddr, err := p.PageTable.Translate(va)
		if err != nil {
			return err
		}

		n := min(size, mm.PageSize-vmm.PageOffset(va))
		t.mem.Memset(physAddr, 0, n)
		size, va = size-n, va+n
	}
	return nil
}

// ReadUserString reads a NUL-terminated string of at most maxLen bytes from
// p's address space. Only user-accessible pages may be read.
func (t *Table) ReadUserString(p *Process, va uintptr, maxLen int) (string, *kernel.Error) {
	if p.PageTable == nil {
		return "", ErrNoPageTable
	}

	out := make([]byte, 0, 64)
	for len(out) < maxLen {
		physAddr, flags, ok := vmm.Resolve(t.mem, p.PageTable.Address(), va)
		if !ok || !flags.HasFlags(vmm.FlagUserAccessible) {
			return string(out), ErrInvalidAddress
		}

		b := t.mem.Slice(physAddr, 1)[0]
		if b == 0 {
			break
		}
		out = append(out, b)
		va++
	}
	return string(out), nil
}
