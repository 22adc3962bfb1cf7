package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of 8-byte entries in a page table page.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// MaxVirtualAddr is the first address past the lower canonical half
	// of the 48-bit address space reachable through a 4-level table.
	MaxVirtualAddr = uintptr(1 << 47)
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. For the amd64 architecture each PageLevel uses 9 bits which amounts to
	// 512 entries for each page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible
)

const (
	// FlagsUser is the permission set of a private, writable process page.
	FlagsUser = FlagPresent | FlagRW | FlagUserAccessible

	// FlagsKernel is the permission set of kernel-only memory.
	FlagsKernel = FlagPresent | FlagRW

	// flagsTable is installed on every intermediate entry; leaf entries
	// alone decide the effective permissions.
	flagsTable = FlagPresent | FlagRW | FlagUserAccessible
)
