// Package regnum maps between DWARF register numbers and platform
// register names, one mapping per supported machine.
package regnum

import (
	"debug/elf"
	"fmt"
)

// ToName returns the platform name of the DWARF register num for the
// given machine. Machines without a mapping get a generic name, unwind
// tables still print for them.
func ToName(machine elf.Machine, num uint64) string {
	switch machine {
	case elf.EM_X86_64:
		return AMD64ToName(num)
	case elf.EM_386:
		return I386ToName(int(num))
	case elf.EM_AARCH64:
		return ARM64ToName(num)
	case elf.EM_PPC64:
		return PPC64LEToName(num)
	case elf.EM_RISCV:
		return RISCV64ToName(num)
	case elf.Machine(258): // EM_LOONGARCH, absent from debug/elf before go1.19
		return LOONG64ToName(num)
	}
	return fmt.Sprintf("r%d", num)
}
