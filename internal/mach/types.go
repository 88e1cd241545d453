package mach

import (
	"fmt"
	"sort"
	"strings"
)

// Port is a Mach port name in the caller's IPC space. The name itself owns
// nothing; see SendRight and ReceiveRight.
type Port uint32

const (
	// PortNull is MACH_PORT_NULL.
	PortNull Port = 0
	// PortDead is MACH_PORT_DEAD, the name of a right whose port died.
	PortDead Port = 0xffffffff
)

// ExceptionType is exception_type_t.
type ExceptionType int32

const (
	ExcBadAccess      ExceptionType = 1
	ExcBadInstruction ExceptionType = 2
	ExcArithmetic     ExceptionType = 3
	ExcEmulation      ExceptionType = 4
	ExcSoftware       ExceptionType = 5
	ExcBreakpoint     ExceptionType = 6
	ExcSyscall        ExceptionType = 7
	ExcMachSyscall    ExceptionType = 8
	ExcRPCAlert       ExceptionType = 9
	ExcCrash          ExceptionType = 10
	ExcResource       ExceptionType = 11
	ExcGuard          ExceptionType = 12
	ExcCorpseNotify   ExceptionType = 13
)

// ExcTypesCount is EXC_TYPES_COUNT, the size of the kernel's per-target
// handler table and therefore the most records a single query returns.
const ExcTypesCount = 14

var exceptionNames = map[ExceptionType]string{
	ExcBadAccess:      "bad-access",
	ExcBadInstruction: "bad-instruction",
	ExcArithmetic:     "arithmetic",
	ExcEmulation:      "emulation",
	ExcSoftware:       "software",
	ExcBreakpoint:     "breakpoint",
	ExcSyscall:        "syscall",
	ExcMachSyscall:    "mach-syscall",
	ExcRPCAlert:       "rpc-alert",
	ExcCrash:          "crash",
	ExcResource:       "resource",
	ExcGuard:          "guard",
	ExcCorpseNotify:   "corpse-notify",
}

func (e ExceptionType) String() string {
	if name, ok := exceptionNames[e]; ok {
		return name
	}
	return fmt.Sprintf("exception(%d)", int32(e))
}

// Mask returns the single-category mask for e.
func (e ExceptionType) Mask() ExceptionMask {
	if e <= 0 || e >= ExcTypesCount {
		return 0
	}
	return ExceptionMask(1) << uint(e)
}

// ExceptionMask is exception_mask_t, a bitset of 1<<ExceptionType.
type ExceptionMask uint32

const (
	MaskBadAccess      = ExceptionMask(1 << ExcBadAccess)
	MaskBadInstruction = ExceptionMask(1 << ExcBadInstruction)
	MaskArithmetic     = ExceptionMask(1 << ExcArithmetic)
	MaskEmulation      = ExceptionMask(1 << ExcEmulation)
	MaskSoftware       = ExceptionMask(1 << ExcSoftware)
	MaskBreakpoint     = ExceptionMask(1 << ExcBreakpoint)
	MaskSyscall        = ExceptionMask(1 << ExcSyscall)
	MaskMachSyscall    = ExceptionMask(1 << ExcMachSyscall)
	MaskRPCAlert       = ExceptionMask(1 << ExcRPCAlert)
	MaskCrash          = ExceptionMask(1 << ExcCrash)
	MaskResource       = ExceptionMask(1 << ExcResource)
	MaskGuard          = ExceptionMask(1 << ExcGuard)
	MaskCorpseNotify   = ExceptionMask(1 << ExcCorpseNotify)

	// MaskAll is EXC_MASK_ALL as understood by current kernels. Crash and
	// corpse-notify are not part of it and must be requested explicitly.
	MaskAll = MaskBadAccess | MaskBadInstruction | MaskArithmetic |
		MaskEmulation | MaskSoftware | MaskBreakpoint | MaskSyscall |
		MaskMachSyscall | MaskRPCAlert | MaskResource | MaskGuard

	// MaskValid is every category bit the kernel accepts.
	MaskValid = MaskAll | MaskCrash | MaskCorpseNotify
)

// Types lists the exception types set in m, lowest first.
func (m ExceptionMask) Types() []ExceptionType {
	var out []ExceptionType
	for e := ExcBadAccess; e < ExcTypesCount; e++ {
		if m&e.Mask() != 0 {
			out = append(out, e)
		}
	}
	return out
}

// String renders m as comma-separated category names. Bits outside
// MaskValid are rendered in hex.
func (m ExceptionMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, e := range m.Types() {
		parts = append(parts, e.String())
	}
	if extra := m &^ MaskValid; extra != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(extra)))
	}
	return strings.Join(parts, ",")
}

// ParseMask parses a comma-separated list of category names. "all" expands
// to MaskAll; it does not include crash.
func ParseMask(s string) (ExceptionMask, error) {
	var m ExceptionMask
	for _, field := range strings.Split(s, ",") {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		if field == "all" {
			m |= MaskAll
			continue
		}
		e, ok := exceptionByName(field)
		if !ok {
			return 0, fmt.Errorf("unknown exception category %q (known: %s)", field, strings.Join(categoryNames(), ", "))
		}
		m |= e.Mask()
	}
	if m == 0 {
		return 0, fmt.Errorf("empty exception mask %q", s)
	}
	return m, nil
}

func exceptionByName(name string) (ExceptionType, bool) {
	for e, n := range exceptionNames {
		if n == name {
			return e, true
		}
	}
	return 0, false
}

func categoryNames() []string {
	names := make([]string, 0, len(exceptionNames)+1)
	for _, n := range exceptionNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return append(names, "all")
}

// Behavior is exception_behavior_t.
type Behavior int32

const (
	BehaviorDefault       Behavior = 1
	BehaviorState         Behavior = 2
	BehaviorStateIdentity Behavior = 3

	// MachExceptionCodes (MACH_EXCEPTION_CODES) requests 64-bit codes.
	MachExceptionCodes Behavior = -0x80000000
)

// Base strips the 64-bit code flag.
func (b Behavior) Base() Behavior { return b &^ MachExceptionCodes }

// HasMachCodes reports whether codes are delivered as 64-bit values.
func (b Behavior) HasMachCodes() bool { return b&MachExceptionCodes != 0 }

// IsStateCarrying reports whether b, ignoring the code width, is State or
// StateIdentity.
func (b Behavior) IsStateCarrying() bool {
	base := b.Base()
	return base == BehaviorState || base == BehaviorStateIdentity
}

// Valid reports whether the base behavior is one the kernel knows.
func (b Behavior) Valid() bool {
	switch b.Base() {
	case BehaviorDefault, BehaviorState, BehaviorStateIdentity:
		return true
	}
	return false
}

func (b Behavior) String() string {
	var name string
	switch b.Base() {
	case BehaviorDefault:
		name = "default"
	case BehaviorState:
		name = "state"
	case BehaviorStateIdentity:
		name = "state-identity"
	default:
		name = fmt.Sprintf("behavior(%d)", int32(b.Base()))
	}
	if b.HasMachCodes() {
		name += "|mach-codes"
	}
	return name
}

// ParseBehavior accepts "default", "state" or "state-identity", optionally
// suffixed with "|mach-codes".
func ParseBehavior(s string) (Behavior, error) {
	base, codes, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "|")
	var b Behavior
	switch base {
	case "default":
		b = BehaviorDefault
	case "state":
		b = BehaviorState
	case "state-identity", "state_identity":
		b = BehaviorStateIdentity
	default:
		return 0, fmt.Errorf("unknown exception behavior %q", s)
	}
	switch codes {
	case "":
	case "mach-codes":
		b |= MachExceptionCodes
	default:
		return 0, fmt.Errorf("unknown behavior flag %q", codes)
	}
	return b, nil
}

// Flavor is thread_state_flavor_t.
type Flavor int32

// FlavorFor returns the flavor the kernel expects alongside behavior:
// ThreadStateNone for Default, MachineThreadState otherwise.
func FlavorFor(b Behavior) Flavor {
	if b.IsStateCarrying() {
		return MachineThreadState
	}
	return ThreadStateNone
}
