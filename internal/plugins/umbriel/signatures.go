package umbriel

import (
	"bytes"

	"github.com/aetherframe/aetherframe/internal/aether"
)

// signature is one byte pattern the sweep looks for.
type signature struct {
	ID          string
	Name        string
	Category    aether.Category
	Severity    aether.Severity
	Pattern     []byte
	Description string
	Confidence  float64
	Tags        []string
}

var antiDebugSignatures = []signature{
	{
		ID:          "AD001",
		Name:        "IsDebuggerPresent",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("IsDebuggerPresent"),
		Description: "Direct debugger detection via kernel32 API",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32", "direct"},
	},
	{
		ID:          "AD002",
		Name:        "CheckRemoteDebuggerPresent",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("CheckRemoteDebuggerPresent"),
		Description: "Remote debugger detection",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32", "remote"},
	},
	{
		ID:          "AD003",
		Name:        "NtQueryInformationProcess",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("NtQueryInformationProcess"),
		Description: "Low-level process query for debug flags",
		Confidence:  0.9,
		Tags:        []string{"windows", "ntdll", "native"},
	},
	{
		ID:          "AD004",
		Name:        "NtSetInformationThread",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("NtSetInformationThread"),
		Description: "Thread hiding from debugger (HideFromDebugger)",
		Confidence:  0.9,
		Tags:        []string{"windows", "ntdll", "thread"},
	},
	{
		ID:          "AD005",
		Name:        "OutputDebugString",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("OutputDebugStringA"),
		Description: "Debug string trap (checks for attached debugger)",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32"},
	},
	{
		ID:          "AD006",
		Name:        "DebugActiveProcess",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("DebugActiveProcess"),
		Description: "Self-debugging technique",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32", "self-debug"},
	},
	{
		ID:          "AD007",
		Name:        "INT 3 Breakpoint",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte{0xCC},
		Description: "Software breakpoint detection",
		Confidence:  0.6,
		Tags:        []string{"x86", "breakpoint"},
	},
	{
		ID:          "AD008",
		Name:        "INT 2D",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte{0xCD, 0x2D},
		Description: "Kernel debugger detection interrupt",
		Confidence:  0.9,
		Tags:        []string{"x86", "kernel-debug"},
	},
	{
		ID:          "AD009",
		Name:        "ptrace PTRACE_TRACEME",
		Category:    aether.CategoryAntiDebug,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("ptrace"),
		Description: "Linux anti-debug via ptrace self-attach",
		Confidence:  0.9,
		Tags:        []string{"linux", "ptrace"},
	},
}

var antiVMSignatures = []signature{
	{
		ID:          "VM001",
		Name:        "VMware Detection",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("VMware"),
		Description: "VMware hypervisor string check",
		Confidence:  0.9,
		Tags:        []string{"vmware", "string"},
	},
	{
		ID:          "VM002",
		Name:        "VirtualBox Detection",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("VirtualBox"),
		Description: "VirtualBox hypervisor string check",
		Confidence:  0.9,
		Tags:        []string{"virtualbox", "string"},
	},
	{
		ID:          "VM003",
		Name:        "VBox Guest Additions",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("VBoxGuest"),
		Description: "VirtualBox Guest Additions detection",
		Confidence:  0.9,
		Tags:        []string{"virtualbox", "driver"},
	},
	{
		ID:          "VM004",
		Name:        "QEMU Detection",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("QEMU"),
		Description: "QEMU emulator string check",
		Confidence:  0.9,
		Tags:        []string{"qemu", "string"},
	},
	{
		ID:          "VM005",
		Name:        "Hyper-V Detection",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("Hyper-V"),
		Description: "Microsoft Hyper-V detection",
		Confidence:  0.9,
		Tags:        []string{"hyperv", "microsoft"},
	},
	{
		ID:          "VM006",
		Name:        "Xen Detection",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("Xen"),
		Description: "Xen hypervisor detection",
		Confidence:  0.9,
		Tags:        []string{"xen", "string"},
	},
	{
		ID:          "VM007",
		Name:        "CPUID Hypervisor Bit",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte{0x0F, 0xA2},
		Description: "CPUID instruction (may check hypervisor bit)",
		Confidence:  0.7,
		Tags:        []string{"cpuid", "x86"},
	},
	{
		ID:          "VM008",
		Name:        "VMware I/O Port",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityCritical,
		Pattern:     []byte("VMXh"),
		Description: "VMware magic I/O port backdoor",
		Confidence:  0.9,
		Tags:        []string{"vmware", "backdoor"},
	},
	{
		ID:          "VM009",
		Name:        "SIDT/SGDT Red Pill",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte{0x0F, 0x01},
		Description: "Red Pill technique (SIDT/SGDT relocation)",
		Confidence:  0.6,
		Tags:        []string{"redpill", "x86"},
	},
	{
		ID:          "VM010",
		Name:        "VM Registry Key",
		Category:    aether.CategoryAntiVM,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte(`SYSTEM\CurrentControlSet\Services\Disk\Enum`),
		Description: "Disk enumeration registry check",
		Confidence:  0.9,
		Tags:        []string{"windows", "registry"},
	},
}

var antiFridaSignatures = []signature{
	{
		ID:          "FR001",
		Name:        "Frida Library Name",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityCritical,
		Pattern:     []byte("frida-agent"),
		Description: "Frida agent library name detection",
		Confidence:  0.9,
		Tags:        []string{"frida", "library"},
	},
	{
		ID:          "FR002",
		Name:        "Frida RPC",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("frida:rpc"),
		Description: "Frida RPC protocol string",
		Confidence:  0.9,
		Tags:        []string{"frida", "rpc"},
	},
	{
		ID:          "FR003",
		Name:        "Frida Gadget",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityCritical,
		Pattern:     []byte("FridaGadget"),
		Description: "Frida Gadget injection marker",
		Confidence:  0.9,
		Tags:        []string{"frida", "gadget"},
	},
	{
		ID:          "FR004",
		Name:        "Frida Server Port",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("27042"),
		Description: "Default Frida server port",
		Confidence:  0.7,
		Tags:        []string{"frida", "port"},
	},
	{
		ID:          "FR005",
		Name:        "Frida Thread Name",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("gum-js-loop"),
		Description: "Frida GumJS thread name",
		Confidence:  0.9,
		Tags:        []string{"frida", "thread"},
	},
	{
		ID:          "FR006",
		Name:        "Frida Maps Check",
		Category:    aether.CategoryAntiFrida,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("/proc/self/maps"),
		Description: "Process maps enumeration (Frida detection)",
		Confidence:  0.6,
		Tags:        []string{"linux", "android", "maps"},
	},
}

var timingSignatures = []signature{
	{
		ID:          "TM001",
		Name:        "RDTSC Instruction",
		Category:    aether.CategoryTimingCheck,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte{0x0F, 0x31},
		Description: "RDTSC timing check",
		Confidence:  0.7,
		Tags:        []string{"x86", "rdtsc"},
	},
	{
		ID:          "TM002",
		Name:        "GetTickCount",
		Category:    aether.CategoryTimingCheck,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("GetTickCount"),
		Description: "Windows timing via GetTickCount",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32"},
	},
	{
		ID:          "TM003",
		Name:        "QueryPerformanceCounter",
		Category:    aether.CategoryTimingCheck,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("QueryPerformanceCounter"),
		Description: "High-resolution timing check",
		Confidence:  0.9,
		Tags:        []string{"windows", "kernel32"},
	},
	{
		ID:          "TM004",
		Name:        "clock_gettime",
		Category:    aether.CategoryTimingCheck,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("clock_gettime"),
		Description: "Linux high-resolution timing",
		Confidence:  0.9,
		Tags:        []string{"linux", "libc"},
	},
}

var packerSignatures = []signature{
	{
		ID:          "PK001",
		Name:        "UPX Packer",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("UPX!"),
		Description: "UPX packer signature",
		Confidence:  0.9,
		Tags:        []string{"upx", "packer"},
	},
	{
		ID:          "PK002",
		Name:        "UPX Section",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("UPX0"),
		Description: "UPX section header",
		Confidence:  0.9,
		Tags:        []string{"upx", "section"},
	},
	{
		ID:          "PK003",
		Name:        "ASPack",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityMedium,
		Pattern:     []byte("ASPack"),
		Description: "ASPack packer",
		Confidence:  0.9,
		Tags:        []string{"aspack", "packer"},
	},
	{
		ID:          "PK004",
		Name:        "Themida",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("Themida"),
		Description: "Themida protector/packer",
		Confidence:  0.9,
		Tags:        []string{"themida", "protector"},
	},
	{
		ID:          "PK005",
		Name:        "VMProtect",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte(".vmp"),
		Description: "VMProtect section",
		Confidence:  0.9,
		Tags:        []string{"vmprotect", "protector"},
	},
	{
		ID:          "PK006",
		Name:        "Enigma Protector",
		Category:    aether.CategoryPacking,
		Severity:    aether.SeverityHigh,
		Pattern:     []byte("Enigma"),
		Description: "Enigma Protector",
		Confidence:  0.9,
		Tags:        []string{"enigma", "protector"},
	},
}

// findPattern returns every offset where pattern occurs in data,
// overlapping matches included.
func findPattern(data, pattern []byte) []int {
	var matches []int
	off := 0
	for off < len(data) {
		i := bytes.Index(data[off:], pattern)
		if i < 0 {
			break
		}
		matches = append(matches, off+i)
		off += i + 1
	}
	return matches
}
