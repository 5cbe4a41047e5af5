// Package binutil holds the byte-level helpers shared by the builtin
// analyzers: Shannon entropy, printable string extraction and
// executable format sniffing.
package binutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Executable formats recognized by DetectFormat.
const (
	FormatPE      = "pe"
	FormatELF     = "elf"
	FormatMachO   = "macho"
	FormatUnknown = "unknown"
)

// Entropy returns the Shannon entropy of data in bits per byte,
// between 0 (uniform) and 8 (uniformly random).
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// Section is the entropy of one fixed-size slice of a binary.
type Section struct {
	Offset  int     `json:"offset"`
	Size    int     `json:"size"`
	Entropy float64 `json:"entropy"`
}

// SectionEntropy slices data into chunkSize sections and computes the
// entropy of each. A non-positive chunkSize defaults to 4096.
func SectionEntropy(data []byte, chunkSize int) []Section {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	var sections []Section
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		sections = append(sections, Section{
			Offset:  off,
			Size:    end - off,
			Entropy: round4(Entropy(data[off:end])),
		})
	}
	return sections
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

var machoMagics = []uint32{
	0xFEEDFACE, // 32-bit big-endian
	0xFEEDFACF, // 64-bit big-endian
	0xCEFAEDFE, // 32-bit little-endian
	0xCFFAEDFE, // 64-bit little-endian
	0xCAFEBABE, // fat binary
	0xBEBAFECA, // fat binary, swapped
}

// DetectFormat sniffs the executable container format from the magic
// bytes at the start of data.
func DetectFormat(data []byte) string {
	if len(data) >= 4 {
		if data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
			return FormatELF
		}
		magic := binary.BigEndian.Uint32(data[:4])
		for _, m := range machoMagics {
			if magic == m {
				return FormatMachO
			}
		}
	}
	if len(data) >= 2 && data[0] == 'M' && data[1] == 'Z' {
		return FormatPE
	}
	return FormatUnknown
}

// Architectures recognized by Arch.
const (
	ArchX86     = "x86"
	ArchX64     = "x64"
	ArchARM64   = "arm64"
	ArchUnknown = "unknown"
)

// Arch reads the machine field of a PE or ELF header. Mach-O and
// unrecognized containers report unknown.
func Arch(data []byte) string {
	switch DetectFormat(data) {
	case FormatPE:
		return peArch(data)
	case FormatELF:
		return elfArch(data)
	}
	return ArchUnknown
}

func peArch(data []byte) string {
	// e_lfanew at 0x3C points at the "PE\0\0" header; the machine
	// field follows the 4-byte signature.
	if len(data) < 0x40 {
		return ArchUnknown
	}
	off := int(binary.LittleEndian.Uint32(data[0x3C:0x40]))
	if off < 0 || off+6 > len(data) {
		return ArchUnknown
	}
	if !bytes.Equal(data[off:off+4], []byte{'P', 'E', 0, 0}) {
		return ArchUnknown
	}
	switch binary.LittleEndian.Uint16(data[off+4 : off+6]) {
	case 0x014C:
		return ArchX86
	case 0x8664:
		return ArchX64
	case 0xAA64:
		return ArchARM64
	}
	return ArchUnknown
}

func elfArch(data []byte) string {
	// e_machine is a half-word at 0x12.
	if len(data) < 0x14 {
		return ArchUnknown
	}
	switch binary.LittleEndian.Uint16(data[0x12:0x14]) {
	case 0x03:
		return ArchX86
	case 0x3E:
		return ArchX64
	case 0xB7:
		return ArchARM64
	}
	return ArchUnknown
}

// Strings extracts printable ASCII runs of at least minLen bytes.
// A positive limit caps the number of strings returned.
func Strings(data []byte, minLen, limit int) []string {
	if minLen <= 0 {
		minLen = 4
	}
	var out []string
	start := -1
	for i := 0; i <= len(data); i++ {
		printable := i < len(data) && data[i] >= 0x20 && data[i] <= 0x7E
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			out = append(out, string(data[start:i]))
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
		start = -1
	}
	return out
}
