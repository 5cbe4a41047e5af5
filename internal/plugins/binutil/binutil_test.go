package binutil

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEntropy(t *testing.T) {
	if got := Entropy(nil); got != 0 {
		t.Errorf("Entropy(nil) = %v, want 0", got)
	}
	if got := Entropy(bytes.Repeat([]byte{0x41}, 1024)); got != 0 {
		t.Errorf("Entropy(uniform) = %v, want 0", got)
	}

	// Every byte value exactly once is maximal entropy.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	if got := Entropy(all); math.Abs(got-8.0) > 1e-9 {
		t.Errorf("Entropy(all bytes) = %v, want 8.0", got)
	}
}

func TestSectionEntropy(t *testing.T) {
	data := make([]byte, 4096+100)
	sections := SectionEntropy(data, 4096)
	if len(sections) != 2 {
		t.Fatalf("len(sections) = %d, want 2", len(sections))
	}
	if sections[0].Offset != 0 || sections[0].Size != 4096 {
		t.Errorf("section 0 = %+v", sections[0])
	}
	if sections[1].Offset != 4096 || sections[1].Size != 100 {
		t.Errorf("section 1 = %+v", sections[1])
	}
	if sections[0].Entropy != 0 {
		t.Errorf("zero-filled section entropy = %v, want 0", sections[0].Entropy)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pe", []byte("MZ\x90\x00"), FormatPE},
		{"elf", []byte{0x7F, 'E', 'L', 'F', 2, 1, 1}, FormatELF},
		{"macho64", []byte{0xFE, 0xED, 0xFA, 0xCF}, FormatMachO},
		{"macho-le", []byte{0xCF, 0xFA, 0xED, 0xFE}, FormatMachO},
		{"text", []byte("#!/bin/sh\n"), FormatUnknown},
		{"short", []byte{0x7F}, FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.data); got != tt.want {
			t.Errorf("%s: DetectFormat = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestArchPE(t *testing.T) {
	// Minimal PE: MZ header, e_lfanew -> "PE\0\0" + machine.
	data := make([]byte, 0x50)
	data[0], data[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(data[0x3C:], 0x40)
	copy(data[0x40:], []byte{'P', 'E', 0, 0})
	binary.LittleEndian.PutUint16(data[0x44:], 0x8664)

	if got := Arch(data); got != ArchX64 {
		t.Errorf("Arch = %q, want %q", got, ArchX64)
	}

	binary.LittleEndian.PutUint16(data[0x44:], 0x014C)
	if got := Arch(data); got != ArchX86 {
		t.Errorf("Arch = %q, want %q", got, ArchX86)
	}
}

func TestArchELF(t *testing.T) {
	data := make([]byte, 0x20)
	copy(data, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1})
	binary.LittleEndian.PutUint16(data[0x12:], 0x3E)
	if got := Arch(data); got != ArchX64 {
		t.Errorf("Arch = %q, want %q", got, ArchX64)
	}
	binary.LittleEndian.PutUint16(data[0x12:], 0xB7)
	if got := Arch(data); got != ArchARM64 {
		t.Errorf("Arch = %q, want %q", got, ArchARM64)
	}
}

func TestStrings(t *testing.T) {
	data := []byte("\x00\x01hello world\x00ab\x02kernel32.dll\x03")
	got := Strings(data, 5, 0)
	want := []string{"hello world", "kernel32.dll"}
	if len(got) != len(want) {
		t.Fatalf("Strings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStringsLimit(t *testing.T) {
	data := []byte("alpha\x00beta!\x00gamma\x00delta\x00")
	got := Strings(data, 4, 2)
	if len(got) != 2 {
		t.Errorf("len = %d, want limit 2", len(got))
	}
}

func TestStringsTrailingRun(t *testing.T) {
	got := Strings([]byte("\x00trailing"), 4, 0)
	if len(got) != 1 || got[0] != "trailing" {
		t.Errorf("Strings = %v, want [trailing]", got)
	}
}
