package valkyrie

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/aetherframe/aetherframe/internal/plugins/binutil"
)

const (
	maxFunctions    = 500
	maxFunctionSize = 4096
	maxStrings      = 500
)

// Function is one function extracted from a binary by prologue scan.
type Function struct {
	Name         string   `json:"name"`
	Address      int      `json:"address"`
	Size         int      `json:"size"`
	Hash         string   `json:"hash"` // content hash for exact comparison
	Instructions int      `json:"instructions"`
	Calls        []string `json:"calls,omitempty"`
	Strings      []string `json:"strings,omitempty"`
	Complexity   int      `json:"complexity"`
}

// SignatureHash fingerprints the function's structure, ignoring
// addresses, so that relocated but unchanged functions compare equal.
func (f *Function) SignatureHash() string {
	sig := fmt.Sprintf("%d:%d:%d:%d", f.Size, f.Instructions, len(f.Calls), f.Complexity)
	sum := md5.Sum([]byte(sig))
	return hex.EncodeToString(sum[:])[:16]
}

// BinaryMetadata is everything AnalyzeBinary extracts from one binary.
type BinaryMetadata struct {
	Path      string     `json:"path"`
	SHA256    string     `json:"sha256"`
	Size      int        `json:"size"`
	Format    string     `json:"format"`
	Arch      string     `json:"arch"`
	Functions []Function `json:"functions"`
	Imports   []string   `json:"imports"`
	Exports   []string   `json:"exports"`
	Strings   []string   `json:"strings"`
}

// AnalyzeBinary extracts metadata and functions from the binary at
// path. The extraction is heuristic: prologue scan for function
// boundaries and string matching for imports, no real disassembly.
func AnalyzeBinary(path string) (*BinaryMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}

	sum := sha256.Sum256(data)
	format := binutil.DetectFormat(data)

	meta := &BinaryMetadata{
		Path:    path,
		SHA256:  hex.EncodeToString(sum[:]),
		Size:    len(data),
		Format:  format,
		Arch:    binutil.Arch(data),
		Strings: binutil.Strings(data, 6, maxStrings),
		Exports: []string{},
		Imports: []string{},
	}
	meta.Functions = extractFunctions(data, format)
	if format == binutil.FormatPE {
		meta.Imports = extractPEImports(data)
	}
	return meta, nil
}

// Common x86/x64 function prologues.
var prologues = [][]byte{
	{0x55, 0x8B, 0xEC},       // push ebp; mov ebp, esp
	{0x55, 0x48, 0x89, 0xE5}, // push rbp; mov rbp, rsp
	{0x55, 0x89, 0xE5},       // push ebp; mov ebp, esp (32-bit)
}

// extractFunctions scans for prologue byte patterns and bounds each
// candidate at the next ret. Only PE and ELF containers are scanned.
func extractFunctions(data []byte, format string) []Function {
	functions := []Function{}
	if format != binutil.FormatPE && format != binutil.FormatELF {
		return functions
	}

	for _, prologue := range prologues {
		off := 0
		for off < len(data) {
			i := bytes.Index(data[off:], prologue)
			if i < 0 {
				break
			}
			pos := off + i

			end := bytes.IndexByte(data[pos+len(prologue):], 0xC3)
			if end < 0 {
				end = 100
			} else {
				end += len(prologue)
			}
			size := end + 1
			if size > maxFunctionSize {
				size = maxFunctionSize
			}
			if pos+size > len(data) {
				size = len(data) - pos
			}
			body := data[pos : pos+size]

			sum := md5.Sum(body)
			functions = append(functions, Function{
				Name:         fmt.Sprintf("sub_%08x", pos),
				Address:      pos,
				Size:         size,
				Hash:         hex.EncodeToString(sum[:]),
				Instructions: size / 4,
				Complexity:   countBranches(body),
			})
			if len(functions) >= maxFunctions {
				return functions
			}
			off = pos + 1
		}
	}
	return functions
}

// countBranches approximates cyclomatic complexity by counting
// conditional jump opcodes.
func countBranches(data []byte) int {
	branches := 0
	for op := byte(0x74); op <= 0x7F; op++ {
		branches += bytes.Count(data, []byte{op})
	}
	branches += bytes.Count(data, []byte{0x0F, 0x84})
	branches += bytes.Count(data, []byte{0x0F, 0x85})
	return branches
}

var commonDLLs = []string{"kernel32.dll", "user32.dll", "ntdll.dll", "advapi32.dll"}

// extractPEImports string-matches DLL names (case-insensitive) and
// known API names (case-sensitive) against the raw bytes.
func extractPEImports(data []byte) []string {
	imports := []string{}
	lower := bytes.ToLower(data)
	for _, dll := range commonDLLs {
		if bytes.Contains(lower, []byte(dll)) {
			imports = append(imports, dll)
		}
	}
	for _, api := range highRiskAPIOrder {
		if bytes.Contains(data, []byte(api)) {
			imports = append(imports, api)
		}
	}
	return imports
}
