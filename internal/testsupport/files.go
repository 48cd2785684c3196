package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteReads writes a FASTQ batch with n synthetic reads to path, creating
// parent directories. It returns the file size.
func WriteReads(t testing.TB, path string, n int) int64 {
	t.Helper()
	if n <= 0 {
		n = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "@read_%04d barcode=NB01\n%s\n+\n%s\n", i, strings.Repeat("ACGT", 8), strings.Repeat("I", 32))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return int64(b.Len())
}

// AppendFile appends data to path, creating it when missing.
func AppendFile(t testing.TB, path string, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}
