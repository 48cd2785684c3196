package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"seqwatch/internal/reads"
)

// FormatRecords renders records in the annotation TSV format.
func FormatRecords(records []reads.Record) string {
	var b strings.Builder
	for _, rec := range records {
		ref := rec.Reference
		if !rec.Mapped() {
			ref = "*"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			rec.ReadID, rec.Barcode, ref, rec.Start, rec.MappedLength, rec.ReadLength, rec.Time.Unix())
	}
	return b.String()
}

// WriteAnnotation writes records as an annotation TSV at path.
func WriteAnnotation(t testing.TB, path string, records []reads.Record) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(FormatRecords(records)), 0o644); err != nil {
		t.Fatalf("write annotation %s: %v", path, err)
	}
}
