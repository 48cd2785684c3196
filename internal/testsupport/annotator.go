package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

const stubPreamble = `#!/bin/sh
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    --input) in="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

// StubRows is what the "ok" stub annotator writes: one mapped and one unmapped
// read for barcode NB01.
const StubRows = "r1\tNB01\tgenomeA\t100\t50\t200\t5\nr2\tNB01\t*\t0\t0\t150\t7\n"

var stubBodies = map[string]string{
	// ok writes StubRows, or copies "<input>.tsv" when that fixture exists.
	"ok": `if [ -f "$in.tsv" ]; then cp "$in.tsv" "$out"; else printf 'r1\tNB01\tgenomeA\t100\t50\t200\t5\nr2\tNB01\t*\t0\t0\t150\t7\n' > "$out"; fi
`,
	"fail": `echo "reference index missing" >&2
exit 3
`,
	"empty": `exit 0
`,
	// slow runs until terminated.
	"slow": `sleep 30
`,
	// stubborn ignores SIGTERM and must be killed.
	"stubborn": `trap '' TERM
sleep 30
`,
	// salvage writes output, then exits cleanly on SIGTERM.
	"salvage": `printf 'r1\tNB01\tgenomeA\t0\t10\t10\t1\n' > "$out"
trap 'exit 0' TERM
sleep 30 &
wait
`,
	// gated waits for "<input>.go" to appear before writing output.
	"gated": `while [ ! -f "$in.go" ]; do sleep 0.02; done
printf 'r1\tNB01\tgenomeA\t0\t10\t10\t1\n' > "$out"
`,
}

// StubAnnotator writes an executable shell script emulating the annotator and
// returns its path. Modes: ok, fail, empty, slow, stubborn, salvage, gated.
func StubAnnotator(t testing.TB, dir, mode string) string {
	t.Helper()
	body, ok := stubBodies[mode]
	if !ok {
		t.Fatalf("unknown stub annotator mode %q", mode)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir stub dir: %v", err)
	}
	path := filepath.Join(dir, "annotate-"+mode)
	if err := os.WriteFile(path, []byte(stubPreamble+body), 0o755); err != nil {
		t.Fatalf("write stub annotator: %v", err)
	}
	return path
}
