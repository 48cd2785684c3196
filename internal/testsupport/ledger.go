package testsupport

import (
	"testing"

	"seqwatch/internal/config"
	"seqwatch/internal/ledger"
)

// MustOpenLedger opens the ledger configured in cfg and closes it on cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}
