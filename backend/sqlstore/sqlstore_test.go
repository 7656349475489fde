package sqlstore

import (
	"testing"

	"github.com/pickyca/picky-ca/internal/testutil"
)

// New requires a reachable MySQL server to build its DbMap and create
// tables; CRUD coverage against a live instance lives outside the unit test
// suite (see DESIGN.md). This only exercises the connection-failure path,
// which needs no server at all.
func TestNewRejectsUnreachableDSN(t *testing.T) {
	_, err := New("root:root@tcp(127.0.0.1:1)/picky_test?timeout=1s")
	testutil.AssertError(t, err, "expected New to fail against a closed port")
}
