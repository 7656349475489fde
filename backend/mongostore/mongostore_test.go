package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/pickyca/picky-ca/internal/testutil"
)

// New requires a reachable MongoDB server; CRUD coverage against a live
// instance lives outside the unit test suite (see DESIGN.md). This only
// exercises the connection-failure path, which needs no server at all.
func TestNewRejectsUnreachableURI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, "mongodb://127.0.0.1:1/?connectTimeoutMS=500&serverSelectionTimeoutMS=500", "picky_test")
	testutil.AssertError(t, err, "expected New to fail against a closed port")
}
