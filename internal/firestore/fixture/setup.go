package fixture

import (
	"context"
	"testing"
	"time"

	"firestore-driver/internal/firestore/domain/repository"
)

// Setup provisions a fixture for tb and registers its teardown, which runs
// whatever the outcome of the test. A provisioning failure stops the test;
// a teardown failure is only logged so it cannot change the test result.
func Setup(tb testing.TB, admin repository.Store, driver repository.Driver, opts ...Option) (*Fixture, repository.CollectionReference) {
	tb.Helper()
	f := New(admin, driver, opts...)

	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout())
		defer cancel()
		if err := f.Teardown(ctx); err != nil {
			f.log.Warnf("Teardown failed: %v", err)
			tb.Logf("harness: %v", err)
		}
	})

	if err := f.Provision(context.Background()); err != nil {
		tb.Fatalf("harness: %v", err)
	}
	coll, err := f.Use()
	if err != nil {
		tb.Fatalf("harness: %v", err)
	}
	return f, coll
}

func teardownTimeout() time.Duration {
	if d := Defaults().TeardownTimeout; d > 0 {
		return d
	}
	return 30 * time.Second
}
