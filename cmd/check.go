package main

import (
	"context"
	"fmt"

	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/fixture"
	"firestore-driver/internal/shared/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

var checkSpec = model.QuerySpec{
	Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
	OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
}

type checkRow struct {
	ID    string
	Value interface{}
}

// runCheck seeds a fresh mock collection through store, runs checkSpec
// through both drivers and fails when they disagree. The gateway behind
// driver must share store's backend. Teardown problems are logged and never
// change the outcome.
func runCheck(ctx context.Context, cmd *cobra.Command, store repository.Store, admin, driver repository.Driver, cfg config.FixtureConfig, log logger.Logger) (err error) {
	opts := []fixture.Option{fixture.WithPrefix(cfg.Prefix), fixture.WithLogger(log)}
	if cfg.RunID != "" {
		opts = append(opts, fixture.WithRunID(cfg.RunID))
	}
	fx := fixture.New(store, driver, opts...)
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.TeardownTimeout)
		defer cancel()
		if terr := fx.Teardown(tctx); terr != nil {
			log.Warnf("harness: %v", terr)
		}
	}()

	if err := fx.Provision(ctx); err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	if err := fx.Seed(ctx, fixture.MockItem{ID: "a", Value: 1}); err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	got, err := fx.Use()
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	want, err := fx.UseWith(admin)
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}

	results := make(map[string][]checkRow, 2)
	for _, coll := range []repository.CollectionReference{want, got} {
		snaps, err := coll.Query(ctx, checkSpec)
		if err != nil {
			return fmt.Errorf("%s driver: %w", coll.Driver().Name(), err)
		}
		rows := make([]checkRow, len(snaps))
		for i, s := range snaps {
			rows[i] = checkRow{ID: s.ID, Value: s.Data["value"]}
		}
		results[coll.Driver().Name()] = rows
		fmt.Fprintf(cmd.OutOrStdout(), "%-6s %v\n", coll.Driver().Name(), rows)
	}
	if diff := cmp.Diff(results[admin.Name()], results[driver.Name()]); diff != "" {
		return fmt.Errorf("drivers disagree (-%s +%s):\n%s", admin.Name(), driver.Name(), diff)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", fx.Name())
	return nil
}
