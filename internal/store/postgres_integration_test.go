// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/credgate/internal/store"
)

var _ = Describe("Connect", func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("credgate_test"),
			postgres.WithUsername("credgate"),
			postgres.WithPassword("credgate"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = container.Terminate(ctx)
	})

	It("returns a ready pool", func() {
		pool, err := store.Connect(ctx, connStr, store.PoolOptions{Retries: 2, MaxConns: 4})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(pool.Config().MaxConns).To(Equal(int32(4)))
		Expect(store.Ready(pool, time.Second)()).To(BeTrue())
	})

	It("creates the users table when migrated", func() {
		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = migrator.Close() }()
		Expect(migrator.Up()).To(Succeed())

		pool, err := store.Connect(ctx, connStr, store.PoolOptions{})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(tableExists(ctx, pool, "users")).To(BeTrue())
	})

	It("reports not ready once the server is gone", func() {
		pool, err := store.Connect(ctx, connStr, store.PoolOptions{})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		Expect(container.Terminate(ctx)).To(Succeed())
		Eventually(store.Ready(pool, 500*time.Millisecond)).
			WithTimeout(10 * time.Second).
			Should(BeFalse())
	})
})

func tableExists(ctx context.Context, pool *pgxpool.Pool, name string) bool {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists)
	Expect(err).NotTo(HaveOccurred())
	return exists
}
