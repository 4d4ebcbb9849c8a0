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

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		migrator  *store.Migrator
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("credgate_migrate"),
			postgres.WithUsername("credgate"),
			postgres.WithPassword("credgate"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		pool, err = store.Connect(ctx, connStr, store.PoolOptions{})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if migrator != nil {
			_ = migrator.Close()
		}
		_ = container.Terminate(ctx)
	})

	indexExists := func() bool {
		var exists bool
		Expect(pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_users_created_at')`).
			Scan(&exists)).To(Succeed())
		return exists
	}

	It("starts empty with every migration pending", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(2))
	})

	It("applies everything on Up", func() {
		Expect(migrator.Up()).To(Succeed())

		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
		Expect(tableExists(ctx, pool, "users")).To(BeTrue())
		Expect(indexExists()).To(BeTrue())
	})

	It("rolls back one step and reapplies it", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		Expect(indexExists()).To(BeFalse())
		Expect(tableExists(ctx, pool, "users")).To(BeTrue())

		applied, err := migrator.Applied()
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(ConsistOf(store.Migration{Version: 1, Name: "create_users"}))

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(indexExists()).To(BeTrue())
	})

	It("drops the users table on Down", func() {
		Expect(migrator.Down()).To(Succeed())
		Expect(tableExists(ctx, pool, "users")).To(BeFalse())

		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	It("forces a version without running it", func() {
		Expect(migrator.Force(1)).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(tableExists(ctx, pool, "users")).To(BeFalse())
	})
})
