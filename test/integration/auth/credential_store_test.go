// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/internal/auth/postgres"
	"github.com/holomush/credgate/internal/directory"
)

var _ = Describe("CredentialStore on PostgreSQL", func() {
	var (
		ctx    context.Context
		repo   *postgres.CredentialRepository
		store  *auth.CredentialStore
		logBuf *bytes.Buffer
	)

	BeforeEach(func() {
		ctx = context.Background()
		dropUsers(ctx, env.pool)

		logBuf = &bytes.Buffer{}
		logger := slog.New(slog.NewJSONHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		repo = postgres.NewCredentialRepository(env.pool)

		var err error
		store, err = auth.NewCredentialStoreWithLogger(repo, auth.NewPBKDF2Hasher(), "example.org", logger)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("a database that was never initialized", func() {
		It("reports lookups as schema-not-initialized not-found", func() {
			_, err := repo.GetByUsername(ctx, "alice")
			Expect(err).To(MatchError(auth.ErrNotFound))
			Expect(auth.ErrorCode(err)).To(Equal(auth.CodeSchemaNotInitialized))
		})

		It("creates the table on first use", func() {
			_, err := store.Authenticate(ctx, "nobody", "x")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))

			var exists bool
			Expect(env.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'users')`).
				Scan(&exists)).To(Succeed())
			Expect(exists).To(BeTrue())
		})
	})

	Describe("sign-up and authentication", func() {
		It("stores a PBKDF2 hash and authenticates with it", func() {
			cred, err := store.CreateUser(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cred.ID).To(BeNumerically(">", 0))
			Expect(cred.Email).To(Equal("alice@example.org"))

			var stored string
			Expect(env.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE username = 'alice'`).
				Scan(&stored)).To(Succeed())
			Expect(stored).To(MatchRegexp(`^[0-9a-f]{32}:[0-9a-f]{64}$`))
			Expect(stored).NotTo(ContainSubstring("pw1"))

			identity, err := store.Authenticate(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.ID).To(Equal(cred.ID))
			Expect(identity.Source).To(Equal(auth.SourceLocal))

			_, err = store.Authenticate(ctx, "alice", "wrong")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})

		It("rejects a duplicate username and keeps the first hash", func() {
			_, err := store.CreateUser(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())

			_, err = store.CreateUser(ctx, "alice", "pw2")
			Expect(err).To(MatchError(auth.ErrAlreadyExists))
			Expect(auth.ErrorCode(err)).To(Equal(auth.CodeUserExists))

			_, err = store.Authenticate(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Authenticate(ctx, "alice", "pw2")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
		})

		It("lets exactly one concurrent sign-up win", func() {
			// Concurrent CREATE TABLE IF NOT EXISTS can collide in pg_type.
			Expect(store.EnsureSchema(ctx)).To(Succeed())

			const racers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for range racers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.CreateUser(ctx, "racer", "pw")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case auth.ErrorCode(err) == auth.CodeUserExists:
						conflicts++
					default:
						Fail("unexpected sign-up error: " + err.Error())
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(racers - 1))
		})
	})

	Describe("storage faults", func() {
		It("are reported as storage errors, not invalid credentials", func() {
			closed, err := pgxpool.New(ctx, env.connStr)
			Expect(err).NotTo(HaveOccurred())
			closed.Close()

			broken, err := auth.NewCredentialStore(postgres.NewCredentialRepository(closed), auth.NewPBKDF2Hasher(), "")
			Expect(err).NotTo(HaveOccurred())

			_, err = broken.CreateUser(ctx, "alice", "pw1")
			Expect(err).To(MatchError(auth.ErrStorageUnavailable))
			Expect(err).NotTo(MatchError(auth.ErrAlreadyExists))

			_, err = broken.Authenticate(ctx, "alice", "pw1")
			Expect(err).To(MatchError(auth.ErrStorageUnavailable))
			Expect(err).NotTo(MatchError(auth.ErrInvalidCredentials))
		})
	})

	Describe("through the gateway", func() {
		It("falls back to an unreachable directory and denies uniformly", func() {
			_, err := store.CreateUser(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			port := ln.Addr().(*net.TCPAddr).Port
			Expect(ln.Close()).To(Succeed())

			dir, err := directory.NewWithDialer(directory.Config{
				Host:         "127.0.0.1",
				Port:         port,
				BaseDN:       "dc=example,dc=org",
				BindDN:       "cn=admin,dc=example,dc=org",
				BindPassword: "admin-pw",
			}, nil, slog.New(slog.NewJSONHandler(logBuf, nil)))
			Expect(err).NotTo(HaveOccurred())

			gw, err := auth.NewGatewayWithLogger(slog.New(slog.NewJSONHandler(logBuf, nil)), store, dir)
			Expect(err).NotTo(HaveOccurred())

			identity, err := gw.Authenticate(ctx, "alice", "pw1")
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Source).To(Equal(auth.SourceLocal))

			_, err = gw.Authenticate(ctx, "alice", "wrong")
			Expect(err).To(MatchError(auth.ErrInvalidCredentials))
			Expect(logBuf.String()).To(ContainSubstring(directory.CodeUnreachable))
		})
	})
})
