// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gatekeeper/internal/auth"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/gate"
	"github.com/holomush/gatekeeper/internal/store"
)

var _ = Describe("Auth flow on PostgreSQL", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		now       time.Time
		clockMu   sync.Mutex
	)

	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	hasher := func() auth.PasswordHasher {
		h, err := auth.NewArgon2idHasherWithParams(auth.Argon2idParams{Time: 1, Memory: 64, Threads: 1, SaltLen: 16, KeyLen: 32})
		Expect(err).NotTo(HaveOccurred())
		return h
	}

	newService := func(persisted bool) *auth.Service {
		opts := []auth.Option{auth.WithClock(clock)}
		if persisted {
			opts = append(opts, auth.WithSessionRepository(authpg.NewSessionRepository(pool)))
		}
		svc, err := auth.NewAuthService(authpg.NewUserRepository(pool), hasher(), auth.NewUUIDTokenIssuer(), opts...)
		Expect(err).NotTo(HaveOccurred())
		return svc
	}

	BeforeAll(func() {
		ctx = context.Background()
		now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("gatekeeper_test"),
			postgres.WithUsername("gatekeeper"),
			postgres.WithPassword("gatekeeper"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE users CASCADE")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("registration and login", func() {
		It("rejects duplicate emails", func() {
			svc := newService(false)
			_, err := svc.Register(ctx, "ada@example.com", "secret")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Register(ctx, "ada@example.com", "other")
			Expect(errors.Is(err, auth.ErrUserAlreadyExists)).To(BeTrue())
		})

		It("allows exactly one of many concurrent registrations", func() {
			svc := newService(false)
			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if _, err := svc.Register(ctx, "race@example.com", "pw"); err == nil {
						wins.Add(1)
					} else {
						Expect(errors.Is(err, auth.ErrUserAlreadyExists)).To(BeTrue())
					}
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))
		})

		It("verifies passwords", func() {
			svc := newService(false)
			_, err := svc.Register(ctx, "ada@example.com", "secret")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.VerifyLogin(ctx, "ada@example.com", "secret")).To(BeTrue())
			Expect(svc.VerifyLogin(ctx, "ada@example.com", "wrong")).To(BeFalse())
			Expect(svc.VerifyLogin(ctx, "ghost@example.com", "secret")).To(BeFalse())
		})
	})

	Describe("single-session mode", func() {
		It("keeps only the latest session", func() {
			svc := newService(false)
			user, err := svc.Register(ctx, "ada@example.com", "secret")
			Expect(err).NotTo(HaveOccurred())

			first, ok, err := svc.CreateSession(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			second, _, err := svc.CreateSession(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.ResolveBySession(ctx, first)).To(BeNil())
			got, err := svc.ResolveBySession(ctx, second)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))

			Expect(svc.DestroySession(ctx, user.ID)).To(Succeed())
			Expect(svc.DestroySession(ctx, user.ID)).To(Succeed())
			Expect(svc.ResolveBySession(ctx, second)).To(BeNil())
		})
	})

	Describe("persisted sessions behind the gate", func() {
		It("resolves, expires and prunes sessions", func() {
			svc := newService(true)
			_, err := svc.Register(ctx, "ada@example.com", "secret")
			Expect(err).NotTo(HaveOccurred())

			strategy, err := gate.NewStrategy(gate.ModePersistedSession, gate.Deps{
				Service: svc,
				TTL:     time.Hour,
				Now:     clock,
			})
			Expect(err).NotTo(HaveOccurred())
			g, err := gate.New(strategy, gate.DefaultExcludedPaths())
			Expect(err).NotTo(HaveOccurred())

			tokenA, _, err := svc.CreateSession(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())
			advance(45 * time.Minute)
			tokenB, _, err := svc.CreateSession(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())

			request := func(token string) gate.RequestView {
				return gate.StaticRequest{Cookies: map[string]string{gate.DefaultSessionCookie: token}}
			}

			Expect(g.Decide(ctx, "/api/v1/users/me", request(tokenA)).Outcome).To(Equal(gate.Allow))
			Expect(g.Decide(ctx, "/api/v1/users/me", request(tokenB)).Outcome).To(Equal(gate.Allow))
			Expect(g.Decide(ctx, "/api/v1/users/me", gate.StaticRequest{}).Outcome).To(Equal(gate.RejectUnauthorized))
			Expect(g.Decide(ctx, "/api/v1/status", gate.StaticRequest{}).Outcome).To(Equal(gate.Allow))

			advance(30 * time.Minute)
			Expect(g.Decide(ctx, "/api/v1/users/me", request(tokenA)).Outcome).To(Equal(gate.RejectForbidden))
			Expect(g.Decide(ctx, "/api/v1/users/me", request(tokenB)).Outcome).To(Equal(gate.Allow))

			n, err := svc.PruneSessions(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			ended, err := svc.EndSession(ctx, tokenB)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended).To(BeTrue())
			Expect(g.Decide(ctx, "/api/v1/users/me", request(tokenB)).Outcome).To(Equal(gate.RejectForbidden))
		})

		It("accepts basic credentials with the basic strategy", func() {
			svc := newService(true)
			_, err := svc.Register(ctx, "ada@example.com", "pw:with:colons")
			Expect(err).NotTo(HaveOccurred())

			strategy, err := gate.NewStrategy(gate.ModeBasic, gate.Deps{Service: svc})
			Expect(err).NotTo(HaveOccurred())
			g, err := gate.New(strategy, gate.DefaultExcludedPaths())
			Expect(err).NotTo(HaveOccurred())

			header := "Basic " + base64.StdEncoding.EncodeToString([]byte("ada@example.com:pw:with:colons"))
			d := g.Decide(ctx, "/api/v1/users/me", gate.StaticRequest{Headers: map[string]string{"Authorization": header}})
			Expect(d.Outcome).To(Equal(gate.Allow))
			Expect(d.User.Email).To(Equal("ada@example.com"))
		})
	})

	Describe("password reset", func() {
		It("lets exactly one concurrent consumer win", func() {
			svc := newService(false)
			_, err := svc.Register(ctx, "ada@example.com", "old")
			Expect(err).NotTo(HaveOccurred())

			token, err := svc.IssueResetToken(ctx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())

			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := svc.ConsumeResetToken(ctx, token, "new")
					if err == nil {
						wins.Add(1)
						return
					}
					Expect(errors.Is(err, auth.ErrInvalidOrExpiredToken)).To(BeTrue())
				}()
			}
			wg.Wait()

			Expect(wins.Load()).To(Equal(int32(1)))
			Expect(svc.VerifyLogin(ctx, "ada@example.com", "new")).To(BeTrue())
			Expect(svc.VerifyLogin(ctx, "ada@example.com", "old")).To(BeFalse())
		})
	})
})
