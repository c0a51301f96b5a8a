package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/config"
	"github.com/hackgods/consult-scheduling/internal/db"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
	pgstore "github.com/hackgods/consult-scheduling/internal/store/postgres"
	"github.com/hackgods/consult-scheduling/pkg/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var tiers = []ledger.Tier{ledger.TierFree, ledger.TierStandard, ledger.TierPremium}

const batchSize = 200

func main() {
	doctors := flag.Int("doctors", 50, "verified doctors to create")
	patients := flag.Int("patients", 2000, "patients to create")
	migrateFirst := flag.Bool("migrate", false, "apply migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *migrateFirst {
		if err := db.MigrateUp(cfg.PostgresDSN); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	clk, err := clock.System(cfg.ClockTimezone)
	if err != nil {
		logger.Fatal("clock", zap.Error(err))
	}

	st := pgstore.New(pool)
	s := &seeder{
		store:   st,
		ledger:  ledger.New(nil),
		planner: availability.NewPlanner(st, clk, availability.Options{}, logger),
		clock:   clk,
		logger:  logger,
	}

	if err := s.seedDoctors(ctx, *doctors); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := s.seedPatients(ctx, *patients); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	admin, err := s.seedAdmin(ctx)
	if err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	token, err := identity.NewJWTResolver(cfg.AuthJWTSecret).Issue(identity.Caller{AccountID: admin, Role: model.RoleAdmin}, 24*time.Hour)
	if err != nil {
		logger.Fatal("issue admin token", zap.Error(err))
	}
	logger.Info("seed complete", zap.String("admin_id", admin.String()))
	fmt.Println(token)
}

type seeder struct {
	store   store.Store
	ledger  *ledger.Ledger
	planner *availability.Planner
	clock   clock.Clock
	logger  *zap.Logger
}

// seedDoctors creates verified doctors, each with one daily window between
// 08:00 and 18:00 in the canonical location.
func (s *seeder) seedDoctors(ctx context.Context, count int) error {
	s.logger.Info("seeding doctors", zap.Int("count", count))

	verified := model.VerificationVerified
	var ids []uuid.UUID
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ids = make([]uuid.UUID, 0, count)
		for i := 0; i < count; i++ {
			email := gofakeit.Email()
			spec := specialties[gofakeit.Number(0, len(specialties)-1)]
			a, err := tx.CreateAccount(ctx, model.Account{
				Name:               "Dr. " + gofakeit.Name(),
				Email:              &email,
				Role:               model.RoleDoctor,
				VerificationStatus: &verified,
				Specialty:          &spec,
			})
			if err != nil {
				return err
			}
			ids = append(ids, a.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, id := range ids {
		startHour := gofakeit.Number(8, 13)
		hours := gofakeit.Number(2, 5)
		start := today.Add(time.Duration(startHour) * time.Hour)
		end := start.Add(time.Duration(hours) * time.Hour)
		if _, err := s.planner.Declare(ctx, identity.Caller{AccountID: id, Role: model.RoleDoctor}, start, end); err != nil {
			return fmt.Errorf("declare availability for %s: %w", id, err)
		}
	}

	s.logger.Info("doctors seeded")
	return nil
}

// seedPatients creates patients in batches and grants each the current
// month's allocation of a random plan.
func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.logger.Info("seeding patients", zap.Int("count", count))

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			for i := offset; i < end; i++ {
				email := gofakeit.Email()
				a, err := tx.CreateAccount(ctx, model.Account{
					Name:  gofakeit.Name(),
					Email: &email,
					Role:  model.RolePatient,
				})
				if err != nil {
					return err
				}
				tier := tiers[gofakeit.Number(0, len(tiers)-1)]
				if _, _, err := s.ledger.AllocateMonthly(ctx, tx, a.ID, tier, s.clock.Now()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func (s *seeder) seedAdmin(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, model.Account{Name: "Seed Admin", Role: model.RoleAdmin})
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	return id, err
}
