package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicore/api/internal/config"
	"github.com/clinicore/api/internal/domain/appointment"
	"github.com/clinicore/api/internal/domain/inventory"
	"github.com/clinicore/api/internal/domain/prescription"
	"github.com/clinicore/api/internal/domain/queue"
	"github.com/clinicore/api/internal/domain/schedule"
	"github.com/clinicore/api/internal/platform/auth"
	"github.com/clinicore/api/internal/platform/db"
	"github.com/clinicore/api/internal/platform/lock"
	"github.com/clinicore/api/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic Operations API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	var dir string

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			n, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s)\n", n)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied " + st.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%03d %-30s %s\n", st.Version, st.Name, state)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "Migrations directory")
	cmd.AddCommand(upCmd)
	cmd.AddCommand(statusCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Distributed locks. Booking, queue renumbering and batch allocation all
	// serialize through Redis; a dev instance may run without it.
	var locker lock.Locker
	redisClient, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		if !cfg.IsDev() {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process locking")
		locker = lock.NoopLocker{}
	} else {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.LockTTL())
		logger.Info().Msg("connected to redis")
	}

	runTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	// Repositories
	doctorRepo := schedule.NewPgDoctorRepository(pool)
	scheduleRepo := schedule.NewPgScheduleRepository(pool)
	leaveRepo := schedule.NewPgLeaveRepository(pool)
	apptRepo := appointment.NewPgRepository(pool)
	ticketRepo := queue.NewPgRepository(pool)
	drugRepo := inventory.NewPgDrugRepository(pool)
	batchRepo := inventory.NewPgBatchRepository(pool)
	txnRepo := inventory.NewPgTransactionRepository(pool)
	rxRepo := prescription.NewPgRepository(pool)

	// Services. The queue mints tickets for bookings and mirrors outcomes
	// back onto appointments, so the two are cross-wired.
	scheduleSvc := schedule.NewService(doctorRepo, scheduleRepo, leaveRepo, logger)
	queueSvc := queue.NewService(ticketRepo, doctorRepo, nil, locker, runTx, logger)
	apptSvc := appointment.NewService(apptRepo, scheduleRepo, leaveRepo, queueSvc,
		locker, runTx, cfg.BookingBuffer(), cfg.BookingWindowDays, logger)
	queueSvc.SetMirror(apptSvc)
	invSvc := inventory.NewService(drugRepo, batchRepo, txnRepo, locker, runTx, cfg.MinValidDays, logger)
	rxSvc := prescription.NewService(rxRepo, invSvc, runTx, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// The waiting-room display board is unauthenticated.
	public := e.Group("/public")

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(cfg.AuthSecret))
	}

	scheduleHandler := schedule.NewHandler(scheduleSvc)
	scheduleHandler.RegisterRoutes(apiV1)

	apptHandler := appointment.NewHandler(apptSvc)
	apptHandler.RegisterRoutes(apiV1)

	queueHandler := queue.NewHandler(queueSvc)
	queueHandler.RegisterRoutes(apiV1, public)

	invHandler := inventory.NewHandler(invSvc)
	invHandler.RegisterRoutes(apiV1)

	rxHandler := prescription.NewHandler(rxSvc)
	rxHandler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
			return seed(ctx, pool, logger)
		},
	}
}

func seed(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	faker := gofakeit.New(0)

	runTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	doctorRepo := schedule.NewPgDoctorRepository(pool)
	scheduleRepo := schedule.NewPgScheduleRepository(pool)
	leaveRepo := schedule.NewPgLeaveRepository(pool)
	drugRepo := inventory.NewPgDrugRepository(pool)
	batchRepo := inventory.NewPgBatchRepository(pool)
	txnRepo := inventory.NewPgTransactionRepository(pool)

	scheduleSvc := schedule.NewService(doctorRepo, scheduleRepo, leaveRepo, logger)
	invSvc := inventory.NewService(drugRepo, batchRepo, txnRepo, lock.NoopLocker{}, runTx, 0, logger)

	departments := []string{"General Medicine", "Pediatrics", "Dermatology", "Orthopedics"}
	for i, dept := range departments {
		doc := &schedule.Doctor{
			Name:       "Dr. " + faker.Name(),
			Department: dept,
			Room:       fmt.Sprintf("%d0%d", i+1, faker.Number(1, 9)),
		}
		if err := scheduleSvc.CreateDoctor(ctx, doc); err != nil {
			return fmt.Errorf("seed doctor: %w", err)
		}

		for wd := time.Monday; wd <= time.Friday; wd++ {
			morning := &schedule.DoctorSchedule{
				DoctorID:    doc.ID,
				Weekday:     wd,
				Session:     schedule.SessionMorning,
				StartTime:   9 * 60,
				EndTime:     12 * 60,
				SlotMinutes: 15,
				MaxPatients: 12,
				Active:      true,
			}
			if err := scheduleSvc.CreateSchedule(ctx, morning); err != nil {
				return fmt.Errorf("seed schedule: %w", err)
			}
			afternoon := &schedule.DoctorSchedule{
				DoctorID:    doc.ID,
				Weekday:     wd,
				Session:     schedule.SessionAfternoon,
				StartTime:   14 * 60,
				EndTime:     17 * 60,
				SlotMinutes: 15,
				MaxPatients: 12,
				Active:      true,
			}
			if err := scheduleSvc.CreateSchedule(ctx, afternoon); err != nil {
				return fmt.Errorf("seed schedule: %w", err)
			}
		}
		logger.Info().Str("doctor", doc.Name).Str("department", dept).Msg("seeded doctor")
	}

	for i := 0; i < 50; i++ {
		gender := "F"
		if faker.Bool() {
			gender = "M"
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO patient (id, name, gender, birth_date, phone, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now(), now())`,
			uuid.New(), faker.Name(), gender,
			faker.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)),
			faker.Phone())
		if err != nil {
			return fmt.Errorf("seed patient: %w", err)
		}
	}
	logger.Info().Int("count", 50).Msg("seeded patients")

	type drugSeed struct {
		name, generic, form, strength, unit string
		price                               float64
	}
	catalog := []drugSeed{
		{"Amoxicillin 500mg Capsule", "Amoxicillin", "capsule", "500mg", "capsule", 0.45},
		{"Paracetamol 500mg Tablet", "Paracetamol", "tablet", "500mg", "tablet", 0.08},
		{"Ibuprofen 400mg Tablet", "Ibuprofen", "tablet", "400mg", "tablet", 0.12},
		{"Omeprazole 20mg Capsule", "Omeprazole", "capsule", "20mg", "capsule", 0.30},
		{"Cetirizine 10mg Tablet", "Cetirizine", "tablet", "10mg", "tablet", 0.10},
		{"Metformin 500mg Tablet", "Metformin", "tablet", "500mg", "tablet", 0.15},
		{"Amlodipine 5mg Tablet", "Amlodipine", "tablet", "5mg", "tablet", 0.20},
		{"Salbutamol Inhaler", "Salbutamol", "inhaler", "100mcg", "inhaler", 6.50},
	}
	today := time.Now()
	for _, ds := range catalog {
		d := &inventory.Drug{
			Name:         ds.name,
			GenericName:  ds.generic,
			Form:         ds.form,
			Strength:     ds.strength,
			Unit:         ds.unit,
			UnitPrice:    ds.price,
			ReorderLevel: 100,
		}
		if err := invSvc.CreateDrug(ctx, d); err != nil {
			return fmt.Errorf("seed drug: %w", err)
		}

		// Two receipts per drug with staggered expiries so FEFO has
		// something to choose between.
		for _, months := range []int{6, 18} {
			qty := faker.Number(200, 600)
			expiry := today.AddDate(0, months, 0)
			if _, err := invSvc.StockIn(ctx, d.ID, qty, expiry, "initial stock", "seed"); err != nil {
				return fmt.Errorf("seed stock: %w", err)
			}
		}
		logger.Info().Str("drug", d.Code).Str("name", d.Name).Msg("seeded drug")
	}

	logger.Info().Msg("seed complete")
	return nil
}
