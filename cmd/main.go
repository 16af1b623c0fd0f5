package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/delivery"
	ws "github.com/avelichko/dreamscribe/internal/delivery/ws"
	"github.com/avelichko/dreamscribe/internal/domain"
	"github.com/avelichko/dreamscribe/internal/infra"
	"github.com/avelichko/dreamscribe/internal/worker"
)

func main() {

	// LOGGER
	zcore, _ := zap.NewProduction()
	defer zcore.Sync()
	logg := zcore.Sugar()

	// ENV
	port := getenv("PORT", "8080")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		panic("DATABASE_URL is not set")
	}

	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		panic("AUTH_SECRET is not set")
	}

	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		panic("S3_BUCKET is not set")
	}

	retryCap := envInt("RETRY_CAP", 3)
	workers := envInt("RECOVERY_WORKERS", 1)
	presignTTL := envDuration("PRESIGN_TTL", time.Hour)
	sweepEvery := envDuration("RECOVERY_SWEEP_INTERVAL", time.Minute)
	staleAfter := envDuration("STALE_PROCESSING_AFTER", 10*time.Minute)

	// POSTGRES
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		panic("cannot connect pgxpool: " + err.Error())
	}
	defer pool.Close()

	ctxPing, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()

	if err := pool.Ping(ctxPing); err != nil {
		panic("postgres ping failed: " + err.Error())
	}

	// GATEWAYS
	storage, err := infra.NewS3StorageGateway(ctx, bucket, presignTTL)
	if err != nil {
		panic("cannot init storage gateway: " + err.Error())
	}
	stt := infra.NewWhisperClient()

	// SERVICES
	authService := domain.NewAuthService(pool, secret)

	repo := infra.NewPostgresRecordingRepo(pool, retryCap)
	assembler := domain.NewAssembler(repo, logg)
	recovery := domain.NewRecoveryService(repo, storage, stt, assembler, retryCap, logg)

	// WORKER POOL
	wpool := worker.NewPool(recovery, repo, worker.Config{
		Workers:       workers,
		SweepInterval: sweepEvery,
		StaleAfter:    staleAfter,
	}, logg)
	wpool.Start(ctx)

	// WS HUB
	hub := ws.NewHub(logg)

	// BROADCAST LISTENER
	go func() {
		for ev := range recovery.Events() {
			payload, err := json.Marshal(map[string]any{
				"segment_id":     ev.SegmentID,
				"sequence_index": ev.SequenceIndex,
				"transcript":     ev.Text,
			})
			if err != nil {
				logg.Errorw("marshal segment event", "err", err)
				continue
			}
			hub.SendToRoom(ev.RecordingID.String(), payload)
		}
	}()

	// HANDLERS
	authHandler := delivery.NewAuthHandler(authService, logg)
	recHandler := delivery.NewRecordingHandler(repo, recovery, assembler, storage, logg)

	// ROUTER
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Auth"},
		AllowCredentials: true,
	}))

	delivery.RegisterRoutes(r, authHandler, authService, recHandler)

	r.Get("/ws", ws.Handler(hub, logg))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	logg.Infow("server started", "port", port)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logg.Errorw("server crashed", "err", err)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(key + " is not a number: " + v)
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(key + " is not a duration: " + v)
	}
	return d
}
