package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/oncoscan/internal/auth"
	"github.com/example/oncoscan/internal/handlers"
	"github.com/example/oncoscan/internal/logging"
	"github.com/example/oncoscan/internal/repository"
	"github.com/example/oncoscan/internal/scorer"
	"github.com/example/oncoscan/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	db := initDatabase(ctx, logger)
	records := repository.NewRecordRepository(db)
	users := repository.NewUserRepository(db)
	if err := records.AutoMigrate(ctx); err != nil {
		logger.Fatal("record migration failed", zap.Error(err))
	}
	if err := users.AutoMigrate(ctx); err != nil {
		logger.Fatal("user migration failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, logger)
	cache := usecase.NewRedisCache(redisClient)

	model := loadModel(ctx, logger)

	pipeline := usecase.NewInferencePipeline(records, cache, model, logger)

	jwtSecret := getEnv("JWT_SECRET", "dev-secret")
	accounts := usecase.NewAccounts(users, jwtSecret, logger)
	authMiddleware := auth.JWTMiddleware(jwtSecret, os.Getenv("JWT_AUDIENCE"))

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, pipeline, accounts, model, authMiddleware)

	server := &http.Server{
		Addr:    getEnv("HTTP_ADDR", ":8080"),
		Handler: r,
	}

	logger.Info("diagnostic API listening", zap.String("addr", server.Addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, zapLogger *zap.Logger) *gorm.DB {
	dsn := getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=oncoscan port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Info)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, zapLogger *zap.Logger) *redis.Client {
	addr := getEnv("REDIS_ADDR", "redis:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// loadModel probes the model server once at startup. A missing model is a
// reportable "not ready" state, not a crash: the handle stays empty and
// predictions fail with 503 until the process restarts with a live model.
func loadModel(ctx context.Context, logger *zap.Logger) *scorer.Handle {
	model := scorer.NewHandle()

	serverURL := getEnv("MODEL_SERVER_URL", "http://model-server:8501")
	modelName := getEnv("MODEL_NAME", "pancreas_scan")
	tf := scorer.NewTFServingScorer(serverURL, modelName, logger)

	readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readyCancel()
	if err := tf.Ready(readyCtx); err != nil {
		logger.Warn("diagnostic model unavailable, predictions will be rejected",
			zap.String("model", modelName),
			zap.Error(err),
		)
		return model
	}

	model.Load(tf)
	logger.Info("diagnostic model loaded", zap.String("model", modelName))
	return model
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
