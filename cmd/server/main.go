package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/handlers"
	"github.com/careerpilot/careerpilot/internal/mailer"
	"github.com/careerpilot/careerpilot/internal/middleware"
	"github.com/careerpilot/careerpilot/internal/repository"
	"github.com/careerpilot/careerpilot/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown LOG_LEVEL, keeping info")
	}

	users, otps, err := initStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	sender, err := initSender(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize mailer")
	}

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	limiter := service.NewRedisRateLimiter(redisClient, cfg.OTP.Cooldown, cfg.OTP.Window, cfg.OTP.MaxPerWindow, logger)
	otpService := service.NewOTPService(users, otps, sender, limiter, jwtService, &cfg.OTP, logger)
	refreshTokenService := service.NewRefreshTokenService(redisClient, logger)
	accountService := service.NewAccountService(users, jwtService, service.NewResetGrants(redisClient), refreshTokenService, logger)

	authHandlers := handlers.NewAuthHandlers(otpService, accountService, jwtService, refreshTokenService, logger)
	userHandlers := handlers.NewUserHandlers(accountService, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)
	router := handlers.NewRouter(authHandlers, userHandlers, authMiddleware, cfg.Server.AllowedOrigin, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Server.Port,
			"store": cfg.Store.Driver,
			"mail":  cfg.Mail.Driver,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return
	}

	logger.Info("Server exited")
}

func initStore(cfg *config.Config, logger *logrus.Logger) (service.UserStore, service.OTPStore, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data is lost on restart")
		store := repository.NewMemoryStore()
		return store, store, nil
	}

	client, err := initDynamoDB(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	return repository.NewUserRepository(client, cfg.DynamoDB.TableName, logger),
		repository.NewOTPRepository(client, cfg.DynamoDB.TableName, logger),
		nil
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"table":    cfg.DynamoDB.TableName,
		"endpoint": cfg.DynamoDB.Endpoint,
	}).Info("DynamoDB client initialized")
	return client, nil
}

func initSender(cfg *config.Config, logger *logrus.Logger) (service.OTPSender, error) {
	if cfg.Mail.Driver == config.MailDriverLog {
		logger.Warn("MAIL_DRIVER=log, OTP codes are written to the log instead of emailed")
		return mailer.NewLogSender(cfg.OTP.Expiry, logger), nil
	}
	return mailer.NewSMTPSender(&cfg.Mail, cfg.OTP.Expiry, logger)
}
