package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"racing_service/internal/api"
	"racing_service/internal/auth"
	"racing_service/internal/collectible"
	"racing_service/internal/config"
	"racing_service/internal/jobs"
	"racing_service/internal/ledger"
	"racing_service/internal/race"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Error loading .env file", err)
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}

	if cfg.AuthAllowUnverified {
		log.Warn("AUTH_ALLOW_UNVERIFIED is set: envelopes are accepted WITHOUT signature validation")
	}

	db, err := gorm.Open(postgres.Open(cfg.DBConnStr), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}

	err = db.AutoMigrate(
		&ledger.Account{},
		&ledger.Transaction{},
		&collectible.Fragment{},
		&collectible.CraftedNft{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	horses, err := race.LoadCatalog(cfg.HorsesFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load competitor catalog")
	}

	ledgerRepo := ledger.NewRepositoryImpl(db, cfg.StartingBalance)
	ledgerService := ledger.NewService(ledgerRepo, cfg.AdRewardAmount)
	collectibleRepo := collectible.NewRepositoryImpl(db)
	collectibleService := collectible.NewService(db, collectibleRepo, ledgerRepo, cfg.CraftThreshold)

	verifier := auth.NewVerifier(cfg.TelegramBotToken, cfg.AuthAllowUnverified)
	rnd := race.NewLockedSource(time.Now().UnixNano())
	sim := race.NewSimulator(rnd)

	scheduler := jobs.NewScheduler(ledgerRepo, cfg.StartingBalance)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	handler := api.NewHandler(
		verifier,
		ledgerService,
		collectibleService,
		sim,
		horses,
		rnd,
		cfg.FragmentDropRate,
		cfg.NftTypeCount,
	)

	log.Infof("Server started on :%s", cfg.Port)
	if err := handler.Router().Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}
