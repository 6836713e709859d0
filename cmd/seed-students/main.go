package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/database"
	"github.com/sentineledu/sentinel-backend/internal/logger"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	var count int
	var password string
	flag.IntVar(&count, "count", 50, "Number of students to seed")
	flag.StringVar(&password, "password", "changeme", "Initial password for all seeded students")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	fmt.Printf("=== Seeding %d Students ===\n", count)

	// One bcrypt per run, not per student. Seeded accounts share
	// the initial password anyway.
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	successCount := 0
	for i := 0; i < count; i++ {
		student := &model.Student{
			Username:     fmt.Sprintf("student%03d", i+1),
			Name:         fmt.Sprintf("Test Student %d", i+1),
			PasswordHash: string(hashedPassword),
		}

		err := studentRepo.Create(ctx, student)
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			fmt.Printf("Skipping %s: already exists\n", student.Username)
		case err != nil:
			fmt.Printf("Error creating student %s: %v\n", student.Username, err)
		default:
			successCount++
			if (i+1)%10 == 0 {
				fmt.Printf("Created %d students...\n", i+1)
			}
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, count)
}
