package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/sentineledu/sentinel-backend/internal/config"
	"github.com/sentineledu/sentinel-backend/internal/database"
	"github.com/sentineledu/sentinel-backend/internal/logger"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Student ===")

	// Username
	fmt.Print("Enter Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		fmt.Println("Error: Username is required")
		return
	}

	// Name
	fmt.Print("Enter Full Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 4 {
		fmt.Println("Error: Password must be at least 4 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	// Hash Password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	newStudent := &model.Student{
		Username:     username,
		Name:         name,
		PasswordHash: string(hashedPassword),
	}

	// Create Student
	if err := studentRepo.Create(ctx, newStudent); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			fmt.Printf("Error: username '%s' is already taken\n", username)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create student")
	}

	fmt.Printf("\nSuccess! Student '%s' (%s) created with ID: %d\n", newStudent.Name, newStudent.Username, newStudent.ID)
}
