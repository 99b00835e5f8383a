// seed creates the initial admin user for a fresh deployment.
// Idempotent: does nothing if a user with the admin email already exists.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"cloudbalance/backend/internal/config"
	"cloudbalance/backend/internal/db"
	"cloudbalance/backend/internal/security"
	"cloudbalance/backend/internal/user/domain"
	userrepo "cloudbalance/backend/internal/user/repository"
)

func main() {
	email := flag.String("email", "admin@cloudbalance.com", "Admin email")
	password := flag.String("password", "ChangeMe!123", "Admin password; change it after first login")
	firstName := flag.String("first-name", "Platform", "Admin first name")
	lastName := flag.String("last-name", "Admin", "Admin last name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, *email)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Printf("seed: %s already exists, nothing to do", *email)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(*password))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}
	admin := &domain.User{
		Email:        *email,
		FirstName:    *firstName,
		LastName:     *lastName,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := users.Create(ctx, admin); err != nil {
		log.Fatalf("seed: create admin: %v", err)
	}
	log.Printf("seed: created admin user %s (id %d)", admin.Email, admin.ID)
}
