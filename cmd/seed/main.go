// seed inserts development sample data: one organization per category, each with an admin.
// Idempotent: skips everything if the first dev admin already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditrepo "inclusion-platform/backend/internal/audit/repository"
	"inclusion-platform/backend/internal/config"
	"inclusion-platform/backend/internal/db"
	identityrepo "inclusion-platform/backend/internal/identity/repository"
	"inclusion-platform/backend/internal/logger"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	membershiprepo "inclusion-platform/backend/internal/membership/repository"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
	orgservice "inclusion-platform/backend/internal/organization/service"
	"inclusion-platform/backend/internal/security"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userrepo "inclusion-platform/backend/internal/user/repository"
	userservice "inclusion-platform/backend/internal/user/service"
)

const devPassword = "Inclusion-Dev-2024"

type seedOrg struct {
	org   orgservice.CreateInput
	admin userservice.SignupForm
}

var seeds = []seedOrg{
	{
		org:   orgservice.CreateInput{Name: "ACI Les Jardins de Cocagne", Kind: "ACI", Siret: "12345678900011", AuthEmail: "contact@jardins.example"},
		admin: userservice.SignupForm{Email: "employeur@inclusion.example", FirstName: "Jeanne", LastName: "Martin"},
	},
	{
		org:   orgservice.CreateInput{Name: "Mission locale de Lille", Kind: "ML", AuthEmail: "accueil@ml-lille.example"},
		admin: userservice.SignupForm{Email: "prescripteur@inclusion.example", FirstName: "Paul", LastName: "Durand"},
	},
	{
		org:   orgservice.CreateInput{Name: "DDETS du Nord", Kind: "DDETS", AuthEmail: "ddets-59@inclusion.example"},
		admin: userservice.SignupForm{Email: "labor-inspector@inclusion.example", FirstName: "Claire", LastName: "Petit"},
	},
}

// An organization with no member, to try the first-member signup by magic link.
var emptyOrg = orgservice.CreateInput{Name: "EI Sans Membre", Kind: "EI", Siret: "98765432100019", AuthEmail: "vide@ei.example"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, Output: "stdout", Development: true})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("db", zap.Error(err))
	}
	defer conn.Close()
	ctx := context.Background()

	users := userrepo.NewPostgresRepository(conn)
	existing, err := users.GetByEmail(ctx, seeds[0].admin.Email)
	if err != nil {
		zlog.Fatal("seed check", zap.Error(err))
	}
	if existing != nil {
		zlog.Info("seed already applied; skipping", zap.String("email", existing.Email))
		return
	}

	orgRepo := orgrepo.NewPostgresRepository(conn)
	memberships := membershiprepo.NewPostgresRepository(conn)
	orgs := orgservice.NewService(orgRepo, audit.NewLogger(auditrepo.NewPostgresRepository(conn), nil, zlog), zlog)
	registrar := userservice.NewRegistrar(users, identityrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	tx := db.NewTxManager(conn)

	for _, s := range seeds {
		o, err := orgs.Create(ctx, s.org)
		if err != nil {
			zlog.Fatal("create organization", zap.String("name", s.org.Name), zap.Error(err))
		}
		if err := addAdmin(ctx, tx, registrar, orgRepo, memberships, o, s.admin); err != nil {
			zlog.Fatal("create admin", zap.String("email", s.admin.Email), zap.Error(err))
		}
		zlog.Info("seeded", zap.String("org", o.Name), zap.String("admin", s.admin.Email), zap.String("secret_code", o.SecretCode))
	}
	if _, err := orgs.Create(ctx, emptyOrg); err != nil {
		zlog.Fatal("create organization", zap.String("name", emptyOrg.Name), zap.Error(err))
	}
	zlog.Info("seed done", zap.String("password", devPassword))
}

func addAdmin(ctx context.Context, tx *db.TxManager, registrar *userservice.Registrar, orgRepo *orgrepo.PostgresRepository,
	memberships *membershiprepo.PostgresRepository, o *orgdomain.Org, form userservice.SignupForm) error {
	role, err := userdomain.RoleForCategory(o.Category)
	if err != nil {
		return err
	}
	form.Password1, form.Password2 = devPassword, devPassword
	account, err := registrar.Prepare(form, role)
	if err != nil {
		return err
	}
	return tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := registrar.Create(ctx, account)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := memberships.CreateMembership(ctx, &membershipdomain.Membership{
			ID: uuid.New().String(), UserID: u.ID, OrgID: o.ID,
			IsAdmin: true, IsActive: true, JoinedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		_, err = orgRepo.BumpMembersVersion(ctx, o.ID)
		return err
	})
}
