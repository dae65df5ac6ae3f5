package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/auth"
	"vault_router/internal/config"
	"vault_router/internal/models"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// init-tenant provisions a tenant and its bootstrap API token. The
// plaintext token is printed exactly once; only hashes are stored.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	name := os.Getenv("TENANT_BOOTSTRAP_NAME")
	if name == "" {
		fmt.Fprintln(os.Stderr, "ERROR: TENANT_BOOTSTRAP_NAME must be set")
		os.Exit(1)
	}
	region := os.Getenv("TENANT_BOOTSTRAP_REGION")
	tier := os.Getenv("TENANT_BOOTSTRAP_TIER")
	if tier == "" {
		tier = string(models.BudgetTierStandard)
	}
	if !models.BudgetTier(tier).Valid() {
		fmt.Fprintf(os.Stderr, "ERROR: Unknown budget tier %q\n", tier)
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		TokenCacheSize:  10,
		TokenCacheTTL:   5 * time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := storage.NewTenantRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tenant := &models.Tenant{
		ID:               uuid.New(),
		Name:             name,
		ComplianceRegion: region,
		DefaultTier:      tier,
		Enabled:          true,
	}
	if err := repo.Create(ctx, tenant); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create tenant: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created tenant %s (%s)\n", tenant.Name, tenant.ID)

	plaintext, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to generate token: %v\n", err)
		os.Exit(1)
	}
	argonHash, err := auth.HashBootstrapToken(plaintext)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash token: %v\n", err)
		os.Exit(1)
	}

	token := &models.TenantToken{
		ID:        uuid.New(),
		TenantID:  tenant.ID,
		TokenHash: utils.HashString(plaintext),
		ArgonHash: argonHash,
		Scopes:    auth.AllScopes,
		Enabled:   true,
	}
	if err := repo.CreateToken(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to store token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Bootstrap token (shown once, store it now):")
	fmt.Println()
	fmt.Printf("  %s\n", plaintext)
	fmt.Println()
	fmt.Printf("Scopes: %v\n", token.Scopes)
}
