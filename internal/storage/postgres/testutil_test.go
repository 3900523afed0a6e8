package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	// Run migrations
	runMigrations(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// runMigrations applies all SQL migrations from internal/storage/migrations/postgres.
func runMigrations(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	// Find project root by looking for go.mod
	projectRoot := findProjectRoot(t)
	migrationsDir := filepath.Join(projectRoot, "internal", "storage", "migrations", "postgres")

	// Read migration files
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err, "failed to read migrations directory")

	// Sort files by name (001_, 002_, etc.)
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	// Execute each migration
	for _, file := range files {
		filePath := filepath.Join(migrationsDir, file)
		sql, err := os.ReadFile(filePath)
		require.NoError(t, err, "failed to read migration file: %s", file)

		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "failed to execute migration: %s", file)

		t.Logf("Applied migration: %s", file)
	}
}

// findProjectRoot walks up from current directory to find go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	// Start from the current working directory
	dir, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}

// seedWallet inserts a token row and a wallet with the given entry amount.
func seedWallet(t *testing.T, ctx context.Context, pool *Pool, walletID int64, entryUSD float64) *domain.Wallet {
	t.Helper()

	w := &domain.Wallet{
		WalletID:       walletID,
		Address:        fmt.Sprintf("Wallet%03dAddress", walletID),
		KeyRef:         fmt.Sprintf("wallet-%d", walletID),
		EntryAmountUSD: entryUSD,
	}
	require.NoError(t, NewWalletStore(pool).Insert(ctx, w))
	return w
}

// seedToken inserts an active token.
func seedToken(t *testing.T, ctx context.Context, pool *Pool, tokenID string) {
	t.Helper()

	require.NoError(t, NewTokenStore(pool).Insert(ctx, &domain.Token{
		TokenID:   tokenID,
		Mint:      "Mint" + tokenID,
		Decimals:  6,
		Active:    true,
		CreatedAt: 1700000000000,
	}))
}

// openPosition binds walletID to tokenID and opens its position in one transaction.
func openPosition(t *testing.T, ctx context.Context, pool *Pool, walletID int64, tokenID string, iteration int64) *domain.Position {
	t.Helper()

	p := &domain.Position{
		WalletID:          walletID,
		TokenID:           tokenID,
		EntryIteration:    iteration,
		EntryAmountUSD:    10,
		EntryPriceUSD:     0.5,
		EntryAmountTokens: decimal.RequireFromString("123456789.123456789"),
		EntrySignature:    fmt.Sprintf("sig-entry-%d-%s-%d", walletID, tokenID, iteration),
		OpenedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
	err := NewUnitOfWork(pool).WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPosition(ctx, p); err != nil {
			return err
		}
		return tx.SetActiveToken(ctx, walletID, &tokenID)
	})
	require.NoError(t, err)
	return p
}
