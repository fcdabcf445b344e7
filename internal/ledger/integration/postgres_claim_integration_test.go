package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	ledger "purifier-cloud/internal/ledger/domain"
	ledgerpostgres "purifier-cloud/internal/ledger/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestLedgerClaim_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "device_ledger") {
		t.Skip("device_ledger missing; run migrations")
	}

	ctx := context.Background()
	deviceID := "device-claim-it"
	_, _ = db.ExecContext(ctx, "DELETE FROM device_ledger WHERE device_id = $1", deviceID)

	repo := ledgerpostgres.NewLedgerRepository(db)
	if err := repo.Add(ctx, deviceID); err != nil {
		t.Fatalf("add: %v", err)
	}

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan string, contenders)
	for i := 0; i < contenders; i++ {
		userID := "user-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.Claim(ctx, deviceID, userID); err == nil {
				wins <- userID
			} else if !errors.Is(err, ledger.ErrAlreadyClaimed) {
				t.Errorf("claim %s: %v", userID, err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}

	entry, err := repo.Get(ctx, deviceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.ClaimedByUserID != winners[0] || entry.ClaimedAt == nil {
		t.Fatalf("entry does not record the winner: %+v", entry)
	}

	if err := repo.Release(ctx, deviceID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := repo.Release(ctx, deviceID); !errors.Is(err, ledger.ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed on double release, got %v", err)
	}
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name).Scan(&exists)
	return err == nil && exists
}
