package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	ledger "purifier-cloud/internal/ledger/domain"
)

// LedgerRepository is an in-memory ledger for demo/testing.
type LedgerRepository struct {
	mu      sync.Mutex
	entries map[string]*ledger.Entry
}

// NewLedgerRepository constructs a repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		entries: make(map[string]*ledger.Entry),
	}
}

// Add registers a manufactured device id as unclaimed.
func (r *LedgerRepository) Add(ctx context.Context, deviceID string) error {
	_ = ctx
	if deviceID == "" {
		return errors.New("memory ledger repo: empty device id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[deviceID]; ok {
		return nil
	}
	r.entries[deviceID] = &ledger.Entry{DeviceID: deviceID}
	return nil
}

// Get loads a ledger entry by device id.
func (r *LedgerRepository) Get(ctx context.Context, deviceID string) (*ledger.Entry, error) {
	_ = ctx
	if deviceID == "" {
		return nil, errors.New("memory ledger repo: empty device id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[deviceID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

// Claim performs the atomic claim transition under the repository lock.
func (r *LedgerRepository) Claim(ctx context.Context, deviceID, userID string) error {
	_ = ctx
	if deviceID == "" || userID == "" {
		return errors.New("memory ledger repo: empty claim args")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[deviceID]
	if !ok {
		return ledger.ErrNotFound
	}
	if entry.Claimed() {
		return ledger.ErrAlreadyClaimed
	}
	now := time.Now().UTC()
	entry.ClaimedAt = &now
	entry.ClaimedByUserID = userID
	return nil
}

// Release resets the entry to unclaimed.
func (r *LedgerRepository) Release(ctx context.Context, deviceID string) error {
	_ = ctx
	if deviceID == "" {
		return errors.New("memory ledger repo: empty device id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[deviceID]
	if !ok {
		return ledger.ErrNotFound
	}
	if !entry.Claimed() {
		return ledger.ErrNotClaimed
	}
	entry.ClaimedAt = nil
	entry.ClaimedByUserID = ""
	return nil
}
