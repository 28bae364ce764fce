package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/metrics"
	"recruitment-sync-service/internal/store"
)

const ConflictSameTimestamp = "same_timestamp"

// sheetWins is the only place that decides between a sheet row and a stored
// record. Timestamps are compared at millisecond precision; ties go to the store.
func sheetWins(sheetTS, storeTS time.Time, exists bool) bool {
	if !exists {
		return true
	}
	return sheetTS.After(storeTS)
}

// ConflictManager records rows whose timestamp ties with the stored record
// while their content differs. Each distinct conflict is recorded once per process.
type ConflictManager struct {
	store store.StateStore

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewConflictManager(state store.StateStore) *ConflictManager {
	return &ConflictManager{
		store: state,
		seen:  make(map[string]struct{}),
	}
}

// Record returns true when the conflict was new and got persisted.
func (cm *ConflictManager) Record(ctx context.Context, stream, key string, storeData, sheetData []string) (bool, error) {
	storeHash := calculateHash(storeData)
	sheetHash := calculateHash(sheetData)
	dedup := stream + "|" + key + "|" + storeHash + "|" + sheetHash

	cm.mu.Lock()
	if _, ok := cm.seen[dedup]; ok {
		cm.mu.Unlock()
		return false, nil
	}
	cm.seen[dedup] = struct{}{}
	cm.mu.Unlock()

	storeBytes, _ := json.Marshal(storeData)
	sheetBytes, _ := json.Marshal(sheetData)

	conflict := &store.Conflict{
		ID:         uuid.New().String(),
		Stream:     stream,
		Key:        key,
		StoreData:  string(storeBytes),
		SheetData:  string(sheetBytes),
		Type:       ConflictSameTimestamp,
		DetectedAt: time.Now().UTC(),
	}
	if err := cm.store.CreateConflict(ctx, conflict); err != nil {
		cm.mu.Lock()
		delete(cm.seen, dedup)
		cm.mu.Unlock()
		return false, err
	}

	metrics.SyncConflicts.WithLabelValues(stream).Inc()
	logger.Log.Warn("Conflict detected, keeping stored record",
		zap.String("stream", stream),
		zap.String("key", key),
	)
	return true, nil
}

func calculateHash(data []string) string {
	bytes, _ := json.Marshal(data)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}
