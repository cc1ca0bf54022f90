package worker

import (
	"context"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/execute"
)

// Syncer is satisfied by execute.Executor.
type Syncer interface {
	Sync(ctx context.Context, productID int64, events []domain.OutboxEvent) execute.Result
	SyncBatch(ctx context.Context, groups map[int64][]domain.OutboxEvent) map[int64]execute.Result
}
