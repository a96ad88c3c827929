package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/darasa/core/collab"
)

type archiveRepository struct {
	mu    sync.RWMutex
	table map[string]collab.ArchivedSession
}

var _ collab.ArchiveRepository = (*archiveRepository)(nil)

func NewArchiveRepository() collab.ArchiveRepository {
	return &archiveRepository{table: make(map[string]collab.ArchivedSession)}
}

func (repo *archiveRepository) ArchiveSession(_ context.Context, arch collab.ArchivedSession) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.table[arch.SessionID] = arch
	return nil
}

func (repo *archiveRepository) GetArchivedSession(_ context.Context, sessionID string) (collab.ArchivedSession, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	if arch, ok := repo.table[sessionID]; ok {
		return arch, nil
	}
	return collab.ArchivedSession{}, collab.ErrSessionNotFound
}

func (repo *archiveRepository) DeleteArchivesBefore(_ context.Context, cutoff time.Time) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	var n int
	for id, arch := range repo.table {
		if arch.CompletedAt.Before(cutoff) {
			delete(repo.table, id)
			n++
		}
	}
	return n, nil
}
