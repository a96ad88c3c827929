package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/collab"
)

type archiveRepository struct {
	db *sqlx.DB
}

var _ collab.ArchiveRepository = (*archiveRepository)(nil)

func NewArchiveRepository(db *sql.DB) collab.ArchiveRepository {
	return &archiveRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *archiveRepository) ArchiveSession(ctx context.Context, arch collab.ArchivedSession) error {
	// completing, rejoining and completing again overwrites the snapshot
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO session_archive (session_id, title, language, text, participants, completed_at)
		VALUES (:session_id, :title, :language, :text, :participants, :completed_at)
		ON CONFLICT (session_id) DO UPDATE
		SET text = EXCLUDED.text, participants = EXCLUDED.participants, completed_at = EXCLUDED.completed_at`,
		arch,
	)
	return errors.Wrap(err, "archiving session")
}

func (repo *archiveRepository) GetArchivedSession(ctx context.Context, sessionID string) (collab.ArchivedSession, error) {
	var arch collab.ArchivedSession
	err := repo.db.GetContext(ctx, &arch,
		`SELECT session_id, title, language, text, participants, completed_at
		 FROM session_archive WHERE session_id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return collab.ArchivedSession{}, collab.ErrSessionNotFound
		}
		return collab.ArchivedSession{}, errors.Wrap(err, "getting archived session")
	}
	return arch, nil
}

func (repo *archiveRepository) DeleteArchivesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM session_archive WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "deleting expired archives")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting expired archives")
	}
	return int(n), nil
}
