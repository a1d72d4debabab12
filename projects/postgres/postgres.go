// Package postgres provides a PostgreSQL-backed ProjectStore for sitegen.
//
// Frame designs and chat transcripts are stored as JSONB. Frames and chats
// reference their parent with ON DELETE CASCADE, so deleting a project is a
// single statement.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/sitegen"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store is a PostgreSQL-backed ProjectStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ sitegen.ProjectStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "sitegen_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed ProjectStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "sitegen_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) projectsTable() string { return s.tablePrefix + "projects" }
func (s *Store) framesTable() string   { return s.tablePrefix + "frames" }
func (s *Store) chatsTable() string    { return s.tablePrefix + "chats" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			project_id TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			owner_id   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_owner_idx ON %[1]s (owner_id);

		CREATE TABLE IF NOT EXISTS %[2]s (
			frame_id    TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES %[1]s (project_id) ON DELETE CASCADE,
			design_code JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[2]s_project_idx ON %[2]s (project_id);

		CREATE TABLE IF NOT EXISTS %[3]s (
			frame_id   TEXT PRIMARY KEY REFERENCES %[2]s (frame_id) ON DELETE CASCADE,
			owner_id   TEXT NOT NULL,
			messages   JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.projectsTable(), s.framesTable(), s.chatsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

func (s *Store) CreateProject(ctx context.Context, p sitegen.Project) (sitegen.Project, error) {
	if p.ID == "" {
		p.ID = sitegen.NewProjectID()
	}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (project_id, name, owner_id) VALUES ($1, $2, $3)
			RETURNING created_at, updated_at`, s.projectsTable()),
		p.ID, p.Name, p.OwnerID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sitegen.Project{}, fmt.Errorf("%w: project id already in use", sitegen.ErrInvalidRequest)
		}
		return sitegen.Project{}, unavailable("create project", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, projectID string) (sitegen.Project, error) {
	p := sitegen.Project{ID: projectID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT name, owner_id, created_at, updated_at FROM %s WHERE project_id = $1`, s.projectsTable()),
		projectID,
	).Scan(&p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sitegen.Project{}, sitegen.ErrProjectNotFound
	}
	if err != nil {
		return sitegen.Project{}, unavailable("get project", err)
	}
	return p, nil
}

// ListProjects returns the owner's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]sitegen.Project, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT project_id, name, owner_id, created_at, updated_at FROM %s
			WHERE owner_id = $1 ORDER BY created_at DESC`, s.projectsTable()),
		ownerID,
	)
	if err != nil {
		return nil, unavailable("list projects", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sitegen.Project, error) {
		var p sitegen.Project
		err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, unavailable("list projects", err)
	}
	return out, nil
}

func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1`, s.projectsTable()),
		projectID,
	)
	if err != nil {
		return unavailable("delete project", err)
	}
	if tag.RowsAffected() == 0 {
		return sitegen.ErrProjectNotFound
	}
	return nil
}

// CreateFrame inserts the frame and bumps the project's updated_at in one transaction.
func (s *Store) CreateFrame(ctx context.Context, f sitegen.Frame) (sitegen.Frame, error) {
	if f.ID == "" {
		f.ID = sitegen.NewFrameID()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var now time.Time
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`UPDATE %s SET updated_at = now() WHERE project_id = $1 RETURNING updated_at`, s.projectsTable()),
			f.ProjectID,
		).Scan(&now)
		if errors.Is(err, pgx.ErrNoRows) {
			return sitegen.ErrProjectNotFound
		}
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (frame_id, project_id, design_code) VALUES ($1, $2, $3)
				RETURNING created_at`, s.framesTable()),
			f.ID, f.ProjectID, f.Design,
		).Scan(&f.CreatedAt)
	})
	if errors.Is(err, sitegen.ErrProjectNotFound) {
		return sitegen.Frame{}, err
	}
	if err != nil {
		return sitegen.Frame{}, unavailable("create frame", err)
	}
	return f, nil
}

func (s *Store) GetFrame(ctx context.Context, frameID string) (sitegen.Frame, error) {
	f := sitegen.Frame{ID: frameID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT project_id, design_code, created_at FROM %s WHERE frame_id = $1`, s.framesTable()),
		frameID,
	).Scan(&f.ProjectID, &f.Design, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sitegen.Frame{}, sitegen.ErrFrameNotFound
	}
	if err != nil {
		return sitegen.Frame{}, unavailable("get frame", err)
	}
	return f, nil
}

// ListFrames returns the project's frames, oldest first.
func (s *Store) ListFrames(ctx context.Context, projectID string) ([]sitegen.Frame, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT frame_id, project_id, design_code, created_at FROM %s
			WHERE project_id = $1 ORDER BY created_at, frame_id`, s.framesTable()),
		projectID,
	)
	if err != nil {
		return nil, unavailable("list frames", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sitegen.Frame, error) {
		var f sitegen.Frame
		err := row.Scan(&f.ID, &f.ProjectID, &f.Design, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, unavailable("list frames", err)
	}
	return out, nil
}

func (s *Store) UpdateFrameDesign(ctx context.Context, frameID string, design sitegen.Bundle) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET design_code = $2 WHERE frame_id = $1`, s.framesTable()),
		frameID, design,
	)
	if err != nil {
		return unavailable("update frame", err)
	}
	if tag.RowsAffected() == 0 {
		return sitegen.ErrFrameNotFound
	}
	return nil
}

// SaveChat upserts the chat keyed by frame id. An existing created_at is kept.
func (s *Store) SaveChat(ctx context.Context, c sitegen.Chat) error {
	messages := c.Messages
	if messages == nil {
		messages = []sitegen.Message{}
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (frame_id, owner_id, messages) VALUES ($1, $2, $3)
			ON CONFLICT (frame_id) DO UPDATE SET owner_id = EXCLUDED.owner_id, messages = EXCLUDED.messages`,
			s.chatsTable()),
		c.FrameID, c.OwnerID, messages,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return sitegen.ErrFrameNotFound
		}
		return unavailable("save chat", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, frameID string) (sitegen.Chat, error) {
	c := sitegen.Chat{FrameID: frameID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT owner_id, messages, created_at FROM %s WHERE frame_id = $1`, s.chatsTable()),
		frameID,
	).Scan(&c.OwnerID, &c.Messages, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sitegen.Chat{}, sitegen.ErrFrameNotFound
	}
	if err != nil {
		return sitegen.Chat{}, unavailable("get chat", err)
	}
	return c, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sitegen/postgres: %s: %w: %w", op, sitegen.ErrStoreUnavailable, err)
}
