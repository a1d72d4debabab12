//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/sitegen"
	projectpg "github.com/ineyio/sitegen/projects/postgres"
)

func newTestStore(t *testing.T) *projectpg.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/sitegen_test?sslmode=disable"
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx), "postgres not available")
	t.Cleanup(pool.Close)

	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := projectpg.New(pool, projectpg.WithTablePrefix(prefix))
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %[1]schats, %[1]sframes, %[1]sprojects", prefix))
	})
	return s
}

func TestProjectCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sitegen.Project{Name: "portfolio", OwnerID: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	_, err = store.CreateProject(ctx, sitegen.Project{ID: p.ID, OwnerID: "alice"})
	assert.ErrorIs(t, err, sitegen.ErrInvalidRequest)

	got, err := store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)

	list, err := store.ListProjects(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, sitegen.ErrProjectNotFound)
}

func TestFrameAndChatRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreateProject(ctx, sitegen.Project{Name: "shop", OwnerID: "alice"})
	require.NoError(t, err)

	design := sitegen.Bundle{HTML: "<h1>x</h1>", CSS: "h1{}", JS: "x()"}
	f, err := store.CreateFrame(ctx, sitegen.Frame{ProjectID: p.ID, Design: design})
	require.NoError(t, err)

	got, err := store.GetFrame(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, design, got.Design)

	_, err = store.CreateFrame(ctx, sitegen.Frame{ProjectID: "missing"})
	assert.ErrorIs(t, err, sitegen.ErrProjectNotFound)

	msgs := []sitegen.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "done"}}
	require.NoError(t, store.SaveChat(ctx, sitegen.Chat{FrameID: f.ID, OwnerID: "alice", Messages: msgs}))
	chat, err := store.GetChat(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, msgs, chat.Messages)

	assert.ErrorIs(t, store.SaveChat(ctx, sitegen.Chat{FrameID: "missing", OwnerID: "alice"}), sitegen.ErrFrameNotFound)

	require.NoError(t, store.DeleteProject(ctx, p.ID))
	_, err = store.GetFrame(ctx, f.ID)
	assert.ErrorIs(t, err, sitegen.ErrFrameNotFound)
	_, err = store.GetChat(ctx, f.ID)
	assert.ErrorIs(t, err, sitegen.ErrFrameNotFound)
}
