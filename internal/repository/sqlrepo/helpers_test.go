package sqlrepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gearguard/internal/migrate"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/rbac"
	"github.com/and161185/gearguard/internal/store"
)

// newLocalDB returns a migrated SQLite-backed connection.
func newLocalDB(t *testing.T) *store.Connection {
	t.Helper()
	conn := store.New([]store.Transport{store.Local(filepath.Join(t.TempDir(), "gg.db"))},
		store.Options{BaseDelay: time.Millisecond, Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, migrate.Up(context.Background(), conn, zaptest.NewLogger(t)))
	return conn
}

// newMockDB returns a connection whose remote link is a pgx mock.
func newMockDB(t *testing.T) (*store.Connection, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	conn := store.New([]store.Transport{{Name: "remote", Open: func(context.Context) (store.Link, error) {
		return store.NewPgxLink("remote", mock, nil), nil
	}}}, store.Options{BaseDelay: time.Millisecond, Logger: zaptest.NewLogger(t)})
	return conn, mock
}

func newID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.Must(uuid.NewV7())
}

// seedUser creates an organization and an admin in it.
func seedUser(t *testing.T, db DB, email string) (*model.Organization, *model.User) {
	t.Helper()
	org := &model.Organization{ID: newID(t), Name: "Acme"}
	u := &model.User{
		ID:             newID(t),
		Email:          email,
		PasswordHash:   "$2a$12$hash",
		FirstName:      "Ada",
		LastName:       "Lovelace",
		OrganizationID: org.ID,
		Role:           rbac.RoleAdmin,
		IsActive:       true,
	}
	require.NoError(t, NewUserRepo(db).CreateAccount(context.Background(), org, u))
	return org, u
}
