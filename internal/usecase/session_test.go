package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/swissql-sub000/internal/domain"
)

func TestSessionService_Connect_OpensSessionAndPool(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessions()
	pool, mock := newSQLMockPool(t, "sess-1", domain.DBTypePostgres)
	pools := &fakePools{pool: pool}
	svc := NewSessionService(slog.Default(), sessions, pools, &fakeContexts{})

	mock.ExpectQuery("split_part").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("16.3"))

	res, err := svc.Connect(context.Background(), "postgres://app:secret@db:5432/inv", "", domain.ConnectOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", res.Session.ID)
	assert.Equal(t, domain.DBTypePostgres, res.Session.DBType)
	assert.True(t, res.Session.Options.ReadOnly)
	assert.Equal(t, "16.3", res.ServerVersion)
	assert.Equal(t, 1, pools.gets)
	assert.Empty(t, sessions.closed)
}

func TestSessionService_Connect_NormalizesDialectAlias(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessions()
	pool, _ := newSQLMockPool(t, "sess-1", domain.DBTypePostgres)
	svc := NewSessionService(slog.Default(), sessions, &fakePools{pool: pool}, &fakeContexts{})

	// No version expectation set: the probe fails and connect still succeeds.
	res, err := svc.Connect(context.Background(), "host=db dbname=inv", "postgresql", domain.ConnectOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.DBTypePostgres, res.Session.DBType)
	assert.Empty(t, res.ServerVersion)
}

func TestSessionService_Connect_RequiresDSN(t *testing.T) {
	t.Parallel()
	svc := NewSessionService(slog.Default(), newFakeSessions(), &fakePools{}, &fakeContexts{})
	_, err := svc.Connect(context.Background(), "   ", "postgres", domain.ConnectOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSessionService_Connect_RejectsUnknownDialect(t *testing.T) {
	t.Parallel()
	svc := NewSessionService(slog.Default(), newFakeSessions(), &fakePools{}, &fakeContexts{})
	_, err := svc.Connect(context.Background(), "db2://host/db", "db2", domain.ConnectOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSessionService_Connect_RequiresInferableDialect(t *testing.T) {
	t.Parallel()
	svc := NewSessionService(slog.Default(), newFakeSessions(), &fakePools{}, &fakeContexts{})
	_, err := svc.Connect(context.Background(), "some-opaque-string", "", domain.ConnectOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSessionService_Connect_PoolFailureRollsSessionBack(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessions()
	pools := &fakePools{err: fmt.Errorf("%w: validate postgres pool: dial refused", domain.ErrConnectionFailure)}
	svc := NewSessionService(slog.Default(), sessions, pools, &fakeContexts{})

	_, err := svc.Connect(context.Background(), "postgres://db/inv", "", domain.ConnectOptions{})
	require.ErrorIs(t, err, domain.ErrConnectionFailure)
	require.Len(t, sessions.created, 1)
	assert.Equal(t, []string{sessions.created[0].ID}, sessions.closed)
}

func TestSessionService_Disconnect_ClosesSessionAndContext(t *testing.T) {
	t.Parallel()
	sessions := newFakeSessions(domain.Session{ID: "sess-9", DBType: domain.DBTypeMySQL})
	contexts := &fakeContexts{}
	svc := NewSessionService(slog.Default(), sessions, &fakePools{}, contexts)

	require.NoError(t, svc.Disconnect(context.Background(), "sess-9"))
	assert.Equal(t, []string{"sess-9"}, sessions.closed)
	assert.Equal(t, []string{"sess-9"}, contexts.cleared)
}

func TestSessionService_Disconnect_UnknownSession(t *testing.T) {
	t.Parallel()
	contexts := &fakeContexts{}
	svc := NewSessionService(slog.Default(), newFakeSessions(), &fakePools{}, contexts)

	err := svc.Disconnect(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Empty(t, contexts.cleared)
}

func TestSessionService_Disconnect_RequiresSessionID(t *testing.T) {
	t.Parallel()
	svc := NewSessionService(slog.Default(), newFakeSessions(), &fakePools{}, &fakeContexts{})
	require.ErrorIs(t, svc.Disconnect(context.Background(), ""), domain.ErrInvalidArgument)
}
