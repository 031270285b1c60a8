package repository

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/db"
	"querygate/internal/domain"
)

func i64(n int64) *int64 { return &n }

func TestPrincipalRepo_CreateAndGet(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewPrincipalRepo(writeDB)
	ctx := context.Background()

	created, err := repo.Create(ctx, &domain.Principal{Name: "alice", IsAdmin: true})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsAdmin)

	got, err := repo.GetByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = repo.GetByName(ctx, "nobody")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	// Names are unique.
	_, err = repo.Create(ctx, &domain.Principal{Name: "alice"})
	require.Error(t, err)
}

func TestGroupRepo_Membership(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	principals := NewPrincipalRepo(writeDB)
	groups := NewGroupRepo(writeDB)
	ctx := context.Background()

	alice, err := principals.Create(ctx, &domain.Principal{Name: "alice"})
	require.NoError(t, err)

	analysts, err := groups.Create(ctx, &domain.Group{Name: "analysts", Description: "ad-hoc analysts"})
	require.NoError(t, err)
	ops, err := groups.Create(ctx, &domain.Group{Name: "ops"})
	require.NoError(t, err)

	require.NoError(t, groups.AddMember(ctx, analysts.ID, alice.ID))
	require.NoError(t, groups.AddMember(ctx, ops.ID, alice.ID))
	// Duplicate membership is a no-op.
	require.NoError(t, groups.AddMember(ctx, analysts.ID, alice.ID))

	ids, err := groups.GroupIDsForPrincipal(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{analysts.ID, ops.ID}, ids)
}

func TestAccessRuleRepo_ListOrdering(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	groups := NewGroupRepo(writeDB)
	rules := NewAccessRuleRepo(writeDB)
	ctx := context.Background()

	g1, err := groups.Create(ctx, &domain.Group{Name: "g1"})
	require.NoError(t, err)
	g2, err := groups.Create(ctx, &domain.Group{Name: "g2"})
	require.NoError(t, err)

	// Insert out of order; listing must come back ordered by (group, profile).
	for _, r := range []domain.AccessRule{
		{GroupID: g2.ID, DatasourceID: "dwh", CredentialProfile: "ro", CanQuery: true, ReadOnly: true, MaxRows: i64(100)},
		{GroupID: g1.ID, DatasourceID: "dwh", CredentialProfile: "rw", CanQuery: true},
		{GroupID: g1.ID, DatasourceID: "dwh", CredentialProfile: "ro", CanQuery: true, MaxRuntimeSeconds: i64(0)},
		{GroupID: g1.ID, DatasourceID: "other", CredentialProfile: "ro", CanQuery: true},
	} {
		rule := r
		_, err := rules.Create(ctx, &rule)
		require.NoError(t, err)
	}

	got, err := rules.ListForDatasource(ctx, "dwh")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, g1.ID, got[0].GroupID)
	assert.Equal(t, "ro", got[0].CredentialProfile)
	assert.Equal(t, "rw", got[1].CredentialProfile)
	assert.Equal(t, g2.ID, got[2].GroupID)

	// Tri-state limits survive the round trip.
	require.NotNil(t, got[0].MaxRuntimeSeconds)
	assert.Zero(t, *got[0].MaxRuntimeSeconds)
	assert.Nil(t, got[0].MaxRows)
	require.NotNil(t, got[2].MaxRows)
	assert.Equal(t, int64(100), *got[2].MaxRows)
}

func TestAuditRepo_InsertAndList(t *testing.T) {
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewAuditRepo(writeDB)
	ctx := context.Background()

	ds := "dwh"
	hash := "abc123"
	require.NoError(t, repo.Insert(ctx, &domain.AuditEntry{
		Actor:        "alice",
		Action:       domain.AuditQuerySubmit,
		Status:       domain.AuditAllowed,
		DatasourceID: &ds,
		QueryHash:    &hash,
	}))
	require.NoError(t, repo.Insert(ctx, &domain.AuditEntry{
		Actor:  "bob",
		Action: domain.AuditQueryCancel,
		Status: domain.AuditDenied,
	}))

	entries, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Most recent first.
	assert.Equal(t, "bob", entries[0].Actor)
	assert.Equal(t, "alice", entries[1].Actor)
	require.NotNil(t, entries[1].DatasourceID)
	assert.Equal(t, "dwh", *entries[1].DatasourceID)
	assert.Nil(t, entries[0].DatasourceID)
}
