package gakujo

import (
	"context"
	"testing"

	"gakujo-backend/lib/kvstore"
	scraper "gakujo-backend/lib/scrapers/gakujo"
	"gakujo-backend/lib/secret"
	"gakujo-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) Service {
	cleanup := telemetry.SetupForTesting(t, "test:services/gakujo")
	t.Cleanup(cleanup)

	database, err := kvstore.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store, err := kvstore.NewStore(database)
	require.NoError(t, err)

	client, err := scraper.NewClient(&scraper.Account{}, scraper.ClientOptions{
		SchoolYear:   2026,
		SemesterCode: 0,
		DownloadDir:  t.TempDir(),
	})
	require.NoError(t, err)

	key := secret.DeriveKey([]byte("correct horse"), []byte("gakujo-test"))
	return NewService(client, store, nil, key, Config{})
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	service := testService(t)

	ok, err := service.RestoreAccount(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	service.Account().Username = "s20261234"
	service.Account().Password = "hunter2"
	service.Account().AccessEnvironmentKey = "Access-Environment-Cookie-1"
	service.Account().AccessEnvironmentValue = "deadbeef"
	service.persistAccount(ctx)

	// the stored document must never contain the raw credential
	var raw map[string]any
	ok, err = service.store.Load(ctx, accountKey, &raw)
	require.NoError(t, err)
	require.True(t, ok)
	stored, _ := raw["Password"].(string)
	require.NotEqual(t, "hunter2", stored)
	require.True(t, secret.IsProtected(stored))

	*service.Account() = scraper.Account{}
	ok, err = service.RestoreAccount(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s20261234", service.Account().Username)
	require.Equal(t, "hunter2", service.Account().Password)
	require.Equal(t, "deadbeef", service.Account().AccessEnvironmentValue)
}

func TestEnsureSessionWithoutCredentials(t *testing.T) {
	service := testService(t)
	require.ErrorIs(t, service.ensureSession(context.Background()), ErrNoCredentials)
}

func TestRegistrationDrafts(t *testing.T) {
	ctx := context.Background()
	service := testService(t)

	drafts, err := service.LoadRegistrationDrafts(ctx)
	require.NoError(t, err)
	require.Empty(t, drafts)

	plan := []scraper.RegistrationEntry{{
		WeekdayPeriod: "月1･2",
		SubjectsName:  "データ構造とアルゴリズム",
		ClassName:     "Ａ",
	}}
	require.NoError(t, service.SaveRegistrationDrafts(ctx, plan))

	drafts, err = service.LoadRegistrationDrafts(ctx)
	require.NoError(t, err)
	require.Equal(t, plan, drafts)
}

func TestTermKey(t *testing.T) {
	service := testService(t)
	require.Equal(t, "reports_2026_1", service.termKey("reports"))
}
