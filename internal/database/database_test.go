package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newAlert(owner string, createdAt time.Time) models.Alert {
	from := models.NewDate(2024, 3, 1)
	to := models.NewDate(2024, 3, 10)
	return models.Alert{
		ID:          uuid.New().String(),
		OwnerID:     owner,
		Origin:      "GRU",
		Destination: "MAD",
		DateFrom:    &from,
		DateTo:      &to,
		FlexDays:    3,
		Passengers:  1,
		CabinClass:  models.CabinEconomy,
		MaxMiles:    60000,
		MaxValueBRL: decimal.NewFromInt(3000),
		Status:      models.StatusActive,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		Version:     1,
	}
}

func TestInsertAndGetAlert_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 10, 12, 0, 0, 123, time.UTC)
	alert := newAlert("user-1", created)
	alert.NotifyPhone = "+5511999998888"
	require.NoError(t, db.InsertAlert(ctx, alert))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)

	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, "2024-03-01", got.DateFrom.String())
	assert.Equal(t, "2024-03-10", got.DateTo.String())
	assert.True(t, got.MaxValueBRL.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, "+5511999998888", got.NotifyPhone)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.LastOpportunity)
}

func TestGetAlert_OpenWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alert := newAlert("user-1", time.Now())
	alert.DateFrom = nil
	alert.DateTo = nil
	require.NoError(t, db.InsertAlert(ctx, alert))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DateFrom)
	assert.Nil(t, got.DateTo)
}

func TestGetAlert_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetAlert(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAlert_StoresOpportunity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alert := newAlert("user-1", time.Now())
	require.NoError(t, db.InsertAlert(ctx, alert))

	found := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	alert.LastOpportunity = &models.Opportunity{
		Miles:    50000,
		TaxesBRL: decimal.RequireFromString("780.50"),
		TotalBRL: decimal.RequireFromString("2900.00"),
		Provider: "LATAM",
		FoundAt:  found,
	}
	alert.Version = 2
	alert.UpdatedAt = time.Now()
	require.NoError(t, db.UpdateAlert(ctx, alert, 1))

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastOpportunity)
	assert.Equal(t, int64(50000), got.LastOpportunity.Miles)
	assert.True(t, got.LastOpportunity.TaxesBRL.Equal(decimal.RequireFromString("780.5")))
	assert.True(t, got.LastOpportunity.TotalBRL.Equal(decimal.NewFromInt(2900)))
	assert.Equal(t, "LATAM", got.LastOpportunity.Provider)
	assert.True(t, got.LastOpportunity.FoundAt.Equal(found))
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateAlert_VersionConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alert := newAlert("user-1", time.Now())
	require.NoError(t, db.InsertAlert(ctx, alert))

	alert.Status = models.StatusPaused
	alert.Version = 2
	require.NoError(t, db.UpdateAlert(ctx, alert, 1))

	stale := alert
	stale.Status = models.StatusActive
	stale.Version = 2
	err := db.UpdateAlert(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)
}

func TestUpdateAlert_Missing(t *testing.T) {
	db := setupTestDB(t)
	alert := newAlert("user-1", time.Now())
	err := db.UpdateAlert(context.Background(), alert, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAlertsByOwner_CreationOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	third := newAlert("user-1", base.Add(2*time.Second))
	first := newAlert("user-1", base)
	second := newAlert("user-1", base.Add(500*time.Millisecond))
	other := newAlert("user-2", base.Add(time.Second))

	for _, a := range []models.Alert{third, first, other, second} {
		require.NoError(t, db.InsertAlert(ctx, a))
	}

	alerts, err := db.ListAlertsByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, first.ID, alerts[0].ID)
	assert.Equal(t, second.ID, alerts[1].ID)
	assert.Equal(t, third.ID, alerts[2].ID)

	none, err := db.ListAlertsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListAlertsByStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	active := newAlert("user-1", time.Now())
	paused := newAlert("user-2", time.Now())
	paused.Status = models.StatusPaused
	require.NoError(t, db.InsertAlert(ctx, active))
	require.NoError(t, db.InsertAlert(ctx, paused))

	alerts, err := db.ListAlertsByStatus(ctx, models.StatusActive)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, active.ID, alerts[0].ID)
}

func TestDeleteAlert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alert := newAlert("user-1", time.Now())
	require.NoError(t, db.InsertAlert(ctx, alert))
	require.NoError(t, db.DeleteAlert(ctx, alert.ID))

	_, err := db.GetAlert(ctx, alert.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteAlert(ctx, alert.ID), ErrNotFound)
}
