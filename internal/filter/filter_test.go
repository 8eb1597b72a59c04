package filter

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

func datePtr(y int, m time.Month, d int) *models.Date {
	date := models.NewDate(y, m, d)
	return &date
}

// sampleAlerts mirrors the three alerts shown on the dashboard mock.
func sampleAlerts() []models.Alert {
	return []models.Alert{
		{
			ID:          "1",
			Origin:      "GRU",
			Destination: "MAD",
			DateFrom:    datePtr(2024, 3, 1),
			DateTo:      datePtr(2024, 3, 10),
			FlexDays:    3,
			Passengers:  1,
			CabinClass:  models.CabinEconomy,
			MaxMiles:    60000,
			MaxValueBRL: decimal.NewFromInt(3000),
			Status:      models.StatusActive,
			LastOpportunity: &models.Opportunity{
				Miles:    50000,
				TaxesBRL: decimal.RequireFromString("780.50"),
				TotalBRL: decimal.RequireFromString("3200.75"),
				Provider: "LATAM",
				FoundAt:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			},
		},
		{
			ID:          "2",
			Origin:      "GIG",
			Destination: "LIS",
			DateFrom:    datePtr(2024, 4, 15),
			DateTo:      datePtr(2024, 4, 25),
			FlexDays:    7,
			Passengers:  2,
			CabinClass:  models.CabinBusiness,
			MaxMiles:    120000,
			MaxValueBRL: decimal.NewFromInt(6000),
			Status:      models.StatusActive,
		},
		{
			ID:          "3",
			Origin:      "BSB",
			Destination: "MIA",
			DateFrom:    datePtr(2024, 2, 1),
			DateTo:      datePtr(2024, 2, 15),
			Passengers:  1,
			CabinClass:  models.CabinPremium,
			MaxMiles:    80000,
			MaxValueBRL: decimal.NewFromInt(4500),
			Status:      models.StatusPaused,
			LastOpportunity: &models.Opportunity{
				Miles:    75000,
				TaxesBRL: decimal.RequireFromString("1200.00"),
				TotalBRL: decimal.RequireFromString("4100.00"),
				Provider: "Smiles",
				FoundAt:  time.Date(2024, 1, 12, 15, 45, 0, 0, time.UTC),
			},
		},
	}
}

func ids(seq func(func(models.Alert) bool)) []string {
	var out []string
	for a := range seq {
		out = append(out, a.ID)
	}
	return out
}

func TestFilter_IdentityQuery(t *testing.T) {
	alerts := sampleAlerts()
	got := slices.Collect(Filter(alerts, Query{Text: "", Status: StatusAll}))
	assert.Equal(t, alerts, got)
}

func TestFilter_TextIsCaseInsensitive(t *testing.T) {
	got := ids(Filter(sampleAlerts(), Query{Text: "mad", Status: StatusAll}))
	assert.Equal(t, []string{"1"}, got)

	got = ids(Filter(sampleAlerts(), Query{Text: "Gi", Status: StatusAll}))
	assert.Equal(t, []string{"2"}, got)
}

func TestFilter_TextMatchesOriginOrDestination(t *testing.T) {
	got := ids(Filter(sampleAlerts(), Query{Text: "i", Status: StatusAll}))
	assert.Equal(t, []string{"2", "3"}, got)
}

func TestFilter_Status(t *testing.T) {
	alerts := sampleAlerts()
	assert.Equal(t, []string{"1", "2"}, ids(Filter(alerts, Query{Status: StatusActive})))
	assert.Equal(t, []string{"3"}, ids(Filter(alerts, Query{Status: StatusPaused})))
	assert.Empty(t, ids(Filter(alerts, Query{Status: StatusExpired})))
}

func TestFilter_TextAndStatusCombine(t *testing.T) {
	alerts := sampleAlerts()
	assert.Empty(t, ids(Filter(alerts, Query{Text: "mia", Status: StatusActive})))
	assert.Equal(t, []string{"3"}, ids(Filter(alerts, Query{Text: "mia", Status: StatusPaused})))
}

func TestFilter_IsRestartableAndPure(t *testing.T) {
	alerts := sampleAlerts()
	seq := Filter(alerts, Query{Text: "g", Status: StatusAll})

	first := ids(seq)
	second := ids(seq)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"1", "2"}, first)
	assert.Equal(t, sampleAlerts(), alerts)
}

func TestFilter_StopsEarly(t *testing.T) {
	var seen int
	for range Filter(sampleAlerts(), Query{Status: StatusAll}) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestFilter_EmptyInput(t *testing.T) {
	assert.Empty(t, ids(Filter(nil, Query{Text: "gru"})))
}

func TestWhere_CustomPredicate(t *testing.T) {
	business := func(a models.Alert) bool { return a.CabinClass == models.CabinBusiness }
	got := ids(Where(sampleAlerts(), And(MatchStatus(StatusActive), business)))
	assert.Equal(t, []string{"2"}, got)
}

func TestParseStatusFilter(t *testing.T) {
	for in, want := range map[string]StatusFilter{
		"":        StatusAll,
		"all":     StatusAll,
		"Active":  StatusActive,
		"paused":  StatusPaused,
		"expired": StatusExpired,
	} {
		got, err := ParseStatusFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatusFilter("archived")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	stats := Summarize(sampleAlerts())
	assert.Equal(t, models.DashboardStats{TotalAlerts: 3, ActiveAlerts: 2, TotalOpportunities: 2}, stats)
}
