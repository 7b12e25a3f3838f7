package dpe

import (
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immopipe/internal/database"
)

type scriptedFetcher struct {
	calls   []string
	params  []url.Values
	respond func(rawURL string, params url.Values) []byte
}

func (f *scriptedFetcher) Get(_ context.Context, rawURL string, params url.Values) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	f.params = append(f.params, params)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(rawURL, params), nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var sale2019 = time.Date(2019, time.March, 15, 0, 0, 0, 0, time.UTC)
var sale2022 = time.Date(2022, time.April, 2, 0, 0, 0, 0, time.UTC)

const v1Body = `{"total": 2, "results": [
	{
		"geo_adresse": "12 rue de paris 69003 lyon",
		"geo_score": 0.55,
		"classe_consommation_energie": "G",
		"tr002_type_batiment_description": "Logement"
	},
	{
		"geo_adresse": "12 rue de paris 69003 lyon",
		"geo_score": 0.95,
		"classe_consommation_energie": "D",
		"classe_estimation_ges": "E",
		"consommation_energie": 210.5,
		"estimation_ges": 45.2,
		"tr002_type_batiment_description": "Logement",
		"annee_construction": 1975,
		"surface_thermique_lot": 52.3,
		"date_etablissement_dpe": "2020-05-12",
		"latitude": 45.7640,
		"longitude": 4.8357
	}
]}`

func TestSearchMapsHistoricalFields(t *testing.T) {
	fetcher := &scriptedFetcher{respond: func(string, url.Values) []byte { return []byte(v1Body) }}
	svc := NewService(fetcher, nil, quietLogger())

	coords := orb.Point{4.8357, 45.7640}
	result, err := svc.Search(context.Background(), "12 Rue de Paris", "Lyon", sale2019, &coords)
	require.NoError(t, err)
	require.NotNil(t, result)

	// The first candidate fails the geo_score bar, the second wins.
	require.NotNil(t, result.EnergyClass)
	assert.Equal(t, "D", *result.EnergyClass)
	assert.Equal(t, "E", *result.GESClass)
	assert.Equal(t, 210.5, *result.EnergyConsumption)
	assert.Equal(t, 45.2, *result.GESEstimate)
	assert.Equal(t, 0.95, *result.GeoScore)
	assert.Equal(t, 1975, *result.ConstructionYear)
	assert.Equal(t, 52.3, *result.ThermalSurface)
	assert.Equal(t, "Logement", *result.BuildingType)
	assert.Equal(t, "2020-05-12", *result.Date)

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, baseURL+"dpe-france/lines", fetcher.calls[0])

	params := fetcher.params[0]
	assert.Equal(t, "12 Rue de Paris", params.Get("q"))
	assert.Equal(t, "10", params.Get("size"))
	assert.Contains(t, params.Get("select"), "classe_consommation_energie")
	assert.Equal(t, "-geo_score,-date_etablissement_dpe", params.Get("sort"))
	assert.Equal(t, "4.8357:45.764:100", params.Get("geo_distance"))
}

func TestSearchMapsV2Fields(t *testing.T) {
	existantsBody := `{"results": []}`
	neufsBody := `{"results": [{
		"adresse_ban": "8 avenue foch 69006 lyon",
		"etiquette_dpe": "C",
		"etiquette_ges": "D",
		"conso_5_usages_par_m2_ep": 150,
		"emission_ges_5_usages_par_m2": 12,
		"type_batiment": "maison",
		"surface_habitable_logement": 95,
		"annee_construction": 2021,
		"date_etablissement_dpe": "2022-02-01",
		"_geopoint": "45.7700,4.7900",
		"_score": 12.3
	}]}`

	fetcher := &scriptedFetcher{respond: func(rawURL string, _ url.Values) []byte {
		if rawURL == baseURL+"dpe-v2-logements-existants/lines" {
			return []byte(existantsBody)
		}
		return []byte(neufsBody)
	}}
	svc := NewService(fetcher, nil, quietLogger())

	coords := orb.Point{4.7900, 45.7700}
	result, err := svc.Search(context.Background(), "8 Avenue Foch", "Lyon", sale2022, &coords)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "C", *result.EnergyClass)
	assert.Equal(t, "D", *result.GESClass)
	assert.Equal(t, 150.0, *result.EnergyConsumption)
	assert.Equal(t, 12.0, *result.GESEstimate)
	assert.Equal(t, "maison", *result.BuildingType)
	assert.Equal(t, 95.0, *result.ThermalSurface)
	assert.Equal(t, 2021, *result.ConstructionYear)
	assert.Equal(t, 12.3, *result.Score)

	// Priority order: existants before neufs.
	assert.Equal(t, []string{
		baseURL + "dpe-v2-logements-existants/lines",
		baseURL + "dpe-v2-logements-neufs/lines",
	}, fetcher.calls)
}

func TestSearchRejectsInvalidCandidates(t *testing.T) {
	body := `{"results": [
		{"geo_adresse": "14 rue de paris 69003 lyon", "geo_score": 0.95, "tr002_type_batiment_description": "Logement"},
		{"geo_adresse": "12 rue de paris 38000 grenoble", "geo_score": 0.95, "tr002_type_batiment_description": "Logement"},
		{"geo_adresse": "12 rue de paris 69003 lyon", "geo_score": 0.95, "tr002_type_batiment_description": "Local commercial"},
		{"geo_adresse": "12 rue de paris 69003 lyon", "geo_score": 0.95, "tr002_type_batiment_description": "Logement",
		 "latitude": 45.7740, "longitude": 4.8357}
	]}`
	fetcher := &scriptedFetcher{respond: func(string, url.Values) []byte { return []byte(body) }}
	svc := NewService(fetcher, nil, quietLogger())

	// Wrong house number, wrong city, non-residential building, and a
	// candidate more than a kilometer away: all rejected.
	coords := orb.Point{4.8357, 45.7640}
	result, err := svc.Search(context.Background(), "12 Rue de Paris", "Lyon", sale2019, &coords)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Len(t, fetcher.calls, 1, "a clean pass without a match must not be retried")
}

func TestSearchRetriesWhenAllEndpointsSilent(t *testing.T) {
	fetcher := &scriptedFetcher{} // always returns nil bodies
	svc := NewService(fetcher, nil, quietLogger())

	result, err := svc.Search(context.Background(), "12 Rue de Paris", "Lyon", sale2019, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Len(t, fetcher.calls, maxSearchAttempts)
}

func TestSearchUsesCache(t *testing.T) {
	cache, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, cache.RunMigrations())
	defer cache.Close()

	fetcher := &scriptedFetcher{respond: func(string, url.Values) []byte { return []byte(v1Body) }}
	svc := NewService(fetcher, cache, quietLogger())

	first, err := svc.Search(context.Background(), "12 Rue de Paris", "Lyon", sale2019, nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.Search(context.Background(), "12 Rue de Paris", "Lyon", sale2019, nil)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Len(t, fetcher.calls, 1, "second search must be served from cache")
	assert.Equal(t, *first, *second)
}

func TestSearchCachesMisses(t *testing.T) {
	cache, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, cache.RunMigrations())
	defer cache.Close()

	fetcher := &scriptedFetcher{respond: func(string, url.Values) []byte {
		return []byte(`{"results": []}`)
	}}
	svc := NewService(fetcher, cache, quietLogger())

	for i := 0; i < 2; i++ {
		result, err := svc.Search(context.Background(), "99 Rue Inconnue", "Nulpart", sale2019, nil)
		require.NoError(t, err)
		assert.Nil(t, result)
	}
	assert.Len(t, fetcher.calls, 1)
}
