package geocoding

import (
	"context"
	"io"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immopipe/internal/database"
)

type fetcherFunc func(ctx context.Context, rawURL string, params url.Values) ([]byte, error)

func (f fetcherFunc) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	return f(ctx, rawURL, params)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const lyonFeature = `{
	"features": [{
		"geometry": {"coordinates": [4.8357, 45.7640]},
		"properties": {"postcode": "69003", "citycode": "69383", "context": "69, Rhône, Auvergne-Rhône-Alpes"}
	}]
}`

func TestLocateParsesFeature(t *testing.T) {
	var seenParams url.Values
	svc := NewService(fetcherFunc(func(_ context.Context, _ string, params url.Values) ([]byte, error) {
		seenParams = params
		return []byte(lyonFeature), nil
	}), nil, quietLogger())

	loc, err := svc.Locate(context.Background(), "12 Rue de Paris", "LYON")
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.Equal(t, 45.7640, loc.Latitude)
	assert.Equal(t, 4.8357, loc.Longitude)
	assert.Equal(t, "69003", loc.PostalCode)
	assert.Equal(t, "69383", loc.InseeCode)
	assert.Equal(t, "69, Rhône, Auvergne-Rhône-Alpes", loc.Region)

	assert.Equal(t, "12 Rue de Paris LYON", seenParams.Get("q"))
	assert.Equal(t, "1", seenParams.Get("limit"))
	assert.Equal(t, "housenumber", seenParams.Get("type"))
}

func TestLocateNoResults(t *testing.T) {
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(`{"features": []}`), nil
	}), nil, quietLogger())

	loc, err := svc.Locate(context.Background(), "99 Rue Inconnue", "Nulpart")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestLocateNoData(t *testing.T) {
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		return nil, nil
	}), nil, quietLogger())

	loc, err := svc.Locate(context.Background(), "12 Rue de Paris", "Lyon")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestLocateMalformedResponse(t *testing.T) {
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(`<html>maintenance</html>`), nil
	}), nil, quietLogger())

	loc, err := svc.Locate(context.Background(), "12 Rue de Paris", "Lyon")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestLocateRejectsCoordinatesOutsideFrance(t *testing.T) {
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(`{"features": [{"geometry": {"coordinates": [-74.0060, 40.7128]}, "properties": {}}]}`), nil
	}), nil, quietLogger())

	loc, err := svc.Locate(context.Background(), "12 Rue de Paris", "Lyon")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestLocateUsesCache(t *testing.T) {
	cache, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, cache.RunMigrations())
	defer cache.Close()

	var calls int
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		calls++
		return []byte(lyonFeature), nil
	}), cache, quietLogger())

	first, err := svc.Locate(context.Background(), "12 Rue de Paris", "Lyon")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.Locate(context.Background(), "12 Rue de Paris", "Lyon")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, 1, calls, "second lookup must be served from cache")
	assert.Equal(t, *first, *second)
}

func TestLocateCachesMisses(t *testing.T) {
	cache, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, cache.RunMigrations())
	defer cache.Close()

	var calls int
	svc := NewService(fetcherFunc(func(context.Context, string, url.Values) ([]byte, error) {
		calls++
		return []byte(`{"features": []}`), nil
	}), cache, quietLogger())

	for i := 0; i < 2; i++ {
		loc, err := svc.Locate(context.Background(), "99 Rue Inconnue", "Nulpart")
		require.NoError(t, err)
		assert.Nil(t, loc)
	}
	assert.Equal(t, 1, calls, "a cached miss must not re-query the API")
}
