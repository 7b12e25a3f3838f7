package processor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immopipe/internal/dpe"
	"immopipe/internal/geocoding"
	"immopipe/internal/models"
	"immopipe/internal/store"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func strp(v string) *string { return &v }

func floatp(v float64) *float64 { return &v }

type stubGeocoder struct {
	mu    sync.Mutex
	calls []string
	fn    func(address, city string) (*geocoding.Location, error)
}

func (s *stubGeocoder) Locate(_ context.Context, address, city string) (*geocoding.Location, error) {
	s.mu.Lock()
	s.calls = append(s.calls, address)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(address, city)
	}
	return nil, nil
}

type stubSearcher struct {
	mu     sync.Mutex
	coords []*orb.Point
	fn     func(address string, coords *orb.Point) (*dpe.Result, error)
}

func (s *stubSearcher) Search(_ context.Context, address, _ string, _ time.Time, coords *orb.Point) (*dpe.Result, error) {
	s.mu.Lock()
	s.coords = append(s.coords, coords)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(address, coords)
	}
	return nil, nil
}

type stubSink struct {
	merges int
	err    error
}

func (s *stubSink) MergeRecords(records []*models.PropertyRecord) (store.MergeResult, error) {
	s.merges++
	return store.MergeResult{TotalProcessed: len(records)}, s.err
}

func testFrame(addresses ...string) []*models.PropertyRecord {
	frame := make([]*models.PropertyRecord, len(addresses))
	for i, addr := range addresses {
		frame[i] = &models.PropertyRecord{
			Address:  addr,
			City:     "LYON",
			SaleDate: "15/03/2019",
		}
	}
	return frame
}

func serialEngine(g Geocoder, s Searcher, sink Sink) *Engine {
	return NewEngine(g, s, sink, Options{MaxInFlight: 1, Logger: quietLogger()})
}

func TestEnrichAppliesGeocodingAndDPE(t *testing.T) {
	geocoder := &stubGeocoder{fn: func(address, city string) (*geocoding.Location, error) {
		return &geocoding.Location{
			Latitude:   45.76,
			Longitude:  4.84,
			PostalCode: "69003",
			InseeCode:  "69383",
			Region:     "Auvergne-Rhône-Alpes",
		}, nil
	}}
	searcher := &stubSearcher{fn: func(address string, _ *orb.Point) (*dpe.Result, error) {
		if address == "5 Rue Garibaldi" {
			return &dpe.Result{EnergyClass: strp("C"), GESClass: strp("D")}, nil
		}
		return nil, nil
	}}
	sink := &stubSink{}

	frame := testFrame("5 Rue Garibaldi", "9 Rue Duguesclin")
	ok := serialEngine(geocoder, searcher, sink).Enrich(context.Background(), frame)

	assert.True(t, ok)
	for _, rec := range frame {
		require.NotNil(t, rec.Latitude)
		assert.Equal(t, 45.76, *rec.Latitude)
		require.NotNil(t, rec.PostalCode)
		assert.Equal(t, "69003", *rec.PostalCode)
	}
	require.NotNil(t, frame[0].DPEEnergyClass)
	assert.Equal(t, "C", *frame[0].DPEEnergyClass)
	assert.Nil(t, frame[1].DPEEnergyClass)
	assert.Equal(t, 1, sink.merges)
}

func TestEnrichResumesAfterEnrichedRecords(t *testing.T) {
	geocoder := &stubGeocoder{}
	searcher := &stubSearcher{}
	sink := &stubSink{}

	frame := testFrame("1 Rue A", "2 Rue B", "3 Rue C")
	frame[1].DPEEnergyClass = strp("E")

	ok := serialEngine(geocoder, searcher, sink).Enrich(context.Background(), frame)
	assert.True(t, ok)
	assert.Equal(t, []string{"3 Rue C"}, geocoder.calls)
}

func TestEnrichNothingToDo(t *testing.T) {
	geocoder := &stubGeocoder{}
	sink := &stubSink{}

	frame := testFrame("1 Rue A")
	frame[0].DPEEnergyClass = strp("B")

	ok := serialEngine(geocoder, &stubSearcher{}, sink).Enrich(context.Background(), frame)
	assert.True(t, ok)
	assert.Empty(t, geocoder.calls)
	assert.Zero(t, sink.merges)
}

func TestEnrichFlushesEveryBatch(t *testing.T) {
	geocoder := &stubGeocoder{fn: func(string, string) (*geocoding.Location, error) {
		return &geocoding.Location{Latitude: 45.76, Longitude: 4.84}, nil
	}}
	sink := &stubSink{}
	engine := NewEngine(geocoder, &stubSearcher{}, sink, Options{
		MaxInFlight:   1,
		SaveBatchSize: 2,
		Logger:        quietLogger(),
	})

	// Five enriched records at batch size two: flushes after the second and
	// fourth, once more for the trailing update.
	ok := engine.Enrich(context.Background(), testFrame("a", "b", "c", "d", "e"))
	assert.True(t, ok)
	assert.Equal(t, 3, sink.merges)
}

func TestEnrichGeocodeFailureStillSearchesDPE(t *testing.T) {
	geocoder := &stubGeocoder{} // always misses
	searcher := &stubSearcher{fn: func(string, *orb.Point) (*dpe.Result, error) {
		return &dpe.Result{EnergyClass: strp("F")}, nil
	}}
	sink := &stubSink{}

	frame := testFrame("42 Rue Introuvable")
	ok := serialEngine(geocoder, searcher, sink).Enrich(context.Background(), frame)

	assert.True(t, ok)
	require.Len(t, searcher.coords, 1)
	assert.Nil(t, searcher.coords[0])
	require.NotNil(t, frame[0].DPEEnergyClass)
	assert.Equal(t, "F", *frame[0].DPEEnergyClass)
	assert.Nil(t, frame[0].Latitude)
}

func TestEnrichReusesExistingCoordinates(t *testing.T) {
	geocoder := &stubGeocoder{}
	searcher := &stubSearcher{}
	sink := &stubSink{}

	frame := testFrame("1 Place Carnot")
	frame[0].Latitude = floatp(45.7485)
	frame[0].Longitude = floatp(4.8262)

	ok := serialEngine(geocoder, searcher, sink).Enrich(context.Background(), frame)
	assert.True(t, ok)
	assert.Empty(t, geocoder.calls)
	require.Len(t, searcher.coords, 1)
	require.NotNil(t, searcher.coords[0])
	assert.Equal(t, orb.Point{4.8262, 45.7485}, *searcher.coords[0])
}

func TestEnrichCancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := serialEngine(&stubGeocoder{}, &stubSearcher{}, &stubSink{}).
		Enrich(ctx, testFrame("1 Rue A", "2 Rue B"))
	assert.False(t, ok)
}

func TestEnrichSinkFailureReported(t *testing.T) {
	geocoder := &stubGeocoder{fn: func(string, string) (*geocoding.Location, error) {
		return &geocoding.Location{Latitude: 45.76, Longitude: 4.84}, nil
	}}
	sink := &stubSink{err: assert.AnError}

	ok := serialEngine(geocoder, &stubSearcher{}, sink).
		Enrich(context.Background(), testFrame("1 Rue A"))
	assert.False(t, ok)
}

func TestResumeIndex(t *testing.T) {
	assert.Equal(t, 0, resumeIndex(nil))

	frame := testFrame("a", "b", "c")
	assert.Equal(t, 0, resumeIndex(frame))

	frame[0].ThermalSurface = floatp(72)
	assert.Equal(t, 1, resumeIndex(frame))

	frame[2].DPEEnergyClass = strp("A")
	assert.Equal(t, 3, resumeIndex(frame))
}
