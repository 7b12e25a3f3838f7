package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "properties.csv"), quietLogger())
	require.NoError(t, err)
	return s
}

// steppingClock advances one second per call so successive merges get
// strictly increasing timestamps.
func steppingClock(start time.Time) func() time.Time {
	calls := 0
	return func() time.Time {
		calls++
		return start.Add(time.Duration(calls) * time.Second)
	}
}

func rawListings() *Table {
	return &Table{
		Header: []string{
			"complete_address", "city_name", "mutation_date", "property_type",
			"surface_area", "price", "rooms",
		},
		Rows: []map[string]string{
			{
				"complete_address": "12 Rue de la République",
				"city_name":        "LYON",
				"mutation_date":    "15/03/2019",
				"property_type":    "Appartement",
				"surface_area":     "65.5",
				"price":            "250000",
				"rooms":            "3",
			},
			{
				"complete_address": "4 Impasse des Lilas",
				"city_name":        "VILLEURBANNE",
				"mutation_date":    "02/07/2020",
				"property_type":    "Maison",
				"surface_area":     "98",
				"price":            "310000",
				"rooms":            "5",
			},
		},
	}
}

func TestNormalizeAndMergeRenamesAndAssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	result, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalProcessed: 2, Updated: 0, Added: 2}, result)

	records, err := s.Query("")
	require.NoError(t, err)
	require.Len(t, records, 2)

	lyon := records[0]
	assert.Equal(t, "12 Rue de la République", lyon.Address)
	assert.Equal(t, "LYON", lyon.City)
	assert.Equal(t, "15/03/2019", lyon.SaleDate)
	assert.Equal(t, "Appartement", lyon.Type)
	require.NotNil(t, lyon.Surface)
	assert.Equal(t, 65.5, *lyon.Surface)
	require.NotNil(t, lyon.Price)
	assert.Equal(t, 250000, *lyon.Price)

	assert.NotEmpty(t, records[0].UUID)
	assert.NotEmpty(t, records[1].UUID)
	assert.NotEqual(t, records[0].UUID, records[1].UUID)
	assert.NotEmpty(t, records[0].LastModified)
}

func TestMergeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.now = steppingClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	before, err := s.Query("")
	require.NoError(t, err)

	result, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalProcessed: 2, Updated: 2, Added: 0}, result)
	assert.Equal(t, 2, s.Count())

	after, err := s.Query("")
	require.NoError(t, err)
	for i := range after {
		assert.Equal(t, before[i].UUID, after[i].UUID)
		// The timestamp layout orders lexicographically.
		assert.Greater(t, after[i].LastModified, before[i].LastModified)
	}
}

func TestMergeMatchesByUUIDFirst(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	records, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	require.Len(t, records, 1)

	moved := &Table{
		Header: []string{"uuid", "address", "city", "sale_date", "price"},
		Rows: []map[string]string{{
			"uuid":      records[0].UUID,
			"address":   "99 Avenue Jean Jaurès",
			"city":      "LYON",
			"sale_date": "15/03/2019",
			"price":     "260000",
		}},
	}
	result, err := s.NormalizeAndMerge(moved)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalProcessed: 1, Updated: 1, Added: 0}, result)
	assert.Equal(t, 2, s.Count())

	updated, err := s.Query("address == '99 Avenue Jean Jaurès'")
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, records[0].UUID, updated[0].UUID)
	require.NotNil(t, updated[0].Price)
	assert.Equal(t, 260000, *updated[0].Price)
}

func TestMergeFallsBackToCompositeKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	records, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	require.Len(t, records, 1)

	repriced := rawListings()
	repriced.Rows = repriced.Rows[:1]
	repriced.Rows[0]["price"] = "275000"

	result, err := s.NormalizeAndMerge(repriced)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalProcessed: 1, Updated: 1, Added: 0}, result)

	updated, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, records[0].UUID, updated[0].UUID)
	require.NotNil(t, updated[0].Price)
	assert.Equal(t, 275000, *updated[0].Price)
}

func TestMergeKeepsUnknownInputUUID(t *testing.T) {
	s := newTestStore(t)
	imported := &Table{
		Header: []string{"uuid", "address", "city", "sale_date"},
		Rows: []map[string]string{{
			"uuid":      "0f0e96d1-3bb1-4a07-9f68-2f4c713ac2a5",
			"address":   "7 Rue Pasteur",
			"city":      "TOURS",
			"sale_date": "10/01/2021",
		}},
	}
	result, err := s.NormalizeAndMerge(imported)
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalProcessed: 1, Updated: 0, Added: 1}, result)

	records, err := s.Query("")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "0f0e96d1-3bb1-4a07-9f68-2f4c713ac2a5", records[0].UUID)
}

func TestMissingRequiredColumnsFailWithoutMutation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	fileBefore, err := os.ReadFile(s.path)
	require.NoError(t, err)

	bad := &Table{
		Header: []string{"address", "city"},
		Rows:   []map[string]string{{"address": "1 Rue Neuve", "city": "LILLE"}},
	}
	_, err = s.NormalizeAndMerge(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns: sale_date")

	assert.Equal(t, 2, s.Count())
	fileAfter, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Equal(t, fileBefore, fileAfter)
}

func TestInvalidSaleDateFailsWholeCall(t *testing.T) {
	s := newTestStore(t)
	table := rawListings()
	table.Rows[1]["mutation_date"] = "2020-07-02"

	_, err := s.NormalizeAndMerge(table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "invalid sale_date")
	assert.Equal(t, 0, s.Count())
}

func TestMalformedNumericBecomesNull(t *testing.T) {
	s := newTestStore(t)
	table := rawListings()
	table.Rows[0]["surface_area"] = "soixante-cinq"

	_, err := s.NormalizeAndMerge(table)
	require.NoError(t, err)

	records, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Surface)
	require.NotNil(t, records[0].Price)
}

func TestLegacyDPEAndZipcodeColumnsRename(t *testing.T) {
	s := newTestStore(t)
	table := &Table{
		Header: []string{
			"address", "city", "sale_date", "zipcode",
			"dpe_classe_consommation_energie", "dpe_tr002_type_batiment_description",
			"dpe__geopoint", "estimation_status",
		},
		Rows: []map[string]string{{
			"address":                             "3 Place Bellecour",
			"city":                                "LYON",
			"sale_date":                           "20/11/2018",
			"zipcode":                             "69002",
			"dpe_classe_consommation_energie":     "D",
			"dpe_tr002_type_batiment_description": "Logement",
			"dpe__geopoint":                       "45.75,4.83",
			"estimation_status":                   "SUCCESS",
		}},
	}
	_, err := s.NormalizeAndMerge(table)
	require.NoError(t, err)

	records, err := s.Query("")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].PostalCode)
	assert.Equal(t, "69002", *records[0].PostalCode)
	require.NotNil(t, records[0].DPEEnergyClass)
	assert.Equal(t, "D", *records[0].DPEEnergyClass)
	require.NotNil(t, records[0].BuildingType)
	assert.Equal(t, "Logement", *records[0].BuildingType)
}

func TestQueryFiltersAndCopies(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)

	lyon, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	assert.Len(t, lyon, 1)

	cheap, err := s.Query("price < 300000")
	require.NoError(t, err)
	assert.Len(t, cheap, 1)

	_, err = s.Query("price <")
	require.Error(t, err)

	// Mutating a query result must not touch the store.
	lyon[0].Address = "corrupted"
	*lyon[0].Price = -1
	again, err := s.Query("city == 'LYON'")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "12 Rue de la République", again[0].Address)
	assert.Equal(t, 250000, *again[0].Price)
}

func TestDeleteRemovesExactlyMatchingRows(t *testing.T) {
	s := newTestStore(t)
	table := rawListings()
	table.Rows = append(table.Rows, map[string]string{
		"complete_address": "2 Rue Basse",
		"city_name":        "SAINT-ETIENNE",
		"mutation_date":    "05/05/2021",
		"property_type":    "Appartement",
		"surface_area":     "40",
		"price":            "90000",
	})
	_, err := s.NormalizeAndMerge(table)
	require.NoError(t, err)

	expensive, err := s.Query("price >= 100000")
	require.NoError(t, err)
	require.Len(t, expensive, 2)

	result, err := s.Delete("price < 100000")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{OriginalCount: 3, DeletedCount: 1, RemainingCount: 2}, result)

	remaining, err := s.Query("")
	require.NoError(t, err)
	assert.Equal(t, expensive, remaining)

	// The file was rewritten; a fresh store must agree.
	reopened, err := New(s.path, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())
}

func TestDeleteWithoutMatchesDoesNotRewrite(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	fileBefore, err := os.ReadFile(s.path)
	require.NoError(t, err)

	result, err := s.Delete("price > 99000000")
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{OriginalCount: 2, DeletedCount: 0, RemainingCount: 2}, result)

	fileAfter, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Equal(t, fileBefore, fileAfter)

	_, err = s.Delete("")
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)

	empty := s.Summary()
	assert.Equal(t, 0, empty.TotalEntries)
	assert.Nil(t, empty.DateRange)
	assert.Empty(t, empty.Cities)

	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)

	sum := s.Summary()
	assert.Equal(t, 2, sum.TotalEntries)
	require.NotNil(t, sum.DateRange)
	assert.Equal(t, "15/03/2019", sum.DateRange.Oldest)
	assert.Equal(t, "02/07/2020", sum.DateRange.Newest)
	assert.Equal(t, []string{"LYON", "VILLEURBANNE"}, sum.Cities)
	assert.GreaterOrEqual(t, sum.StorageSizeMB, 0.0)
}

func TestReopenPreservesRecords(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)
	before, err := s.Query("")
	require.NoError(t, err)

	reopened, err := New(s.path, quietLogger())
	require.NoError(t, err)
	after, err := reopened.Query("")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFlushLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(s.path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "properties.csv", entries[0].Name())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NormalizeAndMerge(rawListings())
	require.NoError(t, err)

	frame := s.Snapshot()
	require.Len(t, frame, 2)
	frame[0].Address = "scribbled"
	*frame[0].Price = -1

	records, err := s.Query("")
	require.NoError(t, err)
	assert.Equal(t, "12 Rue de la République", records[0].Address)
	assert.Equal(t, 250000, *records[0].Price)
}
