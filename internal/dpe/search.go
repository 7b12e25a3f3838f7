package dpe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"immopipe/internal/address"
	"immopipe/internal/database"
	"immopipe/internal/geometry"
)

const (
	minGeoScore       = 0.8
	maxMatchDistance  = 100.0 // meters
	maxSearchAttempts = 3
	pageSize          = 10
)

// Residential building types across dataset generations; the v1 dataset uses
// capitalized descriptions, the v2 datasets lowercase categories.
var allowedBuildingTypes = map[string]bool{
	"Maison Individuelle": true,
	"Logement":            true,
	"Bâtiment collectif à usage principal d'habitation": true,
	"maison":      true,
	"appartement": true,
	"immeuble":    true,
}

// Fetcher issues a paced GET and returns the body, or nil when the call
// yielded no data.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Result holds the canonical energy-diagnostic fields of a validated match.
// Fields absent from the source dataset stay nil.
type Result struct {
	EnergyClass       *string  `json:"dpe_energy_class,omitempty"`
	GESClass          *string  `json:"dpe_ges_class,omitempty"`
	EnergyConsumption *float64 `json:"energy_consumption,omitempty"`
	GESEstimate       *float64 `json:"dpe_ges_estimate,omitempty"`
	Score             *float64 `json:"dpe_score,omitempty"`
	GeoScore          *float64 `json:"dpe_geo_score,omitempty"`
	ConstructionYear  *int     `json:"construction_year,omitempty"`
	ThermalSurface    *float64 `json:"thermal_surface,omitempty"`
	BuildingType      *string  `json:"building_type,omitempty"`
	Date              *string  `json:"dpe_date,omitempty"`
}

type Service struct {
	logger  *logrus.Logger
	fetcher Fetcher
	cache   *database.Cache
	baseURL string
}

// NewService creates a DPE search service. The cache may be nil, in which
// case every search goes to the API.
func NewService(fetcher Fetcher, cache *database.Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		logger:  logger,
		fetcher: fetcher,
		cache:   cache,
		baseURL: baseURL,
	}
}

type searchResponse struct {
	Results []map[string]any `json:"results"`
}

// Search looks for a validated DPE record for the property. Endpoints
// applicable to the sale date are queried in priority order and the first
// candidate passing validation wins. coords, when known, narrows the query
// to a 100m radius and double-checks the candidate's distance. A nil Result
// with a nil error means no diagnostic was found.
func (s *Service) Search(ctx context.Context, addr, city string, saleDate time.Time, coords *orb.Point) (*Result, error) {
	key := database.Key(addr, city)

	if s.cache != nil {
		cached, err := s.cache.GetDPE(key)
		if err != nil {
			s.logger.WithError(err).Warn("DPE cache read failed")
		} else if cached != nil {
			if !cached.Found {
				return nil, nil
			}
			var r Result
			if err := json.Unmarshal(cached.Payload, &r); err != nil {
				s.logger.WithError(err).Warn("Corrupt DPE cache payload, re-querying")
			} else {
				return &r, nil
			}
		}
	}

	applicable := ApplicableEndpoints(saleDate)

	// A full pass with responses but no validated match is final. Passes
	// where every endpoint came back empty-handed are retried, since that
	// usually means the proxy was having a bad moment.
	for attempt := 0; attempt < maxSearchAttempts; attempt++ {
		sawData := false
		for _, endpoint := range applicable {
			body, err := s.fetcher.Get(ctx, s.baseURL+endpoint.Name, queryParams(endpoint, addr, coords))
			if err != nil {
				return nil, err
			}
			if body == nil {
				continue
			}
			sawData = true

			if result := s.pickMatch(body, addr, city, coords, endpoint.Name); result != nil {
				s.storeHit(key, result)
				return result, nil
			}
		}
		if sawData {
			break
		}
	}

	s.storeMiss(key)
	return nil, nil
}

func queryParams(e Endpoint, addr string, coords *orb.Point) url.Values {
	params := url.Values{
		"q":    []string{addr},
		"size": []string{strconv.Itoa(pageSize)},
	}
	if len(e.Select) > 0 {
		params.Set("select", strings.Join(e.Select, ","))
	}
	if e.Sort != "" {
		params.Set("sort", e.Sort)
	}
	if coords != nil {
		params.Set("geo_distance", fmt.Sprintf("%s:%s:%d",
			strconv.FormatFloat((*coords)[0], 'f', -1, 64),
			strconv.FormatFloat((*coords)[1], 'f', -1, 64),
			int(maxMatchDistance)))
	}
	return params
}

// pickMatch walks the endpoint's candidates and returns the first one that
// survives validation.
func (s *Service) pickMatch(body []byte, addr, city string, coords *orb.Point, endpointName string) *Result {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.logger.WithError(err).WithField("endpoint", endpointName).Error("Failed to parse DPE response")
		return nil
	}

	for _, raw := range resp.Results {
		candidate := firstString(raw, "geo_adresse", "adresse_ban", "adresse_brut")
		if candidate == nil {
			continue
		}
		if !address.Matches(addr, *candidate, city) {
			continue
		}
		if score := firstFloat(raw, "geo_score"); score != nil && *score < minGeoScore {
			continue
		}
		if bt := firstString(raw, "tr002_type_batiment_description", "type_batiment"); bt != nil && !allowedBuildingTypes[*bt] {
			continue
		}
		if coords != nil {
			if lat, lon, ok := candidateCoords(raw); ok {
				if geometry.DistanceMeters((*coords)[1], (*coords)[0], lat, lon) > maxMatchDistance {
					continue
				}
			}
		}

		s.logger.WithFields(logrus.Fields{
			"endpoint": endpointName,
			"address":  *candidate,
		}).Debug("Validated DPE match")
		return buildResult(raw)
	}
	return nil
}

func buildResult(raw map[string]any) *Result {
	r := &Result{
		EnergyClass:       firstString(raw, "classe_consommation_energie", "etiquette_dpe"),
		GESClass:          firstString(raw, "classe_estimation_ges", "etiquette_ges"),
		EnergyConsumption: firstFloat(raw, "consommation_energie", "conso_5_usages_par_m2_ep"),
		GESEstimate:       firstFloat(raw, "estimation_ges", "emission_ges_5_usages_par_m2"),
		Score:             firstFloat(raw, "_score"),
		GeoScore:          firstFloat(raw, "geo_score"),
		ThermalSurface:    firstFloat(raw, "surface_thermique_lot", "surface_habitable_logement"),
		BuildingType:      firstString(raw, "tr002_type_batiment_description", "type_batiment"),
		Date:              firstString(raw, "date_etablissement_dpe"),
	}
	if year := firstFloat(raw, "annee_construction"); year != nil {
		y := int(*year)
		r.ConstructionYear = &y
	}
	return r
}

func candidateCoords(raw map[string]any) (lat, lon float64, ok bool) {
	latPtr := firstFloat(raw, "latitude")
	lonPtr := firstFloat(raw, "longitude")
	if latPtr != nil && lonPtr != nil {
		return *latPtr, *lonPtr, true
	}
	// data-fair exposes a "lat,lon" geopoint on the v2 datasets.
	if gp := firstString(raw, "_geopoint"); gp != nil {
		parts := strings.Split(*gp, ",")
		if len(parts) == 2 {
			plat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			plon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if latErr == nil && lonErr == nil {
				return plat, plon, true
			}
		}
	}
	return 0, 0, false
}

func firstString(raw map[string]any, keys ...string) *string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return &v
		}
	}
	return nil
}

func firstFloat(raw map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := raw[k].(float64); ok {
			return &v
		}
	}
	return nil
}

func (s *Service) storeHit(key string, result *Result) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to serialize DPE result for cache")
		return
	}
	if err := s.cache.PutDPE(key, true, payload); err != nil {
		s.logger.WithError(err).Warn("DPE cache write failed")
	}
}

func (s *Service) storeMiss(key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutDPE(key, false, nil); err != nil {
		s.logger.WithError(err).Warn("DPE cache write failed")
	}
}
