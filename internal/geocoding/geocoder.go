// Package geocoding resolves free-text French addresses to coordinates and
// administrative metadata through the Base Adresse Nationale API.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"immopipe/internal/database"
	"immopipe/internal/geometry"
)

const defaultBaseURL = "https://api-adresse.data.gouv.fr/search/"

// Fetcher issues a paced GET and returns the body, or nil when the call
// yielded no data.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Location is a successful geocoding result.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	PostalCode string  `json:"postal_code"`
	InseeCode  string  `json:"insee_code"`
	Region     string  `json:"region"`
}

type Service struct {
	logger  *logrus.Logger
	fetcher Fetcher
	cache   *database.Cache
	baseURL string
}

// NewService creates a geocoding service. The cache may be nil, in which
// case every lookup goes to the API.
func NewService(fetcher Fetcher, cache *database.Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		logger:  logger,
		fetcher: fetcher,
		cache:   cache,
		baseURL: defaultBaseURL,
	}
}

type banResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Postcode string `json:"postcode"`
			Citycode string `json:"citycode"`
			Context  string `json:"context"`
		} `json:"properties"`
	} `json:"features"`
}

// Locate resolves an address within a city. A nil Location with a nil error
// means the address could not be geocoded; callers treat that as a normal
// per-record outcome, not a failure.
func (s *Service) Locate(ctx context.Context, address, city string) (*Location, error) {
	key := database.Key(address, city)
	query := fmt.Sprintf("%s %s", address, city)

	if s.cache != nil {
		cached, err := s.cache.GetLocation(key)
		if err != nil {
			s.logger.WithError(err).Warn("Geocode cache read failed")
		} else if cached != nil {
			if !cached.Found {
				return nil, nil
			}
			s.logger.WithFields(logrus.Fields{"address": query, "source": "cache"}).Debug("Found coordinates in cache")
			return &Location{
				Latitude:   cached.Latitude,
				Longitude:  cached.Longitude,
				PostalCode: cached.PostalCode,
				InseeCode:  cached.InseeCode,
				Region:     cached.Region,
			}, nil
		}
	}

	params := url.Values{
		"q":     []string{query},
		"limit": []string{"1"},
		"type":  []string{"housenumber"},
	}

	body, err := s.fetcher.Get(ctx, s.baseURL, params)
	if err != nil {
		return nil, err
	}
	if body == nil {
		s.storeMiss(key, query)
		return nil, nil
	}

	var resp banResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.logger.WithError(err).WithField("address", query).Error("Failed to parse geocoding response")
		s.storeMiss(key, query)
		return nil, nil
	}

	if len(resp.Features) == 0 || len(resp.Features[0].Geometry.Coordinates) < 2 {
		s.logger.WithField("address", query).Debug("No geocoding results")
		s.storeMiss(key, query)
		return nil, nil
	}

	feature := resp.Features[0]
	lon := feature.Geometry.Coordinates[0]
	lat := feature.Geometry.Coordinates[1]

	if !geometry.InMetropolitanFrance(lat, lon) {
		s.logger.WithFields(logrus.Fields{
			"address":   query,
			"latitude":  lat,
			"longitude": lon,
		}).Warn("Geocoding result outside metropolitan France, discarding")
		s.storeMiss(key, query)
		return nil, nil
	}

	loc := &Location{
		Latitude:   lat,
		Longitude:  lon,
		PostalCode: feature.Properties.Postcode,
		InseeCode:  feature.Properties.Citycode,
		Region:     feature.Properties.Context,
	}

	if s.cache != nil {
		err := s.cache.PutLocation(key, database.CachedLocation{
			Found:      true,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			PostalCode: loc.PostalCode,
			InseeCode:  loc.InseeCode,
			Region:     loc.Region,
		})
		if err != nil {
			s.logger.WithError(err).Warn("Geocode cache write failed")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"address":   query,
		"latitude":  lat,
		"longitude": lon,
		"source":    "ban",
	}).Debug("Successfully geocoded address")
	return loc, nil
}

func (s *Service) storeMiss(key, query string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutLocation(key, database.CachedLocation{Found: false}); err != nil {
		s.logger.WithError(err).WithField("address", query).Warn("Geocode cache write failed")
	}
}
