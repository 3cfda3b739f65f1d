package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gainable/config"
	"gainable/geo"
	"gainable/providers"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// place is one entry of the Nominatim search response. Coordinates arrive as strings.
type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocoder resolves addresses through the OpenStreetMap Nominatim API.
type Geocoder struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewGeocoder creates a Nominatim geocoder.
func NewGeocoder(cfg *config.Config, logger *zap.Logger) *Geocoder {
	return &Geocoder{Config: cfg, Logger: logger}
}

// Geocode returns the coordinates of the best match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (geo.Point, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "fr,be,ch,ma")
	endpoint := fmt.Sprintf("%s/search?%s", g.Config.NominatimBaseURL, q.Encode())

	log := g.Logger.With(zap.String("address", address))
	log.Debug("Calling Nominatim search")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return geo.Point{}, err
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", g.Config.NominatimAgent)
	req.Header.Set("Accept-Language", "fr")

	resp, err := httpClient.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geo.Point{}, fmt.Errorf("nominatim request failed with status: %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return geo.Point{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(places) == 0 {
		log.Debug("No Nominatim match")
		return geo.Point{}, providers.ErrNotFound
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse longitude %q: %w", places[0].Lon, err)
	}

	p := geo.Point{Lat: lat, Lng: lng}
	log.Info("Address geocoded", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.String("match", places[0].DisplayName))
	return p, nil
}
