package sirene

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"gainable/config"
	"gainable/providers"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// searchResponse is the subset of the recherche-entreprises API used here.
type searchResponse struct {
	Results []struct {
		Siren       string `json:"siren"`
		NomComplet  string `json:"nom_complet"`
		EtatAdmin   string `json:"etat_administratif"`
		MatchingEts []struct {
			Siret      string `json:"siret"`
			CodePostal string `json:"code_postal"`
			Commune    string `json:"libelle_commune"`
			EtatAdmin  string `json:"etat_administratif"`
		} `json:"matching_etablissements"`
	} `json:"results"`
}

// Registry queries the French government company registry.
type Registry struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewRegistry creates a registry client.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	return &Registry{Config: cfg, Logger: logger}
}

// LookupSiret returns the establishment registered under siret.
func (r *Registry) LookupSiret(ctx context.Context, siret string) (*providers.Company, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&page=1&per_page=1", r.Config.SireneBaseURL, url.QueryEscape(siret))
	log := r.Logger.With(zap.String("siret", siret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry request failed with status: %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}

	for _, res := range sr.Results {
		for _, ets := range res.MatchingEts {
			if ets.Siret != siret {
				continue
			}
			log.Debug("SIRET found in registry", zap.String("name", res.NomComplet))
			return &providers.Company{
				Siret:      ets.Siret,
				Name:       res.NomComplet,
				PostalCode: ets.CodePostal,
				City:       ets.Commune,
				Active:     ets.EtatAdmin == "A",
			}, nil
		}
	}

	log.Info("SIRET not found in registry")
	return nil, providers.ErrNotFound
}
