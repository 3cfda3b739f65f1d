package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArticlePolicy holds the thresholds checked when an article is published.
type ArticlePolicy struct {
	MinSections      int      `yaml:"min_sections"`
	MinFAQ           int      `yaml:"min_faq"`
	MinWords         int      `yaml:"min_words"`
	MonthlyQuota     int      `yaml:"monthly_quota"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases"`
}

// DefaultArticlePolicy is used when no policy file is configured.
func DefaultArticlePolicy() ArticlePolicy {
	return ArticlePolicy{
		MinSections:  3,
		MinFAQ:       3,
		MinWords:     600,
		MonthlyQuota: 4,
		ForbiddenPhrases: []string{
			"meilleur prix",
			"le moins cher",
			"prix imbattable",
			"numéro 1",
			"n°1",
			"100% gratuit",
			"garanti à vie",
			"satisfait ou remboursé",
		},
	}
}

// LoadArticlePolicy reads a YAML policy file. Keys missing from the file keep
// their default value. An empty path returns the defaults.
func LoadArticlePolicy(path string) (ArticlePolicy, error) {
	policy := DefaultArticlePolicy()
	if path == "" {
		return policy, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return policy, fmt.Errorf("open article policy: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&policy); err != nil {
		return policy, fmt.Errorf("decode article policy: %w", err)
	}
	if policy.MinSections < 0 || policy.MinFAQ < 0 || policy.MinWords < 0 || policy.MonthlyQuota < 0 {
		return policy, fmt.Errorf("article policy thresholds must not be negative")
	}
	return policy, nil
}
