package search

import (
	"fmt"

	"github.com/hyperjump/embedstore/internal/config"
	"github.com/hyperjump/embedstore/internal/models"
)

// ProcessQuery applies the configured limits and validates the query.
func ProcessQuery(query *models.SimilarityQuery, cfg *config.SearchConfig) error {
	if query.Limit <= 0 && cfg != nil && cfg.DefaultLimit > 0 {
		query.Limit = cfg.DefaultLimit
	}
	if err := query.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if cfg != nil && cfg.MaxLimit > 0 && query.Limit > cfg.MaxLimit {
		query.Limit = cfg.MaxLimit
	}
	return nil
}
