package points

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/atheneum-ai/atheneum/internal/store"
)

// Upserter persists achievement definitions. *store.Points satisfies it.
type Upserter interface {
	UpsertAchievement(ctx context.Context, a *store.Achievement) error
}

type seedFile struct {
	Achievements []struct {
		Name          string `yaml:"name"`
		Description   string `yaml:"description"`
		CriteriaType  string `yaml:"criteria_type"`
		CriteriaValue int64  `yaml:"criteria_value"`
		RewardPoints  int64  `yaml:"reward_points"`
		Active        *bool  `yaml:"active"`
	} `yaml:"achievements"`
}

// Seed loads achievement definitions from YAML and upserts them by name.
// Definitions default to active.
func Seed(ctx context.Context, repo Upserter, data []byte) (int, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("points: parse seed: %w", err)
	}
	for i, def := range f.Achievements {
		if def.Name == "" || def.CriteriaType == "" {
			return i, fmt.Errorf("points: seed entry %d missing name or criteria_type", i)
		}
		a := store.Achievement{
			Name:          def.Name,
			Description:   def.Description,
			CriteriaType:  def.CriteriaType,
			CriteriaValue: def.CriteriaValue,
			RewardPoints:  def.RewardPoints,
			IsActive:      def.Active == nil || *def.Active,
		}
		if err := repo.UpsertAchievement(ctx, &a); err != nil {
			return i, err
		}
	}
	return len(f.Achievements), nil
}
