package db

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mindleap-provisioning/internal/model"
	"mindleap-provisioning/internal/studentid"
	"mindleap-provisioning/pkg/errors"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	States []struct {
		Code      string `yaml:"code"`
		Name      string `yaml:"name"`
		Districts []struct {
			Code string `yaml:"code"`
			Name string `yaml:"name"`
		} `yaml:"districts"`
	} `yaml:"states"`
}

// LoadSeed reads a YAML list of states with their districts.
func LoadSeed(path string) ([]model.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed file: %w", err)
	}

	states := make([]model.State, 0, len(seed.States))
	for _, s := range seed.States {
		state := model.State{Code: strings.ToUpper(strings.TrimSpace(s.Code)), Name: strings.TrimSpace(s.Name)}
		if state.Code == "" || state.Name == "" {
			return nil, fmt.Errorf("%w: seed state needs code and name", errors.ErrInvalidInput)
		}
		for _, d := range s.Districts {
			state.Districts = append(state.Districts, model.District{
				Code: studentid.PadDistrict(d.Code),
				Name: strings.TrimSpace(d.Name),
			})
		}
		states = append(states, state)
	}
	return states, nil
}

// ApplySeed stores the states that do not exist yet. Existing states are
// left alone so allocations made since the last start survive.
func ApplySeed(ctx context.Context, repo Repository, states []model.State) (int, error) {
	created := 0
	for _, s := range states {
		_, err := repo.GetState(ctx, s.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return created, err
		}
		if err := repo.SaveState(ctx, s); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
