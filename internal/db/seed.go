package db

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a hand-maintained subset of a GTFS catalog, for deployments that
// have no full import.
type Seed struct {
	Lines []Line `yaml:"lines"`
	Stops []Stop `yaml:"stops"`
}

func LoadSeed(path string) (Seed, error) {
	var s Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read seed: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, l := range s.Lines {
		if l.ID == "" {
			return s, fmt.Errorf("seed %s: line %d has no id", path, i)
		}
	}
	for i, st := range s.Stops {
		if st.ID == "" {
			return s, fmt.Errorf("seed %s: stop %d has no id", path, i)
		}
	}
	return s, nil
}

// Apply creates the catalog tables if needed and upserts every row of s.
func (c *Catalog) Apply(ctx context.Context, s Seed) error {
	if err := c.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, l := range s.Lines {
		if err := c.PutLine(ctx, l); err != nil {
			return err
		}
	}
	for _, st := range s.Stops {
		if err := c.PutStop(ctx, st); err != nil {
			return err
		}
	}
	return nil
}
