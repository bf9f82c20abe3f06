package store

import (
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/mjudeikis/classroom-labs/pkg/api"
)

// Runs persists provisioning run records as YAML documents.
type Runs struct {
	store Store
}

func NewRuns(s Store) *Runs {
	return &Runs{store: s}
}

func (r *Runs) Save(run *api.Run) error {
	b, err := yaml.Marshal(run)
	if err != nil {
		return err
	}
	return r.store.Put(run.ID, b)
}

func (r *Runs) Get(id string) (*api.Run, error) {
	b, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	var run api.Run
	if err := yaml.Unmarshal(b, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns all runs, newest first.
func (r *Runs) List() ([]*api.Run, error) {
	keys, err := r.store.List()
	if err != nil {
		return nil, err
	}
	runs := make([]*api.Run, 0, len(keys))
	for _, k := range keys {
		run, err := r.Get(k)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}
