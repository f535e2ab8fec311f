package config

import "context"

// Loader is the interface for a format-specific definition loader.
type Loader interface {
	// Load reads every definition found under the given paths and merges
	// them into one Model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Catalog resolves definitions by name for nested execution.
type Catalog interface {
	Transformation(name string) (*Transformation, error)
	Job(name string) (*Job, error)
}

// Loaders runs several loaders over the same paths and merges their models.
// Each loader picks the files it understands.
type Loaders []Loader

// Load implements Loader.
func (ls Loaders) Load(ctx context.Context, paths ...string) (*Model, error) {
	model := NewModel()
	for _, l := range ls {
		m, err := l.Load(ctx, paths...)
		if err != nil {
			return nil, err
		}
		if err := model.Merge(m); err != nil {
			return nil, err
		}
	}
	return model, nil
}
