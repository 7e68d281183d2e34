package sensor

import (
	"sort"

	"go.viam.com/simlabel/config"
	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/logging"
)

// Set is the session's id to model map. It is built once and read-only afterwards.
type Set struct {
	models map[int]Model
}

// NewSet builds a model per config. Sensors that fail to build are left out of the set and
// logged once.
func NewSet(cfgs []config.Sensor, logger logging.Logger) *Set {
	s := &Set{models: make(map[int]Model, len(cfgs))}
	for _, cfg := range cfgs {
		m, err := NewModel(cfg)
		if err != nil {
			logger.Warnw("sensor excluded", "id", cfg.ID, "type", cfg.Type, "error", err)
			continue
		}
		s.models[cfg.ID] = m
	}
	return s
}

// NewSetFromModels builds a set from already constructed models.
func NewSetFromModels(models ...Model) *Set {
	s := &Set{models: make(map[int]Model, len(models))}
	for _, m := range models {
		s.models[m.ID()] = m
	}
	return s
}

// Get returns the model for id.
func (s *Set) Get(id int) (Model, bool) {
	m, ok := s.models[id]
	return m, ok
}

// Len returns the number of active sensors.
func (s *Set) Len() int {
	return len(s.models)
}

// IDs returns the active sensor ids in ascending order.
func (s *Set) IDs() []int {
	ids := make([]int, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// HasKind reports whether an active sensor of kind exists.
func (s *Set) HasKind(kind data.SensorKind) bool {
	for _, m := range s.models {
		if m.Kind() == kind {
			return true
		}
	}
	return false
}
