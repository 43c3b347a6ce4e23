package storage

import (
	"encoding/json"
	"fmt"

	"mlinterp/internal/interpret"
)

// SaveImportance stores the permutation importance result of a run,
// replacing any previous one.
func (s *Store) SaveImportance(runID string, res *interpret.ImportanceResult) error {
	return s.put(importanceBucket, resultKey(runID, "result"), res)
}

// LoadImportance returns the permutation importance result of a run.
func (s *Store) LoadImportance(runID string) (*interpret.ImportanceResult, error) {
	var res *interpret.ImportanceResult
	err := s.scan(importanceBucket, runID, func(v []byte) error {
		res = &interpret.ImportanceResult{}
		return json.Unmarshal(v, res)
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("importance of run %s: %w", runID, ErrNotFound)
	}
	return res, nil
}

// SavePartial stores one partial dependence result. index is the position of
// its config in the run, so results over the same features stay apart.
func (s *Store) SavePartial(runID string, index int, pd *interpret.PartialDependence) error {
	return s.put(partialBucket, resultKey(runID, indexKey(index), pd.Name()), pd)
}

// LoadPartials returns every partial dependence result of a run ordered by
// config index.
func (s *Store) LoadPartials(runID string) ([]*interpret.PartialDependence, error) {
	var out []*interpret.PartialDependence
	err := s.scan(partialBucket, runID, func(v []byte) error {
		pd := &interpret.PartialDependence{}
		if err := json.Unmarshal(v, pd); err != nil {
			return err
		}
		out = append(out, pd)
		return nil
	})
	return out, err
}

// SaveInteraction stores an interaction result under the index of its config.
func (s *Store) SaveInteraction(runID string, index int, res *interpret.InteractionResult) error {
	return s.put(interactionBucket, resultKey(runID, indexKey(index), string(res.Mode), res.Target), res)
}

// LoadInteractions returns every interaction result of a run ordered by
// config index.
func (s *Store) LoadInteractions(runID string) ([]*interpret.InteractionResult, error) {
	var out []*interpret.InteractionResult
	err := s.scan(interactionBucket, runID, func(v []byte) error {
		res := &interpret.InteractionResult{}
		if err := json.Unmarshal(v, res); err != nil {
			return err
		}
		out = append(out, res)
		return nil
	})
	return out, err
}

// indexKey zero-pads index so keys sort in config order.
func indexKey(index int) string {
	return fmt.Sprintf("%04d", index)
}
