// internal/app/history_service.go
package app

import (
	"context"
	"fmt"
	"sort"

	"khatam_bot/internal/domain/khatam"
)

// CycleGroup is one archived khatam within a period.
type CycleGroup struct {
	Number  int
	Entries []khatam.HistoryEntry // ordered by unit index
}

// PeriodGroup collects the khatams archived under one period name.
type PeriodGroup struct {
	Period string
	Cycles []CycleGroup // newest cycle first
}

// HistoryService serves the read-only archive browser.
type HistoryService struct {
	historyRepo khatam.HistoryRepository
}

func NewHistoryService(hr khatam.HistoryRepository) *HistoryService {
	return &HistoryService{historyRepo: hr}
}

// Browse returns the archive grouped by period, then by cycle number.
func (s *HistoryService) Browse(ctx context.Context) ([]PeriodGroup, error) {
	entries, err := s.historyRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return GroupHistory(entries), nil
}

// GroupHistory groups entries by period (in first-seen order) and by cycle
// number within a period. A cycle archived twice under the same period by racing
// clients shows up as one group with duplicate units.
func GroupHistory(entries []khatam.HistoryEntry) []PeriodGroup {
	var order []string
	byPeriod := make(map[string]map[int][]khatam.HistoryEntry)
	for _, e := range entries {
		cycles, ok := byPeriod[e.PeriodName]
		if !ok {
			cycles = make(map[int][]khatam.HistoryEntry)
			byPeriod[e.PeriodName] = cycles
			order = append(order, e.PeriodName)
		}
		cycles[e.CycleNumber] = append(cycles[e.CycleNumber], e)
	}

	groups := make([]PeriodGroup, 0, len(order))
	for _, period := range order {
		cycles := byPeriod[period]
		pg := PeriodGroup{Period: period, Cycles: make([]CycleGroup, 0, len(cycles))}
		for num, es := range cycles {
			sort.SliceStable(es, func(i, j int) bool { return es[i].UnitIndex < es[j].UnitIndex })
			pg.Cycles = append(pg.Cycles, CycleGroup{Number: num, Entries: es})
		}
		sort.Slice(pg.Cycles, func(i, j int) bool { return pg.Cycles[i].Number > pg.Cycles[j].Number })
		groups = append(groups, pg)
	}
	return groups
}
