package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

// Statistics holds dashboard aggregates over the current store state
type Statistics struct {
	Total               int64
	ByStatus            map[models.TaskStatus]int64
	ByPriority          map[models.TaskPriority]int64
	Overdue             int64
	CompletionRate      int
	AverageProgress     int
	UpcomingRecurrences []models.Task
	UpcomingWindowDays  int
	GeneratedAt         time.Time
}

// GetStatistics computes aggregates, serving them from the cache while it
// is fresh. days is the upcoming recurrence window; zero means the default.
func (s *TaskService) GetStatistics(ctx context.Context, days int) (*Statistics, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%d", constants.StatisticsCacheKey, days)
	var generation uint64
	if s.stats != nil {
		if cached, ok := s.stats.Get(key); ok {
			return cached, nil
		}
		generation = s.stats.Generation()
	}

	now := s.now()
	agg, err := s.store.Tasks().Aggregate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tasks: %w", err)
	}

	upcoming, err := s.store.Tasks().FindRecurringBetween(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("failed to find upcoming recurrences: %w", err)
	}

	stats := &Statistics{
		Total:               agg.Total,
		ByStatus:            agg.ByStatus,
		ByPriority:          agg.ByPriority,
		Overdue:             agg.Overdue,
		AverageProgress:     int(math.Round(agg.AverageProgress)),
		UpcomingRecurrences: upcoming,
		UpcomingWindowDays:  days,
		GeneratedAt:         now,
	}
	if agg.Total > 0 {
		stats.CompletionRate = roundHalfUp(agg.Completed*100, agg.Total)
	}

	// a mutation committed while computing makes stats stale
	if s.stats != nil {
		s.stats.SetIfGeneration(key, stats, generation)
	}
	return stats, nil
}

// GetUpcomingRecurrences returns recurring tasks whose next occurrence falls
// within days from now, soonest first
func (s *TaskService) GetUpcomingRecurrences(ctx context.Context, days int) ([]models.Task, error) {
	days, err := normalizeDays(days)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tasks, err := s.store.Tasks().FindRecurringBetween(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("failed to find upcoming recurrences: %w", err)
	}
	return tasks, nil
}

func normalizeDays(days int) (int, error) {
	if days == 0 {
		return constants.DefaultUpcomingDays, nil
	}
	if days < 0 || days > constants.MaxUpcomingDays {
		return 0, ErrInvalidDays
	}
	return days, nil
}
