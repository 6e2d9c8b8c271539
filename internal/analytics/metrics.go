package analytics

import "github.com/taskfleet/taskfleet/internal/store"

// TrendReport summarizes completion trends for one user.
type TrendReport struct {
	CompletionRate float64 `json:"completion_rate"`
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	OverdueTasks   int     `json:"overdue_tasks"`
	UrgentTasks    int     `json:"urgent_tasks"`
}

// ProductivityReport scores one user's task hygiene.
type ProductivityReport struct {
	ProductivityScore float64 `json:"productivity_score"`
	TasksCompleted    int     `json:"tasks_completed"`
	TasksPending      int     `json:"tasks_pending"`
	OverdueTasks      int     `json:"overdue_tasks"`
	UrgentTasks       int     `json:"urgent_tasks"`
	EfficiencyRating  string  `json:"efficiency_rating"`
}

// Trends computes the completion rate and passes the raw figures through.
func Trends(c store.TaskCounters) TrendReport {
	var rate float64
	if c.TotalTasks > 0 {
		rate = float64(c.CompletedTasks) / float64(c.TotalTasks) * 100
	}
	return TrendReport{
		CompletionRate: rate,
		TotalTasks:     c.TotalTasks,
		CompletedTasks: c.CompletedTasks,
		OverdueTasks:   c.OverdueTasks,
		UrgentTasks:    c.UrgentTasks,
	}
}

// Productivity scores completion rate with an overdue bonus or penalty,
// clamped to [0, 100]. Rating thresholds are strict greater-than.
func Productivity(c store.TaskCounters) ProductivityReport {
	var base float64
	if c.TotalTasks > 0 {
		base = float64(c.CompletedTasks) / float64(c.TotalTasks) * 100
	}

	bonus := 10.0
	if c.OverdueTasks > 0 {
		bonus = -5 * float64(c.OverdueTasks)
	}

	score := base + bonus
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	rating := "Needs Improvement"
	switch {
	case score > 80:
		rating = "Excellent"
	case score > 60:
		rating = "Good"
	case score > 40:
		rating = "Average"
	}

	return ProductivityReport{
		ProductivityScore: score,
		TasksCompleted:    c.CompletedTasks,
		TasksPending:      c.PendingTasks,
		OverdueTasks:      c.OverdueTasks,
		UrgentTasks:       c.UrgentTasks,
		EfficiencyRating:  rating,
	}
}
