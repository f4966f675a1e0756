package repository

import (
	"rsynco/internal/model"

	"gorm.io/gorm"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Save(entry *model.History) error {
	return r.db.Create(entry).Error
}

type Stats struct {
	Total     int64 `json:"total"`
	Success   int64 `json:"success"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

func (r *HistoryRepository) GetStats() (Stats, error) {
	var rows []struct {
		Outcome model.Outcome
		Count   int64
	}
	err := r.db.Model(&model.History{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Outcome {
		case model.OutcomeSuccess:
			stats.Success = row.Count
		case model.OutcomeCancelled:
			stats.Cancelled = row.Count
		default:
			stats.Failed += row.Count
		}
	}

	return stats, nil
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	var histories []model.History
	result := r.db.
		Order("finished_at desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetByJob(name string, limit int) ([]model.History, error) {
	var histories []model.History
	result := r.db.
		Where("job_name = ?", name).
		Order("finished_at desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetFailed(limit int) ([]model.History, error) {
	var histories []model.History
	result := r.db.
		Where("outcome = ?", model.OutcomeFailed).
		Order("finished_at desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}
