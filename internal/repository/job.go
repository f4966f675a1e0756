package repository

import (
	"errors"
	"fmt"
	"rsynco/internal/model"

	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Add(job *model.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	var count int64
	if err := r.db.Model(&model.Job{}).Where("name = ?", job.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", model.ErrJobExists, job.Name)
	}

	return r.db.Create(job).Error
}

func (r *JobRepository) Get(name string) (model.Job, error) {
	var job model.Job
	err := r.db.Where("name = ?", name).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return job, fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}

	return job, err
}

func (r *JobRepository) GetAll() ([]model.Job, error) {
	var jobs []model.Job
	return jobs, r.db.Order("name").Find(&jobs).Error
}

// Update writes the given columns of the named job.
func (r *JobRepository) Update(name string, fields map[string]any) error {
	result := r.db.Model(&model.Job{}).
		Where("name = ?", name).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}

	return nil
}

// Save stores every field of an existing job, zero values included.
func (r *JobRepository) Save(job *model.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	return r.db.Save(job).Error
}

func (r *JobRepository) Delete(name string) error {
	result := r.db.Where("name = ?", name).Delete(&model.Job{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}

	return nil
}
