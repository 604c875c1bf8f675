package repository

import (
	"context"
	"errors"

	"SyncHub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStateRepository 定时任务持久化状态
type JobStateRepository interface {
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, name string) (*model.PollJobState, error)
	Save(ctx context.Context, s *model.PollJobState) error
	List(ctx context.Context) ([]*model.PollJobState, error)
}

type jobStateRepository struct {
	db *gorm.DB
}

func NewJobStateRepository(db *gorm.DB) JobStateRepository {
	return &jobStateRepository{db: db}
}

func (r *jobStateRepository) Get(ctx context.Context, name string) (*model.PollJobState, error) {
	var s model.PollJobState
	err := r.db.WithContext(ctx).Where("job_name = ?", name).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *jobStateRepository) Save(ctx context.Context, s *model.PollJobState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "interval_minutes", "last_run_at", "last_result", "disabled_reason", "updated_at"}),
	}).Create(s).Error
}

func (r *jobStateRepository) List(ctx context.Context) ([]*model.PollJobState, error) {
	var list []*model.PollJobState
	if err := r.db.WithContext(ctx).Order("job_name ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
