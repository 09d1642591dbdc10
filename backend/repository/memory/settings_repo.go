package memory

import (
	"context"
	"time"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/repository/events"
)

// SettingsRepo 设置仓储实现
type SettingsRepo struct {
	store *Store
}

// NewSettingsRepo 创建设置仓储
func NewSettingsRepo(store *Store) *SettingsRepo {
	return &SettingsRepo{store: store}
}

// Get 获取设置
func (r *SettingsRepo) Get(ctx context.Context) (domain.Settings, error) {
	r.store.RLock()
	defer r.store.RUnlock()
	return r.store.settings, nil
}

// Update 更新设置（非法字段回落到默认值）
func (r *SettingsRepo) Update(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	settings = domain.NormalizeSettings(settings)
	settings.UpdatedAt = time.Now()

	r.store.Lock()
	r.store.settings = settings
	r.store.Unlock()

	// 在锁外发布事件
	r.store.PublishEvent(events.SettingsEvent{
		EventType: events.EventSettingsChanged,
		Settings:  settings,
	})

	return settings, nil
}

// 确保实现接口
var _ repository.SettingsRepository = (*SettingsRepo)(nil)
