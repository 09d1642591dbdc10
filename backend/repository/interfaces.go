package repository

import (
	"context"

	"substarter/backend/domain"
)

// ProfileRepository 订阅仓储接口
type ProfileRepository interface {
	// 基础 CRUD
	Get(ctx context.Context, id string) (domain.Profile, error)
	List(ctx context.Context) ([]domain.Profile, error)
	Create(ctx context.Context, profile domain.Profile) (domain.Profile, error)
	Update(ctx context.Context, id string, profile domain.Profile) (domain.Profile, error)
	Delete(ctx context.Context, id string) error

	// 刷新结果写回
	UpdateRefreshStatus(ctx context.Context, id string, status domain.RefreshStatus) (domain.Profile, error)

	// 运行时选中标记（不持久化）
	SetActive(ctx context.Context, id string) error
}

// SettingsRepository 设置仓储接口（单例设置）
type SettingsRepository interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, settings domain.Settings) (domain.Settings, error)
}

// Repositories 聚合所有仓储的容器接口
type Repositories interface {
	Profile() ProfileRepository
	Settings() SettingsRepository
}

// RepositoriesImpl 仓储容器实现
type RepositoriesImpl struct {
	Store Snapshottable

	ProfileRepo  ProfileRepository
	SettingsRepo SettingsRepository
}

func (r *RepositoriesImpl) Profile() ProfileRepository   { return r.ProfileRepo }
func (r *RepositoriesImpl) Settings() SettingsRepository { return r.SettingsRepo }

func (r *RepositoriesImpl) Snapshot() domain.ServiceState {
	if r.Store == nil {
		return domain.ServiceState{}
	}
	return r.Store.Snapshot()
}

func (r *RepositoriesImpl) LoadState(state domain.ServiceState) {
	if r.Store == nil {
		return
	}
	r.Store.LoadState(state)
}

// Snapshottable 可快照的存储接口
type Snapshottable interface {
	// Snapshot 生成状态快照
	Snapshot() domain.ServiceState

	// LoadState 加载状态
	LoadState(state domain.ServiceState)
}
