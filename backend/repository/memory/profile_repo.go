package memory

import (
	"context"
	"strings"
	"time"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/repository/events"

	"github.com/google/uuid"
)

// ProfileRepo 订阅仓储实现
type ProfileRepo struct {
	store *Store
}

// NewProfileRepo 创建订阅仓储
func NewProfileRepo(store *Store) *ProfileRepo {
	return &ProfileRepo{store: store}
}

// Get 获取订阅
func (r *ProfileRepo) Get(ctx context.Context, id string) (domain.Profile, error) {
	r.store.RLock()
	defer r.store.RUnlock()

	p, ok := r.store.profiles[id]
	if !ok {
		return domain.Profile{}, repository.ErrProfileNotFound
	}
	return p, nil
}

// List 按添加顺序列出订阅
func (r *ProfileRepo) List(ctx context.Context) ([]domain.Profile, error) {
	r.store.RLock()
	defer r.store.RUnlock()
	return r.store.orderedProfiles(), nil
}

// Create 创建订阅
func (r *ProfileRepo) Create(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	p = domain.NormalizeProfile(p)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	r.store.Lock()
	if _, exists := r.store.profiles[p.ID]; exists {
		r.store.Unlock()
		return domain.Profile{}, repository.ErrInvalidID
	}
	r.store.putProfile(p)
	r.store.Unlock()

	// 在锁外发布事件
	r.store.PublishEvent(events.ProfileEvent{
		EventType: events.EventProfileCreated,
		ProfileID: p.ID,
		Profile:   p,
	})

	return p, nil
}

// Update 更新订阅（刷新结果与创建时间保持不变）
func (r *ProfileRepo) Update(ctx context.Context, id string, p domain.Profile) (domain.Profile, error) {
	r.store.Lock()

	existing, ok := r.store.profiles[id]
	if !ok {
		r.store.Unlock()
		return domain.Profile{}, repository.ErrProfileNotFound
	}

	next := existing
	next.Name = p.Name
	next.URL = p.URL
	next.Enabled = p.Enabled
	next.AutoUpdate = p.AutoUpdate
	next.AutoUpdateIntervalMinutes = p.AutoUpdateIntervalMinutes
	next = domain.NormalizeProfile(next)
	next.ID = id
	next.UpdatedAt = time.Now()

	r.store.putProfile(next)
	r.store.Unlock()

	r.store.PublishEvent(events.ProfileEvent{
		EventType: events.EventProfileUpdated,
		ProfileID: id,
		Profile:   next,
	})

	return next, nil
}

// Delete 删除订阅
func (r *ProfileRepo) Delete(ctx context.Context, id string) error {
	r.store.Lock()
	removed := r.store.removeProfile(id)
	r.store.Unlock()

	if !removed {
		return repository.ErrProfileNotFound
	}

	r.store.PublishEvent(events.ProfileEvent{
		EventType: events.EventProfileDeleted,
		ProfileID: id,
	})

	return nil
}

// UpdateRefreshStatus 写回刷新结果。
// 失败时只记录错误，节点数与上次更新时间保持不变。
func (r *ProfileRepo) UpdateRefreshStatus(ctx context.Context, id string, status domain.RefreshStatus) (domain.Profile, error) {
	r.store.Lock()

	p, ok := r.store.profiles[id]
	if !ok {
		r.store.Unlock()
		return domain.Profile{}, repository.ErrProfileNotFound
	}

	if status.Err != nil {
		p.LastError = strings.TrimSpace(status.Err.Error())
	} else {
		p.LastError = ""
		p.NodeCount = status.NodeCount
		updated := status.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		p.LastUpdated = &updated
		if status.Checksum != "" {
			p.Checksum = status.Checksum
		}
		if status.UsageUsedBytes != nil {
			p.UsageUsedBytes = status.UsageUsedBytes
		}
		if status.UsageTotalBytes != nil {
			p.UsageTotalBytes = status.UsageTotalBytes
		}
		if status.ExpireAt != nil {
			p.ExpireAt = status.ExpireAt
		}
	}
	p.UpdatedAt = time.Now()
	r.store.putProfile(p)
	r.store.Unlock()

	r.store.PublishEvent(events.ProfileEvent{
		EventType: events.EventProfileRefreshed,
		ProfileID: id,
		Profile:   p,
	})

	return p, nil
}

// SetActive 标记当前选中的订阅；id 为空时清除标记
func (r *ProfileRepo) SetActive(ctx context.Context, id string) error {
	r.store.Lock()
	defer r.store.Unlock()

	if id != "" {
		if _, ok := r.store.profiles[id]; !ok {
			return repository.ErrProfileNotFound
		}
	}
	for key, p := range r.store.profiles {
		p.Active = key == id
		r.store.profiles[key] = p
	}
	return nil
}

// 确保实现接口
var _ repository.ProfileRepository = (*ProfileRepo)(nil)
