package memory

import (
	"sync"
	"time"

	"substarter/backend/domain"
	"substarter/backend/repository/events"

	"github.com/google/uuid"
)

// Store 内存存储引擎
type Store struct {
	mu sync.RWMutex

	// 订阅按用户添加顺序保存，聚合时依赖该顺序
	profiles map[string]domain.Profile
	order    []string

	settings domain.Settings

	// 事件总线
	eventBus *events.Bus
}

// NewStore 创建新的内存存储
func NewStore(eventBus *events.Bus) *Store {
	return &Store{
		profiles: make(map[string]domain.Profile),
		settings: domain.DefaultSettings(),
		eventBus: eventBus,
	}
}

// ========== 锁操作（供仓储使用）==========

// RLock 获取读锁
func (s *Store) RLock() { s.mu.RLock() }

// RUnlock 释放读锁
func (s *Store) RUnlock() { s.mu.RUnlock() }

// Lock 获取写锁
func (s *Store) Lock() { s.mu.Lock() }

// Unlock 释放写锁
func (s *Store) Unlock() { s.mu.Unlock() }

// ========== 事件发布 ==========

// PublishEvent 发布事件（异步，应在锁外调用）
func (s *Store) PublishEvent(event events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(event)
	}
}

// ========== 数据访问（供仓储内部使用，需持有锁）==========

func (s *Store) orderedProfiles() []domain.Profile {
	items := make([]domain.Profile, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.profiles[id]; ok {
			items = append(items, p)
		}
	}
	return items
}

func (s *Store) putProfile(p domain.Profile) {
	if _, exists := s.profiles[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.profiles[p.ID] = p
}

func (s *Store) removeProfile(id string) bool {
	if _, ok := s.profiles[id]; !ok {
		return false
	}
	delete(s.profiles, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ========== 快照与恢复 ==========

// Snapshot 生成状态快照
func (s *Store) Snapshot() domain.ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := s.orderedProfiles()
	for i := range profiles {
		profiles[i] = stripProfileRuntime(profiles[i])
	}
	settings := s.settings

	return domain.ServiceState{
		Profiles:    profiles,
		Settings:    &settings,
		GeneratedAt: time.Now(),
	}
}

// LoadState 加载状态
func (s *Store) LoadState(state domain.ServiceState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	s.profiles = make(map[string]domain.Profile)
	s.order = nil
	for _, p := range state.Profiles {
		p = domain.NormalizeProfile(stripProfileRuntime(p))
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		s.putProfile(p)
	}

	if state.Settings != nil {
		s.settings = domain.NormalizeSettings(*state.Settings)
	} else {
		s.settings = domain.DefaultSettings()
	}
}

func stripProfileRuntime(p domain.Profile) domain.Profile {
	p.Active = false
	return p
}
