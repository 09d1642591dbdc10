package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/repository/events"
	"substarter/backend/service/shared"

	"github.com/sirupsen/logrus"
)

// SnapshotterV2 状态快照管理器
type SnapshotterV2 struct {
	path     string
	store    repository.Snapshottable
	migrator *Migrator

	mu       sync.Mutex
	pending  bool
	dirty    bool
	debounce time.Duration

	saveMu sync.Mutex
}

// NewSnapshotterV2 创建快照管理器
func NewSnapshotterV2(path string, store repository.Snapshottable) *SnapshotterV2 {
	return &SnapshotterV2{
		path:     path,
		store:    store,
		migrator: NewMigrator(),
		debounce: 200 * time.Millisecond,
	}
}

// SetDebounce 设置防抖延迟
func (s *SnapshotterV2) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// SubscribeEvents 订阅事件总线（所有写操作触发持久化）
func (s *SnapshotterV2) SubscribeEvents(bus *events.Bus) {
	bus.SubscribeAll(func(event events.Event) {
		s.Schedule()
	})
}

// Schedule 调度快照（防抖）
func (s *SnapshotterV2) Schedule() {
	s.mu.Lock()
	if s.pending {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.pending = true
	s.dirty = false
	s.mu.Unlock()

	go func() {
		for {
			s.mu.Lock()
			debounce := s.debounce
			s.mu.Unlock()

			time.Sleep(debounce)
			_ = s.save()

			s.mu.Lock()
			if s.dirty {
				s.dirty = false
				s.mu.Unlock()
				continue
			}
			s.pending = false
			s.mu.Unlock()
			return
		}
	}()
}

// WaitIdle 等待排队中的快照写完
func (s *SnapshotterV2) WaitIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		pending := s.pending
		s.mu.Unlock()
		if !pending {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("snapshot still pending after %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// SaveNow 立即保存（同步）
func (s *SnapshotterV2) SaveNow() error {
	return s.save()
}

func (s *SnapshotterV2) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	state := s.store.Snapshot()
	if err := SaveV2(s.path, state); err != nil {
		logrus.Errorf("[Snapshot] write failed: %v", err)
		return err
	}
	return nil
}

// Load 加载状态（严格版本校验）
func (s *SnapshotterV2) Load() (domain.ServiceState, error) {
	return loadWith(s.migrator, s.path)
}

// LoadV2 加载状态（严格版本校验）；文件不存在时返回空状态
func LoadV2(path string) (domain.ServiceState, error) {
	return loadWith(NewMigrator(), path)
}

func loadWith(m *Migrator, path string) (domain.ServiceState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ServiceState{SchemaVersion: SchemaVersion}, nil
		}
		return domain.ServiceState{}, err
	}
	if len(data) == 0 {
		return domain.ServiceState{SchemaVersion: SchemaVersion}, nil
	}
	return m.Migrate(data)
}

// SaveV2 保存状态（原子写入）
func SaveV2(path string, state domain.ServiceState) error {
	state.SchemaVersion = SchemaVersion
	state.GeneratedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return shared.WriteAtomic(path, data, 0o644)
}
