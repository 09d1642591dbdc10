package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"substarter/backend/domain"

	"github.com/google/uuid"
)

// SchemaVersion 当前架构版本
const SchemaVersion = "1.0.0"

// 旧版桌面端的数据文件（PascalCase 字段，分两个文件保存）
const (
	legacyProfilesFile = "subscriptions.json"
	legacySettingsFile = "settings.json"
)

type legacyProfile struct {
	domain.Profile
	IsEnabled         *bool `json:"IsEnabled"`
	AutoUpdateEnabled *bool `json:"AutoUpdateEnabled"`
}

// Migrator 版本校验器（仅接受当前 schemaVersion）
type Migrator struct{}

// NewMigrator 创建校验器
func NewMigrator() *Migrator {
	return &Migrator{}
}

// Migrate 解析并校验版本
func (m *Migrator) Migrate(data []byte) (domain.ServiceState, error) {
	if len(data) == 0 {
		return domain.ServiceState{SchemaVersion: SchemaVersion}, nil
	}

	// 先只解析 schemaVersion，避免直接丢字段导致不可逆数据丢失。
	var meta struct {
		SchemaVersion string `json:"schemaVersion,omitempty"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.ServiceState{}, fmt.Errorf("failed to parse state: %w", err)
	}

	switch meta.SchemaVersion {
	case "", SchemaVersion:
		// 未写版本号的早期文件按当前结构尽力解析
		var state domain.ServiceState
		if err := json.Unmarshal(data, &state); err != nil {
			return domain.ServiceState{}, fmt.Errorf("failed to parse state: %w", err)
		}
		state.SchemaVersion = SchemaVersion
		if state.GeneratedAt.IsZero() {
			state.GeneratedAt = time.Now()
		}
		return sanitizeServiceState(state), nil
	default:
		return domain.ServiceState{}, fmt.Errorf("unsupported schemaVersion %s (expected %s)", meta.SchemaVersion, SchemaVersion)
	}
}

// ImportLegacy 从旧版数据目录导入订阅与设置。
// 两个文件都不存在时 found=false。
func (m *Migrator) ImportLegacy(dir string) (state domain.ServiceState, found bool, err error) {
	state = domain.ServiceState{SchemaVersion: SchemaVersion, GeneratedAt: time.Now()}

	profilesData, err := readOptional(filepath.Join(dir, legacyProfilesFile))
	if err != nil {
		return state, false, err
	}
	settingsData, err := readOptional(filepath.Join(dir, legacySettingsFile))
	if err != nil {
		return state, false, err
	}
	if profilesData == nil && settingsData == nil {
		return state, false, nil
	}

	if len(profilesData) > 0 {
		var legacy []legacyProfile
		if err := json.Unmarshal(profilesData, &legacy); err != nil {
			return state, false, fmt.Errorf("failed to parse %s: %w", legacyProfilesFile, err)
		}
		for _, lp := range legacy {
			p := lp.Profile
			p.Enabled = lp.IsEnabled == nil || *lp.IsEnabled
			p.AutoUpdate = lp.AutoUpdateEnabled == nil || *lp.AutoUpdateEnabled
			state.Profiles = append(state.Profiles, p)
		}
	}

	if len(settingsData) > 0 {
		settings := domain.DefaultSettings()
		if err := json.Unmarshal(settingsData, &settings); err != nil {
			return state, false, fmt.Errorf("failed to parse %s: %w", legacySettingsFile, err)
		}
		state.Settings = &settings
	}

	return sanitizeServiceState(state), true, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if data == nil && err == nil {
		data = []byte{}
	}
	return data, err
}

func sanitizeServiceState(state domain.ServiceState) domain.ServiceState {
	seen := make(map[string]struct{}, len(state.Profiles))
	profiles := make([]domain.Profile, 0, len(state.Profiles))
	for _, p := range state.Profiles {
		p = domain.NormalizeProfile(p)
		// 旧文件可能缺 ID 或出现重复 ID
		if _, dup := seen[p.ID]; p.ID == "" || dup {
			p.ID = uuid.NewString()
		}
		seen[p.ID] = struct{}{}
		p.Active = false
		profiles = append(profiles, p)
	}
	state.Profiles = profiles

	if state.Settings != nil {
		settings := domain.NormalizeSettings(*state.Settings)
		state.Settings = &settings
	}
	return state
}
