package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"substarter/backend/domain"
	"substarter/backend/persist"
	"substarter/backend/repository"
	"substarter/backend/service/applog"
	"substarter/backend/service/catalog"
	configsvc "substarter/backend/service/config"
	"substarter/backend/service/core"
	"substarter/backend/service/synth"
)

// Facade 服务门面（API 聚合层）
type Facade struct {
	profiles *configsvc.Service
	catalog  *catalog.Aggregator
	core     *core.Client

	repos    repository.Repositories
	dataRoot string

	appLogPath      string
	appLogStartedAt time.Time
}

// NewFacade 创建门面服务
func NewFacade(
	profileSvc *configsvc.Service,
	agg *catalog.Aggregator,
	coreClient *core.Client,
	repos repository.Repositories,
	dataRoot string,
) *Facade {
	return &Facade{
		profiles: profileSvc,
		catalog:  agg,
		core:     coreClient,
		repos:    repos,
		dataRoot: dataRoot,
	}
}

func (f *Facade) SetAppLog(path string, startedAt time.Time) {
	f.appLogPath = path
	f.appLogStartedAt = startedAt
}

// AppLogs 自偏移 since 起的应用日志
func (f *Facade) AppLogs(since int64) applog.Chunk {
	return applog.Since(f.appLogPath, since, f.appLogStartedAt)
}

// Snapshot 获取完整状态快照
func (f *Facade) Snapshot(ctx context.Context) (domain.ServiceState, error) {
	profiles, err := f.profiles.List(ctx)
	if err != nil {
		return domain.ServiceState{}, err
	}
	settings, err := f.repos.Settings().Get(ctx)
	if err != nil {
		return domain.ServiceState{}, err
	}
	return domain.ServiceState{
		SchemaVersion: persist.SchemaVersion,
		Profiles:      profiles,
		Settings:      &settings,
		GeneratedAt:   time.Now(),
	}, nil
}

// ========== 订阅操作 ==========

func (f *Facade) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	return f.profiles.List(ctx)
}

func (f *Facade) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return f.profiles.Get(ctx, id)
}

func (f *Facade) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	return f.profiles.Create(ctx, p)
}

// UpdateProfile 以读-改-写方式更新订阅
func (f *Facade) UpdateProfile(ctx context.Context, id string, updateFn func(domain.Profile) (domain.Profile, error)) (domain.Profile, error) {
	current, err := f.profiles.Get(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	next, err := updateFn(current)
	if err != nil {
		return domain.Profile{}, err
	}
	updated, err := f.profiles.Update(ctx, id, next)
	if err != nil {
		return domain.Profile{}, err
	}
	if current.Enabled != updated.Enabled {
		f.writeConfigSoft(ctx)
	}
	return updated, nil
}

// DeleteProfile 删除订阅并重写运行配置
func (f *Facade) DeleteProfile(ctx context.Context, id string) error {
	if err := f.profiles.Delete(ctx, id); err != nil {
		return err
	}
	f.writeConfigSoft(ctx)
	return nil
}

// RefreshProfile 刷新单个订阅，成功后重建目录并重写运行配置
func (f *Facade) RefreshProfile(ctx context.Context, id string) (domain.Profile, error) {
	p, err := f.profiles.Refresh(ctx, id)
	if err != nil {
		return p, err
	}
	if _, err := f.profiles.RebuildCatalog(ctx); err != nil {
		logrus.WithField("profile", id).Warnf("[Facade] 重建目录失败: %v", err)
	}
	f.writeConfigSoft(ctx)
	return p, nil
}

// RefreshAllProfiles 刷新全部启用订阅，返回失败数量
func (f *Facade) RefreshAllProfiles(ctx context.Context) (int, error) {
	failed, err := f.profiles.RefreshAll(ctx)
	if err != nil {
		return failed, err
	}
	f.writeConfigSoft(ctx)
	return failed, nil
}

func (f *Facade) ProfileRaw(ctx context.Context, id string) (string, error) {
	return f.profiles.Raw(ctx, id)
}

// ProfileDocument 可编辑的完整文档（缺省字段按当前设置补齐）
func (f *Facade) ProfileDocument(ctx context.Context, id string) (string, error) {
	settings, err := f.repos.Settings().Get(ctx)
	if err != nil {
		return "", err
	}
	return f.profiles.EditableDocument(ctx, id, synth.NewDefaults(settings))
}

// ApplyProfileDocument 保存用户编辑后的文档
func (f *Facade) ApplyProfileDocument(ctx context.Context, id, content string) (domain.Profile, error) {
	p, err := f.profiles.ApplyEditedContent(ctx, id, content)
	if err != nil {
		return p, err
	}
	if _, err := f.profiles.RebuildCatalog(ctx); err != nil {
		logrus.WithField("profile", id).Warnf("[Facade] 重建目录失败: %v", err)
	}
	f.writeConfigSoft(ctx)
	return p, nil
}

// RefreshingProfiles 正在刷新的订阅 ID
func (f *Facade) RefreshingProfiles() []string {
	return f.profiles.RefreshingIDs()
}

// ========== 目录 ==========

// Catalog 当前目录；内核可用时按选择组的当前选择标记活动节点与订阅
func (f *Facade) Catalog(ctx context.Context) (domain.Catalog, error) {
	cat, err := f.catalog.Load()
	if err != nil {
		return domain.Catalog{}, err
	}
	if f.core == nil || len(cat.Nodes) == 0 {
		return cat, nil
	}

	settings, err := f.repos.Settings().Get(ctx)
	if err != nil {
		return cat, nil
	}
	selected, err := f.core.Selected(ctx, domain.NormalizeSettings(settings).SelectionGroup)
	if err != nil {
		logrus.Debugf("[Facade] 读取当前选择失败: %v", err)
		return cat, nil
	}

	activeProfile := ""
	for i := range cat.Nodes {
		if cat.Nodes[i].Name == selected {
			cat.Nodes[i].Active = true
			if activeProfile == "" {
				activeProfile = cat.Nodes[i].SourceID
			}
		}
	}
	if err := f.repos.Profile().SetActive(ctx, activeProfile); err != nil {
		logrus.Debugf("[Facade] 标记活动订阅失败: %v", err)
	}
	return cat, nil
}

// ========== 设置与运行配置 ==========

func (f *Facade) Settings(ctx context.Context) (domain.Settings, error) {
	return f.repos.Settings().Get(ctx)
}

// UpdateSettings 保存设置并重写运行配置
func (f *Facade) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	updated, err := f.repos.Settings().Update(ctx, settings)
	if err != nil {
		return domain.Settings{}, err
	}
	f.writeConfigSoft(ctx)
	return updated, nil
}

// PreviewConfig 按当前设置与目录渲染运行配置，不写盘
func (f *Facade) PreviewConfig(ctx context.Context) ([]byte, error) {
	settings, cat, err := f.configInputs(ctx)
	if err != nil {
		return nil, err
	}
	return synth.Render(settings, cat)
}

// WriteConfig 渲染并写入运行配置，返回文件路径
func (f *Facade) WriteConfig(ctx context.Context) (string, error) {
	settings, cat, err := f.configInputs(ctx)
	if err != nil {
		return "", err
	}
	return synth.WriteConfig(settings, cat, f.dataRoot)
}

func (f *Facade) configInputs(ctx context.Context) (domain.Settings, domain.Catalog, error) {
	settings, err := f.repos.Settings().Get(ctx)
	if err != nil {
		return domain.Settings{}, domain.Catalog{}, err
	}
	cat, err := f.catalog.Load()
	if err != nil {
		return domain.Settings{}, domain.Catalog{}, err
	}
	return settings, cat, nil
}

func (f *Facade) writeConfigSoft(ctx context.Context) {
	if path, err := f.WriteConfig(ctx); err != nil {
		logrus.Warnf("[Facade] 写入运行配置失败: %v", err)
	} else {
		logrus.Debugf("[Facade] 运行配置已写入 %s", path)
	}
}

// ========== 内核操作 ==========

func (f *Facade) CoreProxies(ctx context.Context) (map[string]domain.CoreProxy, error) {
	return f.core.Proxies(ctx)
}

// SelectProxy 切换代理组选择；group 为空时使用设置中的选择组
func (f *Facade) SelectProxy(ctx context.Context, group, name string) error {
	if strings.TrimSpace(group) == "" {
		settings, err := f.repos.Settings().Get(ctx)
		if err != nil {
			return err
		}
		group = domain.NormalizeSettings(settings).SelectionGroup
	}
	return f.core.Select(ctx, group, name)
}

// SetMode 切换内核路由模式并同步保存到设置
func (f *Facade) SetMode(ctx context.Context, mode string) error {
	if err := f.core.SetMode(ctx, mode); err != nil {
		return err
	}
	settings, err := f.repos.Settings().Get(ctx)
	if err != nil {
		return err
	}
	settings.Mode = mode
	_, err = f.repos.Settings().Update(ctx, settings)
	return err
}

// NodeDelay 测试节点延迟：优先走内核，内核不可用时直接 TCP 建连
func (f *Facade) NodeDelay(ctx context.Context, name string) (int, error) {
	ms, err := f.core.Delay(ctx, name, "", 0)
	if err == nil {
		return ms, nil
	}
	cat, loadErr := f.catalog.Load()
	if loadErr != nil {
		return 0, err
	}
	for _, n := range cat.Nodes {
		if n.Name == name && n.Address != "" && n.Port > 0 {
			return core.TestTCP(ctx, n.Address, n.Port, 0)
		}
	}
	return 0, err
}
