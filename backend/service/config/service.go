package config

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"substarter/backend/domain"
	"substarter/backend/repository"
	"substarter/backend/service/cache"
	"substarter/backend/service/fetch"
	"substarter/backend/service/node"
	"substarter/backend/service/shared"
)

const bom = "\ufeff"

// Fetcher 订阅下载
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// Cache 订阅解析产物缓存
type Cache interface {
	Save(profileID string, result domain.ParseResult) error
	SaveRaw(profileID, text string) error
	LoadRaw(profileID string) (string, error)
	Remove(profileID string) error
	Prune(keep []string) (int, error)
	BuildEditableDocument(profileID, baseText string, defaults cache.Defaults) string
}

// Catalog 全局目录聚合
type Catalog interface {
	Rebuild(profiles []domain.Profile) (domain.Catalog, error)
}

// ProfileError 附带订阅 ID 的操作错误
type ProfileError struct {
	ProfileID string
	Err       error
}

func (e *ProfileError) Error() string {
	if e == nil || e.Err == nil {
		return "profile operation failed"
	}
	if strings.TrimSpace(e.ProfileID) == "" {
		return e.Err.Error()
	}
	return "profile " + e.ProfileID + ": " + e.Err.Error()
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// Service 订阅服务：增删改查与拉取编排
type Service struct {
	repo    repository.ProfileRepository
	fetcher Fetcher
	cache   Cache
	catalog Catalog

	flight     singleflight.Group
	locks      *xsync.MapOf[string, *sync.Mutex]
	refreshing *xsync.MapOf[string, time.Time]
	sweepMu    sync.Mutex

	now func() time.Time
}

// NewService 创建订阅服务
func NewService(repo repository.ProfileRepository, fetcher Fetcher, cache Cache, catalog Catalog) *Service {
	return &Service{
		repo:       repo,
		fetcher:    fetcher,
		cache:      cache,
		catalog:    catalog,
		locks:      xsync.NewMapOf[string, *sync.Mutex](),
		refreshing: xsync.NewMapOf[string, time.Time](),
		now:        time.Now,
	}
}

// ========== CRUD 操作 ==========

// List 列出所有订阅
func (s *Service) List(ctx context.Context) ([]domain.Profile, error) {
	return s.repo.List(ctx)
}

// Get 获取订阅
func (s *Service) Get(ctx context.Context, id string) (domain.Profile, error) {
	return s.repo.Get(ctx, id)
}

// Create 创建订阅（不会自动拉取）
func (s *Service) Create(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	return s.repo.Create(ctx, p)
}

// Update 更新订阅；启用状态变化会影响目录，因此同时重建目录
func (s *Service) Update(ctx context.Context, id string, p domain.Profile) (domain.Profile, error) {
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	updated, err := s.repo.Update(ctx, id, p)
	if err != nil {
		return domain.Profile{}, err
	}
	if before.Enabled != updated.Enabled {
		if _, err := s.RebuildCatalog(ctx); err != nil {
			logrus.WithField("profile", id).Warnf("[ProfileSync] 重建目录失败: %v", err)
		}
	}
	return updated, nil
}

// Delete 删除订阅及其缓存，并重建目录
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.Remove(id); err != nil {
		logrus.WithField("profile", id).Warnf("[ProfileSync] 删除订阅缓存失败: %v", err)
	}
	s.locks.Delete(id)
	if _, err := s.RebuildCatalog(ctx); err != nil {
		logrus.WithField("profile", id).Warnf("[ProfileSync] 重建目录失败: %v", err)
	}
	return nil
}

// ========== 拉取操作 ==========

// Refresh 下载并解析订阅。同一订阅的并发调用合并为一次。
func (s *Service) Refresh(ctx context.Context, id string) (domain.Profile, error) {
	v, err, _ := s.flight.Do(id, func() (interface{}, error) {
		unlock := s.lockProfile(id)
		defer unlock()
		return s.refresh(ctx, id)
	})
	p, _ := v.(domain.Profile)
	return p, err
}

func (s *Service) refresh(ctx context.Context, id string) (domain.Profile, error) {
	profile, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	log := logrus.WithField("profile", id)

	s.refreshing.Store(id, s.now())
	defer s.refreshing.Delete(id)

	target := node.ResolveSubscriptionURL(profile.URL)
	if target == "" {
		return profile, s.recordFailure(ctx, id, fetch.ErrEmptyURL)
	}

	resp, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		log.Warnf("[ProfileSync] 下载失败: %v", err)
		return profile, s.recordFailure(ctx, id, err)
	}

	text := strings.TrimPrefix(resp.Text, bom)
	status := s.ingest(ctx, profile, text)
	usage := parseSubscriptionUserinfo(resp.Header.Get("Subscription-Userinfo"))
	status.UsageUsedBytes = usage.UsedBytes
	status.UsageTotalBytes = usage.TotalBytes
	status.ExpireAt = usage.ExpireAt

	updated, err := s.repo.UpdateRefreshStatus(ctx, id, status)
	if err != nil {
		return profile, err
	}
	log.Infof("[ProfileSync] 刷新完成: %d 个节点（via %s）", status.NodeCount, resp.Via)
	return updated, nil
}

// ApplyEditedContent 用用户编辑后的文本替代网络下载，走同样的保存与解析流程
func (s *Service) ApplyEditedContent(ctx context.Context, id, content string) (domain.Profile, error) {
	unlock := s.lockProfile(id)
	defer unlock()

	profile, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	text := strings.TrimPrefix(strings.TrimSpace(content), bom)
	status := s.ingest(ctx, profile, text)
	updated, err := s.repo.UpdateRefreshStatus(ctx, id, status)
	if err != nil {
		return profile, err
	}
	logrus.WithField("profile", id).Infof("[ProfileSync] 已应用编辑内容: %d 个节点", status.NodeCount)
	return updated, nil
}

// ingest 保存原文、解析（必要时展开 proxy-providers）并写入缓存
func (s *Service) ingest(ctx context.Context, profile domain.Profile, text string) domain.RefreshStatus {
	log := logrus.WithField("profile", profile.ID)
	if err := s.cache.SaveRaw(profile.ID, text); err != nil {
		log.Warnf("[ProfileSync] 保存原文失败: %v", err)
	}

	result := s.parseWithProviders(ctx, profile, text)
	if err := s.cache.Save(profile.ID, result); err != nil {
		log.Errorf("[ProfileSync] 写入解析缓存失败: %v", err)
	}

	return domain.RefreshStatus{
		NodeCount: len(result.Nodes),
		UpdatedAt: s.now(),
		Checksum:  shared.ChecksumBytes([]byte(text)),
	}
}

// parseWithProviders 解析正文；没有节点但声明了 proxy-providers 时，
// 并发拉取各 provider（单个失败不影响其他），合并其节点与代理组。
func (s *Service) parseWithProviders(ctx context.Context, profile domain.Profile, text string) domain.ParseResult {
	result := node.Parse(text, profile.Name, profile.ID)
	if len(result.Nodes) > 0 {
		return result
	}
	refs := node.ProviderRefs(text)
	if len(refs) == 0 {
		return result
	}

	log := logrus.WithField("profile", profile.ID)
	parts := make([]domain.ParseResult, len(refs))
	var g errgroup.Group
	g.SetLimit(shared.ProviderFetchWorkers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			resp, err := s.fetcher.Fetch(ctx, ref.URL)
			if err != nil {
				log.Warnf("[ProfileSync] provider %s 下载失败，已跳过: %v", ref.Name, err)
				return nil
			}
			parts[i] = node.Parse(resp.Text, profile.Name+"-"+ref.Name, profile.ID)
			return nil
		})
	}
	_ = g.Wait()

	merged := domain.ParseResult{
		Proxies: []*domain.Map{},
		Groups:  []*domain.Map{},
		Nodes:   []domain.DisplayNode{},
	}
	var providerGroups []*domain.Map
	for _, part := range parts {
		merged.Proxies = append(merged.Proxies, part.Proxies...)
		merged.Nodes = append(merged.Nodes, part.Nodes...)
		providerGroups = append(providerGroups, part.Groups...)
	}
	if len(result.Groups) > 0 {
		merged.Groups = result.Groups
	} else if len(providerGroups) > 0 {
		merged.Groups = providerGroups
	}
	log.Infof("[ProfileSync] 通过 %d 个 provider 获得 %d 个节点", len(refs), len(merged.Nodes))
	return merged
}

func (s *Service) recordFailure(ctx context.Context, id string, cause error) error {
	if _, err := s.repo.UpdateRefreshStatus(ctx, id, domain.RefreshStatus{Err: cause}); err != nil {
		logrus.WithField("profile", id).Warnf("[ProfileSync] 记录失败状态出错: %v", err)
	}
	return &ProfileError{ProfileID: id, Err: cause}
}

// RefreshAll 刷新所有启用的订阅；单个失败只记录日志。
// 结束后清理孤立缓存并重建目录，返回失败数量。
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	profiles, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(shared.ProviderFetchWorkers)
	for _, p := range profiles {
		if !p.Enabled || strings.TrimSpace(p.URL) == "" {
			continue
		}
		p := p
		g.Go(func() error {
			if _, err := s.Refresh(ctx, p.ID); err != nil {
				failed.Add(1)
				logrus.WithField("profile", p.ID).Warnf("[ProfileSync] 刷新失败: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.prune(profiles)
	if _, err := s.RebuildCatalog(ctx); err != nil {
		return int(failed.Load()), err
	}
	return int(failed.Load()), nil
}

// DueProfiles 返回到达自动更新时间的订阅
func (s *Service) DueProfiles(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var due []domain.Profile
	for _, p := range profiles {
		if strings.TrimSpace(p.URL) != "" && p.DueForUpdate(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

// SyncDue 刷新所有到期订阅。上一轮尚未结束时直接返回 false；
// 有订阅被刷新时重建目录并返回 true。
func (s *Service) SyncDue(ctx context.Context) bool {
	if !s.sweepMu.TryLock() {
		logrus.Debug("[ProfileSync] 上一轮自动更新尚未结束，跳过")
		return false
	}
	defer s.sweepMu.Unlock()

	due, err := s.DueProfiles(ctx)
	if err != nil {
		logrus.Warnf("[ProfileSync] 读取订阅列表失败: %v", err)
		return false
	}
	if len(due) == 0 {
		return false
	}

	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Refresh(ctx, p.ID); err != nil {
			logrus.WithField("profile", p.ID).Warnf("[ProfileSync] 自动更新失败: %v", err)
		}
	}
	if _, err := s.RebuildCatalog(ctx); err != nil {
		logrus.Warnf("[ProfileSync] 重建目录失败: %v", err)
	}
	return true
}

// RebuildCatalog 按当前订阅列表重建全局目录
func (s *Service) RebuildCatalog(ctx context.Context) (domain.Catalog, error) {
	profiles, err := s.repo.List(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	return s.catalog.Rebuild(profiles)
}

// Prune 删除已不存在订阅的缓存
func (s *Service) Prune(ctx context.Context) error {
	profiles, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	s.prune(profiles)
	return nil
}

func (s *Service) prune(profiles []domain.Profile) {
	keep := make([]string, 0, len(profiles))
	for _, p := range profiles {
		keep = append(keep, p.ID)
	}
	if _, err := s.cache.Prune(keep); err != nil {
		logrus.Warnf("[ProfileSync] 清理孤立缓存失败: %v", err)
	}
}

// Raw 最近一次下载或编辑的原文
func (s *Service) Raw(ctx context.Context, id string) (string, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return "", err
	}
	return s.cache.LoadRaw(id)
}

// EditableDocument 基于原文与缓存生成可编辑的完整文档
func (s *Service) EditableDocument(ctx context.Context, id string, defaults cache.Defaults) (string, error) {
	raw, err := s.Raw(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return "", err
		}
		logrus.WithField("profile", id).Warnf("[ProfileSync] 读取原文失败: %v", err)
		raw = ""
	}
	return s.cache.BuildEditableDocument(id, raw, defaults), nil
}

// Refreshing 订阅是否正在刷新
func (s *Service) Refreshing(id string) bool {
	_, ok := s.refreshing.Load(id)
	return ok
}

// RefreshingIDs 正在刷新的订阅 ID
func (s *Service) RefreshingIDs() []string {
	var ids []string
	s.refreshing.Range(func(id string, _ time.Time) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func (s *Service) lockProfile(id string) func() {
	mu, _ := s.locks.LoadOrCompute(id, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}
