package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"substarter/backend/api"
	"substarter/backend/domain"
	"substarter/backend/persist"
	"substarter/backend/repository"
	"substarter/backend/repository/events"
	"substarter/backend/repository/memory"
	"substarter/backend/service"
	"substarter/backend/service/cache"
	"substarter/backend/service/catalog"
	configsvc "substarter/backend/service/config"
	"substarter/backend/service/core"
	"substarter/backend/service/fetch"
	"substarter/backend/service/shared"
	"substarter/backend/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "127.0.0.1:19090", "HTTP listen address")
	dataRoot := flag.String("data", "", "data directory (default: $"+shared.EnvDataRoot+" or the user config dir)")
	statePath := flag.String("state", "", "path to state snapshot (default: <data>/state.json)")
	dev := flag.Bool("dev", false, "enable development mode with verbose logging")
	flag.Parse()

	root := strings.TrimSpace(*dataRoot)
	if root == "" {
		root = shared.DataRoot()
	}
	if strings.TrimSpace(*statePath) == "" {
		*statePath = shared.StatePath(root)
	}

	if *dev {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	appLogPath := shared.AppLogPath(root)
	appLogStartedAt := time.Now()
	closeLog, err := shared.SetupLogging(*dev, appLogPath)
	if err != nil {
		logrus.Warnf("[AppLog] %v", err)
		appLogPath = ""
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. 事件总线与内存存储
	eventBus := events.NewBus()
	memStore := memory.NewStore(eventBus)

	// 2. 加载状态（严格版本校验）；没有状态文件时尝试导入旧版数据
	state, err := loadState(*statePath, root)
	if err != nil {
		logrus.Errorf("[Snapshot] load %s failed: %v", *statePath, err)
		logrus.Errorf("[Snapshot] 拒绝启动以避免覆盖 state 文件，请移动/删除该文件或修正 schemaVersion 后重试")
		return 1
	}
	memStore.LoadState(state)

	// 3. 仓储层
	repos := &repository.RepositoriesImpl{
		Store:        memStore,
		ProfileRepo:  memory.NewProfileRepo(memStore),
		SettingsRepo: memory.NewSettingsRepo(memStore),
	}

	// 4. 订阅缓存
	store, err := cache.Open(shared.CachePath(root))
	if err != nil {
		logrus.Errorf("[Cache] %v", err)
		return 1
	}
	defer store.Close()

	// 5. 服务层
	agg := catalog.NewAggregator(store)
	profileSvc := configsvc.NewService(repos.Profile(), fetch.NewDefault(), store, agg)
	coreClient := core.NewClient(core.SettingsEndpoint(func() domain.Settings {
		s, _ := repos.Settings().Get(context.Background())
		return s
	}), nil)

	facade := service.NewFacade(profileSvc, agg, coreClient, repos, root)
	facade.SetAppLog(appLogPath, appLogStartedAt)

	// 6. 持久化（事件驱动）
	snapshotter := persist.NewSnapshotterV2(*statePath, memStore)
	snapshotter.SubscribeEvents(eventBus)
	if err := snapshotter.SaveNow(); err != nil {
		logrus.Warnf("[Snapshot] initial save failed: %v", err)
	}

	// 7. 启动时清理孤立缓存并按现有缓存重建目录与运行配置
	if err := profileSvc.Prune(ctx); err != nil {
		logrus.Warnf("[Cache] prune failed: %v", err)
	}
	if _, err := profileSvc.RebuildCatalog(ctx); err != nil {
		logrus.Warnf("[Catalog] rebuild failed: %v", err)
	}
	if path, err := facade.WriteConfig(ctx); err != nil {
		logrus.Warnf("[Synth] write config failed: %v", err)
	} else {
		logrus.Infof("[Synth] config written to %s", path)
	}

	// 8. 后台任务：到期订阅自动更新，完成后重写运行配置
	tasks.NewScheduler(profileSvc, func(ctx context.Context) {
		if _, err := facade.WriteConfig(ctx); err != nil {
			logrus.Warnf("[Synth] write config after sync failed: %v", err)
		}
	}).Start(ctx)

	// 9. HTTP API
	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(facade),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanupDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		logrus.Info("收到退出信号，正在清理...")

		if err := snapshotter.SaveNow(); err != nil {
			logrus.Errorf("[Snapshot] 保存状态失败: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("graceful shutdown failed: %v", err)
		}
		close(cleanupDone)
	}()

	logrus.Infof("server listening on %s (data: %s)", srv.Addr, root)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Errorf("listen: %v", err)
		cancel()
		<-cleanupDone
		return 1
	}
	<-cleanupDone
	return 0
}

// loadState 读取状态快照；快照不存在时尝试从 root 导入旧版 subscriptions.json / settings.json
func loadState(statePath, root string) (domain.ServiceState, error) {
	if _, err := os.Stat(statePath); err == nil {
		state, err := persist.LoadV2(statePath)
		if err != nil {
			return domain.ServiceState{}, err
		}
		logrus.Infof("[Snapshot] state loaded from %s", statePath)
		return state, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.ServiceState{}, err
	}

	state, found, err := persist.NewMigrator().ImportLegacy(root)
	if err != nil {
		return domain.ServiceState{}, err
	}
	if found {
		logrus.Infof("[Snapshot] imported %d legacy profiles from %s", len(state.Profiles), root)
	} else {
		logrus.Infof("[Snapshot] 未找到状态文件 %s，将以空状态启动", statePath)
	}
	return state, nil
}
