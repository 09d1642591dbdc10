package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"substarter/backend/service/shared"
)

// ProfileSyncer 自动更新到期订阅；有订阅被刷新时返回 true
type ProfileSyncer interface {
	SyncDue(ctx context.Context) bool
}

type Scheduler struct {
	profiles  ProfileSyncer
	afterSync func(context.Context)

	initialDelay time.Duration
	interval     time.Duration
}

// NewScheduler afterSync 在一轮自动更新确有订阅刷新后调用（用于重写运行配置）
func NewScheduler(profiles ProfileSyncer, afterSync func(context.Context)) *Scheduler {
	return &Scheduler{
		profiles:     profiles,
		afterSync:    afterSync,
		initialDelay: shared.SyncInitialDelay,
		interval:     shared.SyncTickInterval,
	}
}

// Start 在后台启动调度，ctx 取消时退出
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.profiles == nil {
		return
	}
	go runWithTicker(ctx, s.initialDelay, s.interval, "profile sync", s.syncOnce)
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	if !s.profiles.SyncDue(ctx) {
		return
	}
	if s.afterSync != nil {
		s.afterSync(ctx)
	}
}

func runWithTicker(ctx context.Context, initialDelay, interval time.Duration, name string, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}

	// 启动后等待一段时间再跑第一轮，避开启动时的网络与内核初始化
	if initialDelay > 0 {
		timer := time.NewTimer(initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	safeRun(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safeRun(ctx, name, fn)
		}
	}
}

func safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[tasks] %s panicked: %v", name, r)
		}
	}()
	fn(ctx)
}
