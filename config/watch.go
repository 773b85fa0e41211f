package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变更，校验通过后回调新配置。
// 冷却时间内的重复写入会被吞掉，避免编辑器保存风暴触发连环重载。
type Watcher struct {
	Path     string
	Cooldown time.Duration

	fsw        *fsnotify.Watcher
	lastReload time.Time
}

func NewWatcher(path string, cooldown time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Watcher{Path: path, Cooldown: cooldown, fsw: fsw}, nil
}

// Start 开始监听；onUpdate 在配置变更且通过校验后收到新配置。
// 加载或校验失败只忽略本次变更，旧配置继续生效。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if err := w.fsw.Add(w.Path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}
	go w.loop(ctx, onUpdate)
	return nil
}

func (w *Watcher) loop(ctx context.Context, onUpdate func(AppConfig)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write &&
				event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if time.Since(w.lastReload) < w.Cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				continue
			}
			w.lastReload = time.Now()
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
