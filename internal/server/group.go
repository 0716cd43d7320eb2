package server

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group 一组一起启停的 Manager
type Group struct {
	managers []*Manager
	failed   chan error
	once     sync.Once
}

func NewGroup(managers ...*Manager) *Group {
	return &Group{managers: managers, failed: make(chan error, 1)}
}

// Start 按顺序启动；任一失败时关闭已启动的，返回该错误
func (g *Group) Start() error {
	for i, m := range g.managers {
		if err := m.Start(); err != nil {
			for _, started := range g.managers[:i] {
				_ = started.Shutdown(context.Background())
			}
			return err
		}
	}
	g.once.Do(g.forwardErrors)
	return nil
}

// forwardErrors 第一个异步失败转发到 Errors
func (g *Group) forwardErrors() {
	for _, m := range g.managers {
		go func(m *Manager) {
			if err, ok := <-m.Errors(); ok {
				select {
				case g.failed <- err:
				default:
				}
			}
		}(m)
	}
}

func (g *Group) Errors() <-chan error {
	return g.failed
}

// Shutdown 并发关闭所有 Manager，返回所有失败
func (g *Group) Shutdown(ctx context.Context) error {
	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, m := range g.managers {
		eg.Go(func() error {
			if err := m.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}
