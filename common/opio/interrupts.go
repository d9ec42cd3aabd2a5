package opio

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

/*
	把操作系统的中断信号转换成阻塞函数或 context 取消，用于优雅退出：
		- main 里用 WithInterruptBlocker 在 context 中注入一个监听器，所有下游共享同一个信号通道
		- 单次执行的命令（hash、migrate）用 CancelOnInterrupt 把信号转换成 ctx 取消
		- 长时间运行的服务由 cliapp 调用 BlockFn 等待信号
*/

var DefaultInterruptSignals = []os.Signal{
	os.Interrupt,
	os.Kill, // 不可捕获，signal.Notify 对它不起作用
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// BlockOnInterruptsContext 阻塞直到收到信号或 ctx 结束
func BlockOnInterruptsContext(ctx context.Context, signals ...os.Signal) {
	if len(signals) == 0 {
		signals = DefaultInterruptSignals
	}
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, signals...)
	defer signal.Stop(interruptChannel)
	select {
	case <-interruptChannel:
	case <-ctx.Done():
	}
}

type interruptContextKeyType struct{}

var blockerContextKey = interruptContextKeyType{}

type interruptCatcher struct {
	incoming chan os.Signal
}

func (c *interruptCatcher) Block(ctx context.Context) {
	select {
	case <-c.incoming:
	case <-ctx.Done():
	}
}

// WithInterruptBlocker 在 ctx 中注入一个共享的信号监听器，已经存在时原样返回
func WithInterruptBlocker(ctx context.Context) context.Context {
	if ctx.Value(blockerContextKey) != nil {
		return ctx
	}
	catcher := &interruptCatcher{
		incoming: make(chan os.Signal, 10),
	}
	signal.Notify(catcher.incoming, DefaultInterruptSignals...)

	return context.WithValue(ctx, blockerContextKey, BlockFn(catcher.Block))
}

// WithBlocker 注入自定义的阻塞函数，测试里用它模拟中断
func WithBlocker(ctx context.Context, fn BlockFn) context.Context {
	return context.WithValue(ctx, blockerContextKey, fn)
}

type BlockFn func(ctx context.Context)

func BlockerFromContext(ctx context.Context) BlockFn {
	v := ctx.Value(blockerContextKey)
	if v == nil {
		return nil
	}
	return v.(BlockFn)
}

// Blocker 返回 ctx 中的阻塞函数，没有时直接监听默认信号
func Blocker(ctx context.Context) BlockFn {
	if fn := BlockerFromContext(ctx); fn != nil {
		return fn
	}
	return func(ctx context.Context) {
		BlockOnInterruptsContext(ctx)
	}
}

// CancelOnInterrupt 返回一个收到中断信号时被取消的 ctx
func CancelOnInterrupt(ctx context.Context) context.Context {
	inner, cancel := context.WithCancel(ctx)
	blockOnInterrupt := Blocker(ctx)
	go func() {
		blockOnInterrupt(inner)
		cancel()
	}()
	return inner
}
