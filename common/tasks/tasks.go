package tasks

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

/*
	Group 并发执行多个任务并统一等待结果：
		- 任务发生 panic 时打印栈信息，转换成错误交给 HandleCrit，不让整个进程崩溃
		- Wait 等待所有任务结束，返回第一个错误
*/

type Group struct {
	errGroup   errgroup.Group
	HandleCrit func(err error)
}

func (t *Group) Go(fn func() error) {
	t.errGroup.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				debug.PrintStack()
				err = fmt.Errorf("panic: %v", r)
				if t.HandleCrit != nil {
					t.HandleCrit(err)
				}
			}
		}()
		return fn()
	})
}

func (t *Group) Wait() error {
	return t.errGroup.Wait()
}
