package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/queue"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

var (
	ErrQueueFull     = errors.New("background queue is full")
	ErrRunnerStopped = errors.New("background runner stopped")
)

// Task 一个脱离请求生命周期的后台任务
type Task struct {
	Name string
	Key  string

	fn    func(context.Context) error
	enqAt time.Time
	done  chan struct{}
	err   error
}

// Wait 等待任务结束，返回任务自身的错误
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 任务结束后关闭
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// BackgroundRunner 有界队列 + 固定 worker。调用方永不阻塞，失败写日志与死信。
type BackgroundRunner struct {
	ch          chan *Task
	timeout     time.Duration
	deadLetters queue.DeadLetterRecorder

	mu      sync.RWMutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	latency chan time.Duration
}

func NewBackgroundRunner(queueSize int, timeout time.Duration, deadLetters queue.DeadLetterRecorder) *BackgroundRunner {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BackgroundRunner{
		ch:          make(chan *Task, queueSize),
		timeout:     timeout,
		deadLetters: deadLetters,
		stopCh:      make(chan struct{}),
		latency:     make(chan time.Duration, 65536),
	}
}

// Start 启动 workers，返回停止函数（先排空队列，超过 ctx 则放弃）
func (r *BackgroundRunner) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.loop()
	}
	return r.Stop
}

func (r *BackgroundRunner) loop() {
	defer r.wg.Done()
	for {
		select {
		case t := <-r.ch:
			r.run(t)
		case <-r.stopCh:
			// 停止前把已入队的任务跑完
			for {
				select {
				case t := <-r.ch:
					r.run(t)
				default:
					return
				}
			}
		}
	}
}

// Go 入队一个任务；队列满或已停止时任务立即以错误结束
func (r *BackgroundRunner) Go(name, key string, fn func(context.Context) error) *Task {
	t := &Task{Name: name, Key: key, fn: fn, enqAt: time.Now(), done: make(chan struct{})}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		go r.fail(t, ErrRunnerStopped, 0)
		return t
	}
	select {
	case r.ch <- t:
		metrics.BackgroundQueueDepth.Set(float64(len(r.ch)))
	default:
		// 死信落库不能拖住调用方
		go r.fail(t, ErrQueueFull, 0)
	}
	return t
}

func (r *BackgroundRunner) run(t *Task) {
	metrics.BackgroundQueueDepth.Set(float64(len(r.ch)))
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := safeCall(ctx, t.fn)
	select {
	case r.latency <- time.Since(t.enqAt):
	default:
	}
	if err != nil {
		r.fail(t, err, 1)
		return
	}
	metrics.BackgroundTasks.WithLabelValues(t.Name, "ok").Inc()
	t.finish(nil)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *BackgroundRunner) fail(t *Task, err error, attempts int) {
	outcome := "failed"
	if attempts == 0 {
		outcome = "dropped"
	}
	metrics.BackgroundTasks.WithLabelValues(t.Name, outcome).Inc()
	metrics.DeadLetters.WithLabelValues("task").Inc()
	logger.Error("background task failed",
		zap.String("task", t.Name),
		zap.String("key", t.Key),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
	sentry.CaptureException(fmt.Errorf("%s %s: %w", t.Name, t.Key, err))

	if r.deadLetters != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		recErr := r.deadLetters.Record(ctx, &model.DeadLetter{
			Source:   "task",
			Task:     t.Name,
			Key:      t.Key,
			Error:    err.Error(),
			Attempts: attempts,
		})
		cancel()
		if recErr != nil {
			logger.Error("record dead letter failed", zap.String("task", t.Name), zap.Error(recErr))
		}
	}
	t.finish(err)
}

// Stop 停止接收新任务并等待 worker 排空
func (r *BackgroundRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latency 入队到完成耗时的只读通道
func (r *BackgroundRunner) Latency() <-chan time.Duration { return r.latency }

// QueueLen 当前队列长度（采样值）
func (r *BackgroundRunner) QueueLen() int { return len(r.ch) }
