// Package scheduler 提供可动态配置的定时任务调度
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/common/tracing"
)

// 任务状态
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const defaultHistorySize = 20

// Task 任务描述
type Task struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
}

// Handler 任务处理函数
type Handler func(ctx context.Context) error

// Alerter 任务失败告警
type Alerter interface {
	NotifyTaskFailed(ctx context.Context, taskID string, err error) error
}

// ScheduleParser 调度表达式解析
type ScheduleParser interface {
	Parse(spec string) (cron.Schedule, error)
}

// DefaultParser 标准 5 段表达式，可选秒字段，支持 @daily/@every 等描述符
func DefaultParser() ScheduleParser {
	return cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
}

// RunRecord 单次执行记录
type RunRecord struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// TaskSnapshot 任务状态快照
type TaskSnapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Schedule  string      `json:"schedule"`
	Enabled   bool        `json:"enabled"`
	Status    string      `json:"status"`
	LastRun   *time.Time  `json:"last_run,omitempty"`
	NextRun   *time.Time  `json:"next_run,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	History   []RunRecord `json:"history"`
}

// entry 调度表中的任务
type entry struct {
	task      Task
	handler   Handler
	schedule  cron.Schedule
	status    string
	lastRun   *time.Time
	lastError string
	history   []RunRecord
	stop      chan struct{} // 非 nil 表示定时器已启动
}

// Scheduler 定时任务调度器
// 同一任务 ID 同一时刻最多只有一次执行，任务注销后重新注册也不例外
type Scheduler struct {
	mu       sync.Mutex
	entries  map[string]*entry
	running  map[string]bool // 按任务 ID 记录执行中的任务，不随注销清除
	started  bool
	stopping bool

	timers sync.WaitGroup
	runs   sync.WaitGroup

	parser         ScheduleParser
	loc            *time.Location
	alerter        Alerter
	metrics        *metrics.Metrics
	log            *zap.Logger
	historySize    int
	handlerTimeout time.Duration
	now            func() time.Time
}

// Option 调度器可选项
type Option func(*Scheduler)

// WithParser 设置调度表达式解析器
func WithParser(p ScheduleParser) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithLocation 设置调度时区
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithAlerter 设置失败告警
func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) {
		s.alerter = a
	}
}

// WithMetrics 设置监控指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHistorySize 设置每个任务保留的执行记录数
func WithHistorySize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithHandlerTimeout 设置单次执行超时，0 表示不限制
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.handlerTimeout = d
	}
}

// NewScheduler 创建调度器
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		entries:     make(map[string]*entry),
		running:     make(map[string]bool),
		parser:      DefaultParser(),
		loc:         time.Local,
		metrics:     metrics.GetMetrics(),
		log:         logger.Named("scheduler"),
		historySize: defaultHistorySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 注册任务，已启动时立即为启用的任务装载定时器
func (s *Scheduler) Register(task Task, handler Handler) error {
	if task.ID == "" || handler == nil {
		return errors.ErrInvalidParams
	}
	schedule, err := s.parser.Parse(task.Schedule)
	if err != nil {
		return errors.ErrInvalidSchedule.WithError(err)
	}
	if task.Name == "" {
		task.Name = task.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[task.ID]; ok {
		return errors.ErrTaskExists
	}
	e := &entry{
		task:     task,
		handler:  handler,
		schedule: schedule,
		status:   StatusIdle,
	}
	s.entries[task.ID] = e
	s.arm(e)

	s.log.Info("任务已注册",
		logger.TaskID(task.ID),
		zap.String("schedule", task.Schedule),
		zap.Bool("enabled", task.Enabled),
	)
	return nil
}

// Unregister 移除任务，正在执行的一次不受影响
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return errors.ErrTaskNotFound
	}
	s.disarm(e)
	delete(s.entries, id)
	return nil
}

// SetEnabled 启用或停用任务，保留执行记录
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return errors.ErrTaskNotFound
	}
	e.task.Enabled = enabled
	if enabled {
		s.arm(e)
	} else {
		s.disarm(e)
	}
	s.log.Info("任务启用状态变更", logger.TaskID(id), zap.Bool("enabled", enabled))
	return nil
}

// Reschedule 修改任务调度表达式
func (s *Scheduler) Reschedule(id, spec string) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return errors.ErrInvalidSchedule.WithError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return errors.ErrTaskNotFound
	}
	s.disarm(e)
	e.task.Schedule = spec
	e.schedule = schedule
	s.arm(e)
	return nil
}

// RunNow 立即同步执行一次，与定时器无关
// 任务停用时返回 ErrTaskDisabled，正在执行时返回 ErrTaskRunning
func (s *Scheduler) RunNow(ctx context.Context, id string) (RunRecord, error) {
	return s.fire(context.WithoutCancel(ctx), id)
}

// List 返回全部任务快照，按 ID 排序
func (s *Scheduler) List() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	out := make([]TaskSnapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get 返回单个任务快照
func (s *Scheduler) Get(id string) (TaskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return TaskSnapshot{}, errors.ErrTaskNotFound
	}
	return e.snapshot(s.now().In(s.loc)), nil
}

// Start 为全部启用任务装载定时器
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopping = false
	for _, e := range s.entries {
		s.arm(e)
	}
	s.log.Info("调度器已启动", zap.Int("tasks", len(s.entries)))
}

// Stop 停止全部定时器并等待正在执行的任务结束，不会中断执行中的任务
// 停止后 RunNow 返回 ErrSchedulerStopped，直到再次 Start
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	s.stopping = true
	for _, e := range s.entries {
		s.disarm(e)
	}
	s.mu.Unlock()

	s.timers.Wait()
	s.runs.Wait()
	s.log.Info("调度器已停止")
}

// arm 启动任务定时器，调用方持有锁
func (s *Scheduler) arm(e *entry) {
	if !s.started || !e.task.Enabled || e.stop != nil {
		return
	}
	stop := make(chan struct{})
	e.stop = stop
	s.timers.Add(1)
	go s.loop(e.task.ID, e.schedule, stop)
}

// disarm 停止任务定时器，调用方持有锁
func (s *Scheduler) disarm(e *entry) {
	if e.stop == nil {
		return
	}
	close(e.stop)
	e.stop = nil
}

// loop 单个任务的定时器循环
// 执行期间错过的触发点直接跳过，执行结束后按当前时间计算下一次
func (s *Scheduler) loop(id string, schedule cron.Schedule, stop <-chan struct{}) {
	defer s.timers.Done()

	for {
		now := s.now().In(s.loc)
		next := schedule.Next(now)
		if next.IsZero() {
			return
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		// 定时器与停用竞争时以停用为准
		select {
		case <-stop:
			return
		default:
		}

		if _, err := s.fire(context.Background(), id); err != nil {
			switch {
			case stderrors.Is(err, errors.ErrTaskRunning):
				s.log.Warn("任务仍在执行，跳过本次触发", logger.TaskID(id))
			case stderrors.Is(err, errors.ErrTaskNotFound),
				stderrors.Is(err, errors.ErrTaskDisabled),
				stderrors.Is(err, errors.ErrSchedulerStopped):
				return
			}
		}
	}
}

// fire 执行一次任务
func (s *Scheduler) fire(ctx context.Context, id string) (RunRecord, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	switch {
	case s.stopping:
		s.mu.Unlock()
		return RunRecord{}, errors.ErrSchedulerStopped
	case !ok:
		s.mu.Unlock()
		return RunRecord{}, errors.ErrTaskNotFound
	case !e.task.Enabled:
		s.mu.Unlock()
		return RunRecord{}, errors.ErrTaskDisabled
	case s.running[id]:
		s.mu.Unlock()
		return RunRecord{}, errors.ErrTaskRunning
	}

	startedAt := s.now().In(s.loc)
	s.running[id] = true
	e.status = StatusRunning
	e.lastRun = &startedAt
	handler := e.handler
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	err := s.invoke(ctx, id, handler)

	record := RunRecord{
		StartedAt: startedAt,
		Duration:  s.now().Sub(startedAt),
		Status:    StatusSuccess,
	}
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
	}

	s.mu.Lock()
	delete(s.running, id)
	if current, ok := s.entries[id]; ok && current == e {
		e.status = record.Status
		e.lastError = record.Error
		e.history = append(e.history, record)
		if over := len(e.history) - s.historySize; over > 0 {
			e.history = append([]RunRecord(nil), e.history[over:]...)
		}
	}
	s.mu.Unlock()

	s.metrics.RecordTaskRun(id, record.Status, record.Duration)

	if err != nil {
		s.log.Error("任务执行失败",
			logger.TaskID(id),
			logger.Latency(record.Duration),
			zap.Error(err),
		)
		s.alert(ctx, id, err)
		return record, errors.ErrTaskFailed.WithError(err)
	}

	s.log.Info("任务执行完成", logger.TaskID(id), logger.Latency(record.Duration))
	return record, nil
}

// invoke 调用处理函数，panic 转为错误
func (s *Scheduler) invoke(ctx context.Context, id string, handler Handler) (err error) {
	if s.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handlerTimeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "scheduler.fire", tracing.WithTaskID(id))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		tracing.EndSpan(span, err)
	}()

	return handler(ctx)
}

// alert 发送失败告警，告警失败只记录日志
func (s *Scheduler) alert(ctx context.Context, id string, cause error) {
	if s.alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("任务告警异常", logger.TaskID(id), zap.Any("panic", r))
		}
	}()
	if err := s.alerter.NotifyTaskFailed(ctx, id, cause); err != nil {
		s.log.Warn("任务告警发送失败", logger.TaskID(id), zap.Error(err))
	}
}

// snapshot 生成快照，调用方持有锁
func (e *entry) snapshot(now time.Time) TaskSnapshot {
	snap := TaskSnapshot{
		ID:        e.task.ID,
		Name:      e.task.Name,
		Schedule:  e.task.Schedule,
		Enabled:   e.task.Enabled,
		Status:    e.status,
		LastError: e.lastError,
		History:   append([]RunRecord{}, e.history...),
	}
	if e.lastRun != nil {
		t := *e.lastRun
		snap.LastRun = &t
	}
	if e.task.Enabled {
		if next := e.schedule.Next(now); !next.IsZero() {
			snap.NextRun = &next
		}
	}
	return snap
}
