package videotask

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mango/internal/config"
	"mango/internal/model/videotask"
	"mango/internal/pkg/ark"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/id"
	"mango/internal/pkg/promotools"
	taskrepo "mango/internal/repository/videotask"
)

// Generator 视频片段生成器接口（由 ark.VideoClient 实现，单测用假实现替换）
type Generator interface {
	Submit(ctx context.Context, req *ark.SubmitRequest) (string, error)
	AwaitCompletion(ctx context.Context, taskID string) (*ark.Outcome, error)
}

// VideoTaskService 视频任务服务接口
// SubmitTask 同步返回任务ID，生成流程在后台 worker 中执行；
// GetProgress / ListBySession 为只读查询，不触发任何状态变更
type VideoTaskService interface {
	SubmitTask(ctx context.Context, input SubmitTaskInput) (*SubmitTaskResult, error)
	GetProgress(ctx context.Context, taskID string) (*videotask.Task, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize int64) (*TaskListResult, error)
}

// SubmitTaskInput 提交任务请求
type SubmitTaskInput struct {
	Type        videotask.TaskType `json:"type"`         // video（默认）或 script
	SessionID   string             `json:"session_id"`   // 会话ID（可选）
	UserID      string             `json:"-"`            // 认证启用时由中间件注入
	ProductName string             `json:"product_name"` // 产品名称（必填）
	Theme       string             `json:"theme"`        // 宣传主题
	Scenario    string             `json:"scenario"`     // 使用场景描述
	ImageURL    string             `json:"image_url"`    // 产品参考图URL（可选，图生视频）
	Duration    int                `json:"duration"`     // 总时长（秒）
}

// SubmitTaskResult 提交任务响应
type SubmitTaskResult struct {
	TaskID     string `json:"task_id"`
	TotalParts int    `json:"total_parts"`
	Segments   []int  `json:"segments"`
}

// TaskListResult 任务列表结果
type TaskListResult struct {
	Tasks    []*videotask.Task `json:"tasks"`
	Total    int64             `json:"total"`
	Page     int64             `json:"page"`
	PageSize int64             `json:"page_size"`
}

type videoTaskService struct {
	repo      taskrepo.TaskRepository
	generator Generator
	merger    Merger
	llm       promotools.LLMProvider // 可选，为空时脚本走模板兜底
	cache     *cache.RedisCache      // 可选，终态进度缓存
	cfg       *config.VideoConfig
}

// NewVideoTaskService 创建视频任务服务
// llm 和 redisCache 允许为 nil：无 LLM 配置时脚本生成走模板，无 Redis 时每次查库
func NewVideoTaskService(
	repo taskrepo.TaskRepository,
	generator Generator,
	merger Merger,
	llm promotools.LLMProvider,
	redisCache *cache.RedisCache,
	cfg *config.VideoConfig,
) VideoTaskService {
	return &videoTaskService{
		repo:      repo,
		generator: generator,
		merger:    merger,
		llm:       llm,
		cache:     redisCache,
		cfg:       cfg,
	}
}

// SubmitTask 创建任务并启动后台 worker
// 分段计划在创建时确定并写入任务记录，此后不再变化
func (s *videoTaskService) SubmitTask(ctx context.Context, input SubmitTaskInput) (*SubmitTaskResult, error) {
	if input.ProductName == "" {
		return nil, fmt.Errorf("product_name is required")
	}
	if input.Type == "" {
		input.Type = videotask.TaskTypeVideo
	}
	if input.Type != videotask.TaskTypeVideo && input.Type != videotask.TaskTypeScript {
		return nil, fmt.Errorf("invalid task type: %s", input.Type)
	}
	if input.Theme == "" {
		input.Theme = promotools.ThemeDefault
	}
	if input.Duration <= 0 {
		input.Duration = 20
	}

	segments, err := promotools.PlanSegments(input.Duration, s.cfg.MaxSegmentSeconds)
	if err != nil {
		return nil, fmt.Errorf("plan segments: %w", err)
	}

	task := &videotask.Task{
		ID:          id.New(),
		TaskID:      id.New(),
		SessionID:   input.SessionID,
		UserID:      input.UserID,
		Type:        input.Type,
		ProductName: input.ProductName,
		Theme:       input.Theme,
		Scenario:    input.Scenario,
		ImageURL:    input.ImageURL,
		Duration:    input.Duration,
		Segments:    segments,
		Status:      videotask.TaskStatusPending,
		Progress:    0,
		CurrentStep: "任务已创建，等待处理",
		TotalParts:  len(segments),
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	log.Info().
		Str("task_id", task.TaskID).
		Str("type", string(task.Type)).
		Int("duration", task.Duration).
		Ints("segments", segments).
		Msg("视频任务已创建")

	// 后台执行，不随请求上下文取消
	go s.runTask(task)

	return &SubmitTaskResult{
		TaskID:     task.TaskID,
		TotalParts: task.TotalParts,
		Segments:   segments,
	}, nil
}

// runTask 后台 worker 入口，整个任务受 TaskTimeout 兜底
func (s *videoTaskService) runTask(task *videotask.Task) {
	timeout := s.cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", task.TaskID).Interface("panic", r).Msg("任务 worker panic")
			_ = s.repo.MarkFailed(context.Background(), task.TaskID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.orchestrate(ctx, task)
}

// GetProgress 查询任务进度（只读）
// 终态任务的记录不再变化，用 Redis 缓存减少查库
func (s *videoTaskService) GetProgress(ctx context.Context, taskID string) (*videotask.Task, error) {
	if s.cache != nil {
		var cached videotask.Task
		if err := s.cache.Get(ctx, cache.TaskProgressCacheKeyPrefix+taskID, &cached); err == nil && cached.TaskID != "" {
			return &cached, nil
		}
	}

	task, err := s.repo.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && task.Status.IsTerminal() {
		if err := s.cache.Set(ctx, cache.TaskProgressCacheKeyPrefix+task.TaskID, task, cache.TaskProgressCacheTTL); err != nil {
			log.Warn().Err(err).Str("task_id", task.TaskID).Msg("缓存任务进度失败")
		}
	}

	return task, nil
}

// ListBySession 按会话查询任务列表
func (s *videoTaskService) ListBySession(ctx context.Context, sessionID string, page, pageSize int64) (*TaskListResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	tasks, total, err := s.repo.ListBySession(ctx, sessionID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &TaskListResult{
		Tasks:    tasks,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
