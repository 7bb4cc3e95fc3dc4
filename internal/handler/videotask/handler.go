package videotask

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mango/internal/model/videotask"
	"mango/internal/pkg/ctxutil"
	httputil "mango/internal/pkg/http"
	taskrepo "mango/internal/repository/videotask"
	tasksvc "mango/internal/service/videotask"
)

// ErrorResponse 复用通用错误响应
type ErrorResponse = httputil.ErrorResponse

// Handler 视频任务处理器
type Handler struct {
	taskService tasksvc.VideoTaskService
}

// NewHandler 创建视频任务处理器
func NewHandler(taskService tasksvc.VideoTaskService) *Handler {
	return &Handler{taskService: taskService}
}

// TaskInfo 任务详情 DTO
type TaskInfo struct {
	TaskID         string   `json:"task_id"`
	SessionID      string   `json:"session_id,omitempty"`
	Type           string   `json:"type"`
	ProductName    string   `json:"product_name"`
	Theme          string   `json:"theme"`
	Duration       int      `json:"duration"`
	Segments       []int    `json:"segments,omitempty"`
	Status         string   `json:"status"`
	StatusMessage  string   `json:"status_message"`
	Progress       int      `json:"progress"`
	CurrentStep    string   `json:"current_step,omitempty"`
	TotalParts     int      `json:"total_parts"`
	CompletedParts int      `json:"completed_parts"`
	VideoURLs      []string `json:"video_urls,omitempty"`
	VideoURL       string   `json:"video_url,omitempty"`
	ScriptContent  string   `json:"script_content,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

// statusMessage 根据任务状态生成面向用户的提示语
func statusMessage(t *videotask.Task) string {
	switch t.Status {
	case videotask.TaskStatusPending:
		return "任务排队中"
	case videotask.TaskStatusGenerating:
		if t.TotalParts > 1 {
			return "视频生成中，共" + strconv.Itoa(t.TotalParts) + "段"
		}
		return "视频生成中"
	case videotask.TaskStatusMerging:
		return "视频片段拼接中"
	case videotask.TaskStatusUploading:
		return "视频上传中"
	case videotask.TaskStatusCompleted:
		if t.ErrorMessage != "" {
			// 降级完成
			return t.ErrorMessage
		}
		return "任务完成"
	case videotask.TaskStatusFailed:
		return "任务失败：" + t.ErrorMessage
	default:
		return string(t.Status)
	}
}

// toTaskInfo 转换实体为 DTO
func toTaskInfo(t *videotask.Task) TaskInfo {
	info := TaskInfo{
		TaskID:         t.TaskID,
		SessionID:      t.SessionID,
		Type:           string(t.Type),
		ProductName:    t.ProductName,
		Theme:          t.Theme,
		Duration:       t.Duration,
		Segments:       t.Segments,
		Status:         string(t.Status),
		StatusMessage:  statusMessage(t),
		Progress:       t.Progress,
		CurrentStep:    t.CurrentStep,
		TotalParts:     t.TotalParts,
		CompletedParts: t.CompletedParts,
		VideoURLs:      t.VideoURLs,
		VideoURL:       t.MergedVideoURL,
		ScriptContent:  t.ScriptContent,
		ErrorMessage:   t.ErrorMessage,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		info.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	return info
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	Type        string `json:"type,omitempty"`                  // video（默认）或 script
	SessionID   string `json:"session_id,omitempty"`            // 会话ID（可选）
	ProductName string `json:"product_name" binding:"required"` // 产品名称
	Theme       string `json:"theme,omitempty"`                 // 宣传主题
	Scenario    string `json:"scenario,omitempty"`              // 使用场景描述
	ImageURL    string `json:"image_url,omitempty"`             // 产品参考图URL
	Duration    int    `json:"duration,omitempty"`              // 总时长（秒），默认20
}

// CreateTaskResponseData 创建任务响应
type CreateTaskResponseData struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	TotalParts int    `json:"total_parts"`
	Segments   []int  `json:"segments"`
	CreatedAt  string `json:"created_at"`
}

// CreateTask 创建视频生成任务
// @Summary      创建视频生成任务
// @Description  提交宣传视频/脚本生成任务，立即返回任务ID，生成在后台执行
// @Tags         视频任务
// @Accept       json
// @Produce      json
// @Param        request  body      CreateTaskRequest  true  "创建任务请求"
// @Success      201      {object}  map[string]interface{}  "成功响应"
// @Failure      400      {object}  ErrorResponse  "请求参数错误"
// @Failure      500      {object}  ErrorResponse  "服务器内部错误"
// @Router       /api/v1/video-tasks [post]
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	userID, _ := ctxutil.GetUserID(ctx)

	result, err := h.taskService.SubmitTask(ctx, tasksvc.SubmitTaskInput{
		Type:        videotask.TaskType(req.Type),
		SessionID:   req.SessionID,
		UserID:      userID,
		ProductName: req.ProductName,
		Theme:       req.Theme,
		Scenario:    req.Scenario,
		ImageURL:    req.ImageURL,
		Duration:    req.Duration,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40003,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"code":    0,
		"message": "success",
		"data": CreateTaskResponseData{
			TaskID:     result.TaskID,
			Status:     string(videotask.TaskStatusPending),
			TotalParts: result.TotalParts,
			Segments:   result.Segments,
			CreatedAt:  time.Now().Format(time.RFC3339),
		},
	})
}

// GetProgress 查询任务进度
// @Summary      查询任务进度
// @Description  按任务ID查询进度和结果，只读查询，不改变任务状态
// @Tags         视频任务
// @Produce      json
// @Param        task_id  path      string  true  "任务ID"
// @Success      200      {object}  map[string]interface{}  "成功响应"
// @Failure      404      {object}  ErrorResponse  "任务不存在"
// @Router       /api/v1/video-tasks/{task_id}/progress [get]
func (h *Handler) GetProgress(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "task_id is required",
		})
		return
	}

	task, err := h.taskService.GetProgress(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskrepo.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    40401,
				Message: "task not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    50001,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    toTaskInfo(task),
	})
}

// ListTasksResponseData 任务列表响应
type ListTasksResponseData struct {
	Tasks    []TaskInfo `json:"tasks"`
	Total    int64      `json:"total"`
	Page     int64      `json:"page"`
	PageSize int64      `json:"page_size"`
}

// ListTasks 查询会话的任务列表
// @Summary      查询任务列表
// @Description  按会话ID查询任务列表（创建时间倒序 + 分页）
// @Tags         视频任务
// @Produce      json
// @Param        session_id  query     string  true   "会话ID"
// @Param        page        query     int     false  "页码"
// @Param        page_size   query     int     false  "每页数量"
// @Success      200         {object}  map[string]interface{}  "成功响应"
// @Failure      400         {object}  ErrorResponse  "请求参数错误"
// @Router       /api/v1/video-tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    40001,
			Message: "session_id is required",
		})
		return
	}

	page, _ := strconv.ParseInt(c.Query("page"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.Query("page_size"), 10, 64)

	result, err := h.taskService.ListBySession(c.Request.Context(), sessionID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    50001,
			Message: err.Error(),
		})
		return
	}

	infos := make([]TaskInfo, 0, len(result.Tasks))
	for _, t := range result.Tasks {
		infos = append(infos, toTaskInfo(t))
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data": ListTasksResponseData{
			Tasks:    infos,
			Total:    result.Total,
			Page:     result.Page,
			PageSize: result.PageSize,
		},
	})
}
