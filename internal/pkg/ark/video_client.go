package ark

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
)

// 任务状态（Ark contents/generations API 返回值）
const (
	taskStatusQueued    = "queued"
	taskStatusRunning   = "running"
	taskStatusSucceeded = "succeeded"
	taskStatusFailed    = "failed"
	taskStatusCancelled = "cancelled"
)

// 轮询时连续传输错误的容忍次数，超过则放弃
const maxConsecutivePollErrors = 3

// VideoConfig Ark 视频生成配置
type VideoConfig struct {
	APIKey       string        // API Key（必需）
	BaseURL      string        // API 基础 URL（可选，默认: https://ark.cn-beijing.volces.com/api/v3）
	Model        string        // 模型名称
	PollInterval time.Duration // 轮询间隔（默认 2s）
	PollTimeout  time.Duration // 单段等待上限（默认 300s）
}

// VideoClient Ark 视频生成客户端
// 调用火山引擎 Ark 的内容生成任务 API（提交 + 轮询）
type VideoClient struct {
	client       *arkruntime.Client
	httpClient   *http.Client
	model        string
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewVideoClient 创建 Ark 视频生成客户端
func NewVideoClient(config *VideoConfig) (*VideoClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ark api key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 300 * time.Second
	}

	var opts []arkruntime.ConfigOption
	opts = append(opts, arkruntime.WithBaseUrl(baseURL))
	arkClient := arkruntime.NewClientWithApiKey(config.APIKey, opts...)

	return &VideoClient{
		client:       arkClient,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		model:        config.Model,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       config.APIKey,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}, nil
}

// SubmitRequest 视频片段生成请求
type SubmitRequest struct {
	Prompt   string // 提示词（含时长等参数后缀）
	ImageURL string // 首帧图片 URL 或 data URL（可选，image-to-video）
	Duration int    // 片段时长（秒）
}

// Submit 提交视频生成任务，返回远端任务 ID
// 不等待生成完成，状态由 AwaitCompletion 轮询获取
func (c *VideoClient) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	content := []map[string]interface{}{
		{
			"type": "text",
			"text": req.Prompt,
		},
	}
	if req.ImageURL != "" {
		content = append(content, map[string]interface{}{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url": req.ImageURL,
			},
		})
	}

	requestBody := map[string]interface{}{
		"model":   c.model,
		"content": content,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request body: %w", err)
	}

	// 创建视频生成任务: POST {base}/contents/generations/tasks
	// 参考官方文档: https://www.volcengine.com/docs/82379/1520757
	apiURL := fmt.Sprintf("%s/contents/generations/tasks", c.baseURL)

	log.Debug().
		Str("api_url", apiURL).
		Str("model", c.model).
		Int("duration", req.Duration).
		Msg("提交视频生成任务")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("url", apiURL).
			Str("response_body", string(body)).
			Msg("视频任务提交失败")
		return "", fmt.Errorf("submit video task: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.ID == "" {
		return "", fmt.Errorf("task id is empty in response")
	}

	return apiResp.ID, nil
}

// OutcomeKind 片段任务的终态类别
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded" // 生成成功，VideoURL 有效
	OutcomeFailed    OutcomeKind = "failed"    // 服务端判定失败，Reason 为失败原因
	OutcomeCancelled OutcomeKind = "cancelled" // 任务被取消
	OutcomeTimeout   OutcomeKind = "timeout"   // 等待超过 PollTimeout 仍未终态
)

// Outcome 片段任务终态
// Kind 为 OutcomeSucceeded 时 VideoURL 非空，其余情况 Reason 描述原因
type Outcome struct {
	Kind     OutcomeKind
	VideoURL string
	Reason   string
}

// AwaitCompletion 轮询远端任务直至终态或超时
// 传输层的瞬时错误会重试，连续失败超过上限才返回 error；
// 任务本身的失败/取消/超时不是 error，通过 Outcome.Kind 区分
func (c *VideoClient) AwaitCompletion(ctx context.Context, taskID string) (*Outcome, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0

	for {
		if time.Now().After(deadline) {
			log.Warn().
				Str("task_id", taskID).
				Dur("timeout", c.pollTimeout).
				Msg("视频生成任务等待超时")
			return &Outcome{
				Kind:   OutcomeTimeout,
				Reason: fmt.Sprintf("generation timed out after %s", c.pollTimeout),
			}, nil
		}

		status, err := c.getTask(ctx, taskID)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutivePollErrors {
				return nil, fmt.Errorf("poll task %s: %w", taskID, err)
			}
			log.Warn().
				Err(err).
				Str("task_id", taskID).
				Int("consecutive_errors", consecutiveErrors).
				Msg("查询任务状态失败，稍后重试")
		} else {
			consecutiveErrors = 0

			switch status.Status {
			case taskStatusSucceeded:
				if status.Content.VideoURL == "" {
					return nil, fmt.Errorf("task %s succeeded but video url is empty", taskID)
				}
				return &Outcome{
					Kind:     OutcomeSucceeded,
					VideoURL: status.Content.VideoURL,
				}, nil
			case taskStatusFailed:
				reason := status.Error.Message
				if reason == "" {
					reason = "generation failed"
				}
				return &Outcome{Kind: OutcomeFailed, Reason: reason}, nil
			case taskStatusCancelled:
				reason := status.Error.Message
				if reason == "" {
					reason = "task cancelled"
				}
				return &Outcome{Kind: OutcomeCancelled, Reason: reason}, nil
			case taskStatusQueued, taskStatusRunning:
				log.Debug().Str("task_id", taskID).Str("status", status.Status).Msg("视频生成中")
			default:
				log.Warn().Str("task_id", taskID).Str("status", status.Status).Msg("未知任务状态")
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// taskStatusResponse 查询任务接口的响应体
type taskStatusResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// getTask 查询任务状态: GET {base}/contents/generations/tasks/{id}
// 参考官方文档: https://www.volcengine.com/docs/82379/1521309
func (c *VideoClient) getTask(ctx context.Context, taskID string) (*taskStatusResponse, error) {
	apiURL := fmt.Sprintf("%s/contents/generations/tasks/%s", c.baseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get task status: status %d, body: %s", resp.StatusCode, string(body))
	}

	var apiResp taskStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &apiResp, nil
}

// Download 下载生成的视频到内存
func (c *VideoClient) Download(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download video: status code %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// ConvertImageToDataURL 将图片数据转换为 data URL
func ConvertImageToDataURL(imageData []byte, mimeType string) string {
	base64Data := base64.StdEncoding.EncodeToString(imageData)
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}
