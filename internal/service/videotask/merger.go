package videotask

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"mango/internal/pkg/ffmpeg"
	"mango/internal/pkg/storage"
)

// 拼接前统一的输出规格，避免各段分辨率/帧率不一致导致拼接失败
const (
	mergeOutputWidth  = 1920
	mergeOutputHeight = 1080
	mergeOutputFPS    = 30
)

// Merger 视频拼接与发布接口
// Merge 把各段视频按顺序合成本地文件，Publish 把本地文件上传为可访问的URL；
// 两步分开，调用方据此区分拼接失败和上传失败
type Merger interface {
	Merge(ctx context.Context, taskID string, videoURLs []string) (localPath string, cleanup func(), err error)
	Publish(ctx context.Context, taskID, localPath string) (string, error)
}

// FFmpegMerger 基于 FFmpeg 的拼接实现
type FFmpegMerger struct {
	ffmpeg     *ffmpeg.Client
	store      storage.Storage
	httpClient *http.Client
}

// NewFFmpegMerger 创建拼接器
func NewFFmpegMerger(ffmpegClient *ffmpeg.Client, store storage.Storage) *FFmpegMerger {
	return &FFmpegMerger{
		ffmpeg:     ffmpegClient,
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Merge 下载各段视频到临时目录，统一规格后按顺序拼接
// cleanup 负责删除临时目录，err 非空时 cleanup 也可能非空，调用方总是要调用
func (m *FFmpegMerger) Merge(ctx context.Context, taskID string, videoURLs []string) (string, func(), error) {
	if len(videoURLs) == 0 {
		return "", nil, fmt.Errorf("no video segments to merge")
	}

	tempDir, err := os.MkdirTemp("", fmt.Sprintf("merge_%s_*", taskID))
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warn().Err(err).Str("dir", tempDir).Msg("清理临时目录失败")
		}
	}

	// 按计划顺序下载
	localParts := make([]string, 0, len(videoURLs))
	for i, url := range videoURLs {
		partPath := filepath.Join(tempDir, fmt.Sprintf("part_%02d.mp4", i+1))
		if err := m.download(ctx, url, partPath); err != nil {
			return "", cleanup, fmt.Errorf("download segment %d: %w", i+1, err)
		}
		localParts = append(localParts, partPath)
	}

	// 单段无需拼接，直接使用下载结果
	if len(localParts) == 1 {
		return localParts[0], cleanup, nil
	}

	// 统一规格后再拼接，concat demuxer 要求各段编码参数一致
	standardized := make([]string, 0, len(localParts))
	for i, part := range localParts {
		stdPath := filepath.Join(tempDir, fmt.Sprintf("std_%02d.mp4", i+1))
		if err := m.ffmpeg.StandardizeVideo(ctx, part, stdPath, mergeOutputWidth, mergeOutputHeight, mergeOutputFPS); err != nil {
			return "", cleanup, fmt.Errorf("standardize segment %d: %w", i+1, err)
		}
		standardized = append(standardized, stdPath)
	}

	outputPath := filepath.Join(tempDir, "merged.mp4")
	if err := m.ffmpeg.ConcatVideos(ctx, standardized, outputPath); err != nil {
		return "", cleanup, fmt.Errorf("concat segments: %w", err)
	}

	return outputPath, cleanup, nil
}

// Publish 上传拼接结果到对象存储，返回可访问的URL
func (m *FFmpegMerger) Publish(ctx context.Context, taskID, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open merged video: %w", err)
	}
	defer file.Close()

	key := fmt.Sprintf("videos/%s/%s.mp4", time.Now().Format("20060102"), taskID)
	url, err := m.store.Upload(ctx, key, file, "video/mp4")
	if err != nil {
		return "", fmt.Errorf("upload merged video: %w", err)
	}

	log.Info().Str("task_id", taskID).Str("key", key).Msg("视频上传完成")
	return url, nil
}

// download 下载远端视频到本地文件
func (m *FFmpegMerger) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: status code %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
