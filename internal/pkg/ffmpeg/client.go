package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client FFmpeg 客户端
// 用于封装 FFmpeg 命令调用
type Client struct {
	ffmpegPath  string // FFmpeg 可执行文件路径（默认: ffmpeg）
	ffprobePath string // FFprobe 可执行文件路径（默认: ffprobe）
}

// NewClient 创建 FFmpeg 客户端
func NewClient() *Client {
	ffmpegPath := os.Getenv("FFMPEG_PATH")
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	ffprobePath := os.Getenv("FFPROBE_PATH")
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	return &Client{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// VideoInfo 视频信息
type VideoInfo struct {
	Width    int     // 宽度
	Height   int     // 高度
	FPS      float64 // 帧率
	Duration float64 // 时长（秒）
}

// GetVideoInfo 获取视频信息
func (c *Client) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	// ffprobe -v error -select_streams v:0 -show_entries stream=width,height,r_frame_rate -show_entries format=duration -of json video.mp4
	cmd := exec.CommandContext(ctx, c.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	outputStr := string(output)
	var info VideoInfo

	if idx := strings.Index(outputStr, `"width":`); idx != -1 {
		var width int
		if _, err := fmt.Sscanf(outputStr[idx:], `"width":%d`, &width); err == nil {
			info.Width = width
		}
	}

	if idx := strings.Index(outputStr, `"height":`); idx != -1 {
		var height int
		if _, err := fmt.Sscanf(outputStr[idx:], `"height":%d`, &height); err == nil {
			info.Height = height
		}
	}

	if idx := strings.Index(outputStr, `"duration":`); idx != -1 {
		var duration float64
		if _, err := fmt.Sscanf(outputStr[idx:], `"duration":"%f"`, &duration); err == nil {
			info.Duration = duration
		}
	}

	// r_frame_rate 格式: "30000/1000"
	if idx := strings.Index(outputStr, `"r_frame_rate":`); idx != -1 {
		var num, den int
		if _, err := fmt.Sscanf(outputStr[idx:], `"r_frame_rate":"%d/%d"`, &num, &den); err == nil && den > 0 {
			info.FPS = float64(num) / float64(den)
		}
	}

	return &info, nil
}

// ConcatVideos 按顺序合并多个视频文件
// 使用 concat demuxer（需要创建 concat list 文件），流复制不重新编码，
// 各段自带的音轨原样保留
func (c *Client) ConcatVideos(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("no videos to concat")
	}

	tempDir := filepath.Dir(outputPath)
	concatListFile := filepath.Join(tempDir, fmt.Sprintf("concat_list_%d.txt", time.Now().UnixNano()))

	file, err := os.Create(concatListFile)
	if err != nil {
		return fmt.Errorf("create concat list file: %w", err)
	}
	defer os.Remove(concatListFile)

	for _, videoPath := range videoPaths {
		absPath, err := filepath.Abs(videoPath)
		if err != nil {
			file.Close()
			return fmt.Errorf("get absolute path: %w", err)
		}
		fmt.Fprintf(file, "file '%s'\n", absPath)
	}
	file.Close()

	// ffmpeg -f concat -safe 0 -i concat_list.txt -c copy output.mp4
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListFile,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w, stderr: %s", err, stderr.String())
	}

	log.Info().
		Int("count", len(videoPaths)).
		Str("output", outputPath).
		Msg("视频合并成功")

	return nil
}

// StandardizeVideo 标准化视频（分辨率、帧率），重新编码输出
func (c *Client) StandardizeVideo(ctx context.Context, inputPath, outputPath string, width, height int, fps int) error {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d:(in_w-%d)/2:(in_h-%d)/2,setsar=1",
		width, height, width, height, width, height)

	args := []string{
		"-y",
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "0:a?", // 可选音频流
		"-vf", vf,
		"-r", fmt.Sprintf("%d", fps),
		"-c:v", "libx264",
		"-crf", "20",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "160k",
		"-movflags", "+faststart",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg standardize failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// CropVideo 裁剪视频时长
func (c *Client) CropVideo(ctx context.Context, inputPath, outputPath string, duration float64) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-t", fmt.Sprintf("%.2f", duration),
		"-c", "copy",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg crop failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}
