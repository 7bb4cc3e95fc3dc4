package videotask

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"mango/internal/model/videotask"
	"mango/internal/pkg/ark"
	"mango/internal/pkg/promotools"
)

// orchestrate 执行任务全流程
//
// 状态机：
//
//	pending -> generating -> merging -> uploading -> completed
//	                 \___________\___________\----> failed
//
// 片段生成失败/超时/取消 -> failed（致命，剩余片段不再提交）；
// 拼接或上传失败 -> completed（降级：回退到第一段视频并记录原因）。
func (s *videoTaskService) orchestrate(ctx context.Context, task *videotask.Task) {
	if task.Type == videotask.TaskTypeScript {
		s.runScriptTask(ctx, task)
		return
	}
	s.runVideoTask(ctx, task)
}

// runScriptTask 仅生成脚本的任务
// LLM 不可用或生成失败时退回确定性模板，不会因此失败
func (s *videoTaskService) runScriptTask(ctx context.Context, task *videotask.Task) {
	if err := s.repo.UpdateProgress(ctx, task.TaskID, videotask.TaskStatusGenerating, 10, "正在生成广告脚本"); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新任务进度失败")
		return
	}

	script := s.generateScript(ctx, task)

	if err := s.repo.MarkCompleted(ctx, task.TaskID, "", script, ""); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("标记任务完成失败")
	}
}

// generateScript 生成广告脚本，优先 LLM，失败或未配置时走模板
func (s *videoTaskService) generateScript(ctx context.Context, task *videotask.Task) string {
	if s.llm != nil {
		prompt := fmt.Sprintf(
			"为「%s」生成一份%d秒的广告营销脚本。宣传主题：%s。使用场景：%s。"+
				"脚本分为%d段，每段以【第X段】（起止秒数）开头，包含画面、旁白、视觉元素三部分。"+
				"所有场景中融入红色TNHO商标（拼写为T-N-H-O，天虹品牌），注意商标是TNHO不是TOHO。",
			task.ProductName, task.Duration, task.Theme, task.Scenario, len(task.Segments),
		)
		script, err := s.llm.Generate(ctx, prompt)
		if err == nil && script != "" {
			return script
		}
		log.Warn().Err(err).Str("task_id", task.TaskID).Msg("LLM 生成脚本失败，使用模板兜底")
	}
	return promotools.TemplateScript(task.ProductName, task.Scenario, task.Theme, task.Duration, task.Segments)
}

// runVideoTask 视频生成任务：生成脚本 -> 逐段生成 -> 拼接 -> 上传
func (s *videoTaskService) runVideoTask(ctx context.Context, task *videotask.Task) {
	if err := s.repo.UpdateProgress(ctx, task.TaskID, videotask.TaskStatusGenerating, 2, "正在生成广告脚本"); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新任务进度失败")
		return
	}

	// 先产出完整脚本并按分段方案切分，逐段文案作为对应片段提示词的叙事内容
	script := s.generateScript(ctx, task)
	fragments := promotools.PartitionScript(script, task.Segments)

	basePrompt := promotools.BasePrompt(task.ProductName, task.Theme, task.Scenario)
	totalParts := len(task.Segments)

	videoURLs := make([]string, 0, totalParts)

	for i, segDuration := range task.Segments {
		partNum := i + 1
		// 生成阶段进度按已完成段数推进，当前段开始时展示上一段的基线
		baseProgress := i * videotask.ProgressGenerateBudget / totalParts
		step := fmt.Sprintf("正在生成第%d/%d段视频（%d秒）", partNum, totalParts, segDuration)
		if err := s.repo.UpdateProgress(ctx, task.TaskID, videotask.TaskStatusGenerating, baseProgress, step); err != nil {
			log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新任务进度失败")
			return
		}

		prompt := promotools.SegmentPrompt(basePrompt, task.ProductName, partNum, totalParts, segDuration)
		if frag := fragments[i]; frag != "" {
			prompt = frag + "\n" + prompt
		}
		prompt = promotools.WithModelParams(prompt, segDuration)

		remoteID, err := s.generator.Submit(ctx, &ark.SubmitRequest{
			Prompt:   prompt,
			ImageURL: task.ImageURL,
			Duration: segDuration,
		})
		if err != nil {
			log.Error().Err(err).Str("task_id", task.TaskID).Int("part", partNum).Msg("提交片段生成任务失败")
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频提交失败: %v", partNum, err))
			return
		}

		outcome, err := s.generator.AwaitCompletion(ctx, remoteID)
		if err != nil {
			log.Error().Err(err).Str("task_id", task.TaskID).Int("part", partNum).Msg("等待片段生成失败")
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频生成出错: %v", partNum, err))
			return
		}

		switch outcome.Kind {
		case ark.OutcomeSucceeded:
			videoURLs = append(videoURLs, outcome.VideoURL)
			completed, err := s.repo.IncrementCompletedParts(ctx, task.TaskID, outcome.VideoURL)
			if err != nil {
				log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新已完成段数失败")
				return
			}
			log.Info().
				Str("task_id", task.TaskID).
				Int("completed_parts", completed).
				Int("total_parts", totalParts).
				Msg("片段生成完成")
		case ark.OutcomeFailed:
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频生成失败: %s", partNum, outcome.Reason))
			return
		case ark.OutcomeCancelled:
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频任务被取消: %s", partNum, outcome.Reason))
			return
		case ark.OutcomeTimeout:
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频生成超时: %s", partNum, outcome.Reason))
			return
		default:
			s.fail(ctx, task.TaskID, fmt.Sprintf("第%d段视频返回未知终态: %s", partNum, outcome.Kind))
			return
		}
	}

	// 拼接阶段 70% -> 90%
	if err := s.repo.UpdateProgress(ctx, task.TaskID, videotask.TaskStatusMerging, videotask.ProgressGenerateBudget, "正在拼接视频片段"); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新任务进度失败")
		return
	}

	localPath, cleanup, err := s.merger.Merge(ctx, task.TaskID, videoURLs)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		// 降级完成：返回第一段视频
		log.Warn().Err(err).Str("task_id", task.TaskID).Msg("视频拼接失败，降级返回第一段")
		msg := fmt.Sprintf("已生成 %d 段视频但拼接失败，当前返回第一段视频（%d秒）: %v", len(videoURLs), task.Segments[0], err)
		s.completeDegraded(ctx, task.TaskID, videoURLs[0], script, msg)
		return
	}

	// 上传阶段 90% -> 100%
	if err := s.repo.UpdateProgress(ctx, task.TaskID, videotask.TaskStatusUploading, videotask.ProgressMergeBudget, "正在上传视频"); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("更新任务进度失败")
		return
	}

	publicURL, err := s.merger.Publish(ctx, task.TaskID, localPath)
	if err != nil {
		log.Warn().Err(err).Str("task_id", task.TaskID).Msg("视频上传失败，降级返回第一段")
		msg := fmt.Sprintf("已生成 %d 段视频并拼接，但上传对象存储失败，当前返回第一段视频: %v", len(videoURLs), err)
		s.completeDegraded(ctx, task.TaskID, videoURLs[0], script, msg)
		return
	}

	if err := s.repo.MarkCompleted(ctx, task.TaskID, publicURL, script, ""); err != nil {
		log.Error().Err(err).Str("task_id", task.TaskID).Msg("标记任务完成失败")
		return
	}
	log.Info().Str("task_id", task.TaskID).Str("video_url", publicURL).Msg("视频任务完成")
}

// fail 将任务置为终态 failed
func (s *videoTaskService) fail(ctx context.Context, taskID, message string) {
	if err := s.repo.MarkFailed(ctx, taskID, message); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("标记任务失败时出错")
	}
}

// completeDegraded 降级完成：任务成功收尾但结果是兜底产物，原因写入 error_message
func (s *videoTaskService) completeDegraded(ctx context.Context, taskID, fallbackURL, script, message string) {
	if err := s.repo.MarkCompleted(ctx, taskID, fallbackURL, script, message); err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("标记任务降级完成时出错")
	}
}
