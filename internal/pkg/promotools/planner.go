package promotools

import "fmt"

// DefaultMaxSegmentSeconds 生成模型单段视频的最大时长（秒）
const DefaultMaxSegmentSeconds = 12

// 常用时长的固定分段表，保证对同一时长产出稳定的分段方案
var fixedSegmentPlans = map[int][]int{
	15: {8, 7},
	20: {10, 10},
	25: {8, 8, 9},
	30: {10, 10, 10},
}

// PlanSegments 计算视频分段方案
//
// 规则：
//  1. 总时长不超过单段上限时，单段生成
//  2. 常用时长（15/20/25/30 秒）使用固定分段表
//  3. 其他时长按最少段数切分，余数从前往后摊到各段
//
// 分段之和恒等于总时长，每段均不超过 maxPerSegment。
// 相同输入永远得到相同方案。
func PlanSegments(totalDuration int, maxPerSegment int) ([]int, error) {
	if totalDuration <= 0 {
		return nil, fmt.Errorf("invalid duration: %d", totalDuration)
	}
	if maxPerSegment <= 0 {
		maxPerSegment = DefaultMaxSegmentSeconds
	}

	if totalDuration <= maxPerSegment {
		return []int{totalDuration}, nil
	}

	if plan, ok := fixedSegmentPlans[totalDuration]; ok {
		out := make([]int, len(plan))
		copy(out, plan)
		return out, nil
	}

	// 最少段数 = ceil(total / max)
	numSegments := (totalDuration + maxPerSegment - 1) / maxPerSegment
	base := totalDuration / numSegments
	remainder := totalDuration % numSegments

	segments := make([]int, numSegments)
	for i := range segments {
		segments[i] = base
		if i < remainder {
			segments[i]++
		}
	}
	return segments, nil
}
