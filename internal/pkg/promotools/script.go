package promotools

import (
	"fmt"
	"strings"
)

var chineseOrdinals = []string{"一", "二", "三", "四", "五", "六", "七", "八", "九", "十"}

// segmentMarker 第 n 段的标记文本（如 "第一段"）
func segmentMarker(n int) string {
	if n >= 1 && n <= len(chineseOrdinals) {
		return fmt.Sprintf("第%s段", chineseOrdinals[n-1])
	}
	return fmt.Sprintf("第%d段", n)
}

// timeRangeMarker 第 n 段的时间区间标记（如 "0-10秒"），按分段方案累加得出
func timeRangeMarker(segments []int, n int) string {
	start := 0
	for i := 0; i < n-1 && i < len(segments); i++ {
		start += segments[i]
	}
	end := start
	if n-1 < len(segments) {
		end += segments[n-1]
	}
	return fmt.Sprintf("%d-%d秒", start, end)
}

// PartitionScript 将脚本按分段方案切分为逐段文案
//
// 优先识别脚本中的分段标记（"第一段"、"第二段" 或时间区间 "0-10秒"、"10-20秒"），
// 标记行归属新段，后续行跟随当前段；无任何标记时按行数平均切分。
// 返回值长度恒等于 len(segments)，缺失的段为空字符串。
func PartitionScript(script string, segments []int) []string {
	parts := make([]string, len(segments))
	if len(segments) == 0 {
		return parts
	}
	if len(segments) == 1 {
		parts[0] = strings.TrimSpace(script)
		return parts
	}

	lines := strings.Split(script, "\n")
	partLines := make([][]string, len(segments))
	current := 0
	matched := false

	for _, line := range lines {
		for i := range segments {
			if strings.Contains(line, segmentMarker(i+1)) || strings.Contains(line, timeRangeMarker(segments, i+1)) {
				current = i
				matched = true
				break
			}
		}
		partLines[current] = append(partLines[current], line)
	}

	// 无明确标记时按行数平均切分
	if !matched {
		partLines = make([][]string, len(segments))
		per := len(lines) / len(segments)
		if per == 0 {
			per = 1
		}
		for i := range segments {
			start := i * per
			end := (i + 1) * per
			if i == len(segments)-1 || end > len(lines) {
				end = len(lines)
			}
			if start < len(lines) {
				partLines[i] = lines[start:end]
			}
		}
	}

	for i, pl := range partLines {
		parts[i] = strings.TrimSpace(strings.Join(pl, "\n"))
	}
	return parts
}

// TemplateScript 生成确定性的广告营销脚本
// LLM 不可用或生成失败时的兜底方案，按分段方案逐段产出画面/旁白/视觉元素
func TemplateScript(productName, scenario, theme string, duration int, segments []int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📝 %d秒「%s」广告营销脚本\n\n", duration, productName)
	fmt.Fprintf(&sb, "【产品信息】\n- 产品名称：%s\n- 客户使用场景：%s\n- 宣传主题方向：%s\n", productName, scenario, theme)

	for i := range segments {
		partNum := i + 1
		fmt.Fprintf(&sb, "\n【%s】（%s）：", segmentMarker(partNum), timeRangeMarker(segments, partNum))
		switch {
		case partNum == 1:
			sb.WriteString("产品引入\n")
			fmt.Fprintf(&sb, "- 画面：%s产品特写，展现产品细节和品质感。特写镜头聚焦产品在%s中的关键作用。\n", productName, scenario)
			sb.WriteString("- 旁白：天虹紧固件，30年专业制造经验，品质值得信赖。\n")
			sb.WriteString("- 视觉元素：红色TNHO商标（T-N-H-O）在产品特写时以醒目方式出现。\n")
		case partNum == len(segments):
			sb.WriteString("应用与信任\n")
			fmt.Fprintf(&sb, "- 画面：%s在%s中的实际应用场景，展现产品的可靠性和专业性。配合现代化工厂全景，展示天虹的智能制造能力。\n", productName, scenario)
			fmt.Fprintf(&sb, "- 旁白：专注高难度、特殊紧固件，%s。浙江天虹紧固件，您值得信赖的合作伙伴。\n", theme)
			sb.WriteString("- 视觉元素：红色TNHO商标（T-N-H-O）以醒目方式展示，强化品牌印象。\n")
		default:
			sb.WriteString("场景展开\n")
			fmt.Fprintf(&sb, "- 画面：%s在更多工业场景中的应用展示，全景与特写交替，体现产品的多场景适应性。\n", productName)
			fmt.Fprintf(&sb, "- 旁白：严苛工况下依然可靠，%s源自每一个细节。\n", theme)
			sb.WriteString("- 视觉元素：红色TNHO商标（T-N-H-O）以动态方式出现，强化品牌印象。\n")
		}
	}

	sb.WriteString("\n💡 商标提醒：所有场景中融入红色TNHO商标（T-N-H-O），注意拼写正确")
	return sb.String()
}
