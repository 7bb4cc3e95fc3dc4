package promotools

import "fmt"

// ThemeDefault 未识别主题时的兜底主题
const ThemeDefault = "品质保证"

// 主题 -> 基础提示词
// 商标是 TNHO（天虹），不是 TOHO，提示词中反复强调以降低生成出错率
var themePrompts = map[string]string{
	"品质保证": "高品质%s在工业应用中的可靠性能展示%s。特写镜头展现精密的制造工艺和严格的质检流程，产品在机械结构中的稳固连接，强调强度、耐用性和零缺陷的质量标准。专业工业摄影，光影效果突出产品细节，16:9宽屏。视频中必须融入醒目的红色TNHO商标元素，商标拼写为：T-N-H-O（天虹）。在关键位置（如产品特写、品牌展示时）显示红色TNHO四个英文字母，字体清晰醒目，注意商标是TNHO不是TOHO，务必使用正确拼写T-N-H-O，体现天虹品牌形象。",
	"技术创新": "创新技术驱动的%s制造过程%s。展现先进的自动化生产线、精密加工设备和智能化质量控制系统。产品在极端环境下的性能测试场景，突显技术创新带来的卓越性能。科技感十足的视觉风格，动态运镜，展现产品的高科技属性。视频中必须巧妙融入红色TNHO商标，商标拼写为：T-N-H-O（天虹）。在科技感场景中以动态方式出现，强化品牌科技感。注意商标是TNHO不是TOHO，必须使用正确拼写T-N-H-O。",
	"工业应用": "%s在各类工业领域的广泛应用%s。场景包括汽车制造、航空航天、桥梁建设、机械设备等。展现产品在不同应用场景下的关键作用和可靠性。全景和特写交替使用，体现产品的多场景适应性和工业价值。专业纪录片风格。视频中必须在关键场景融入红色TNHO商标，商标拼写为：T-N-H-O（天虹）。展现品牌在工业领域的专业地位。注意商标是TNHO不是TOHO，务必使用正确拼写T-N-H-O。",
	"品牌形象": "%s品牌形象宣传片%s。展现企业的现代化工厂、研发实力、严格的质量管理体系和国际认证标准。强调品牌的行业领导地位和客户信任。高端大气的视觉效果，企业品牌展示风格。红色TNHO商标应在视频中显著展示，商标拼写为：T-N-H-O（天虹），作为品牌识别的核心元素，强化品牌识别度。注意商标是TNHO不是TOHO，必须使用正确拼写T-N-H-O。",
}

// BasePrompt 按主题构建基础提示词
// 主题不在表中时回退到默认主题，scenario 为空时不拼接场景描述
func BasePrompt(productName, theme, scenario string) string {
	tpl, ok := themePrompts[theme]
	if !ok {
		tpl = themePrompts[ThemeDefault]
	}
	scenarioText := ""
	if scenario != "" {
		scenarioText = fmt.Sprintf("，使用场景：%s", scenario)
	}
	return fmt.Sprintf(tpl, productName, scenarioText)
}

// SegmentPrompt 构建单段视频的提示词
// 多段视频时各段有不同的叙事侧重：首段产品特写，末段品牌总结，中间段应用场景
func SegmentPrompt(basePrompt, productName string, partNum, totalParts, segmentDuration int) string {
	if totalParts <= 1 {
		return basePrompt
	}

	var framing string
	switch {
	case partNum == 1:
		framing = fmt.Sprintf("第%d部分：%s的特写展示，展现产品的精细工艺和质量特点。镜头聚焦产品细节，特写螺纹、材质质感，红色TNHO商标在产品特写时以醒目方式出现。", partNum, productName)
	case partNum == totalParts:
		framing = fmt.Sprintf("第%d部分：%s品牌形象总结，展现企业在行业中的领先地位和客户信任。红色TNHO商标以醒目方式展示，强化品牌识别度。", partNum, productName)
	default:
		framing = fmt.Sprintf("第%d部分：%s在应用场景中的展示，展现产品的实际使用效果和可靠性。镜头展示产品在机械结构中的连接作用，红色TNHO商标以动态方式强化品牌印象。", partNum, productName)
	}

	return fmt.Sprintf("%s %s时长%d秒。", basePrompt, framing, segmentDuration)
}

// WithModelParams 在提示词尾部追加生成模型的控制参数
// 格式: "--duration 5 --camerafixed false --watermark true"
func WithModelParams(prompt string, duration int) string {
	return fmt.Sprintf("%s  --duration %d --camerafixed false --watermark true", prompt, duration)
}
