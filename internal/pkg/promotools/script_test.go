package promotools

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPartitionScript(t *testing.T) {
	Convey("PartitionScript 能按分段方案切分脚本", t, func() {
		Convey("单段直接返回整个脚本", func() {
			parts := PartitionScript("完整脚本内容", []int{10})
			So(len(parts), ShouldEqual, 1)
			So(parts[0], ShouldEqual, "完整脚本内容")
		})

		Convey("识别分段标记", func() {
			script := `【第一段】（0-10秒）：产品引入
- 画面：产品特写
- 旁白：品质值得信赖

【第二段】（10-20秒）：应用与信任
- 画面：应用场景
- 旁白：值得信赖的合作伙伴`

			parts := PartitionScript(script, []int{10, 10})
			So(len(parts), ShouldEqual, 2)
			So(parts[0], ShouldContainSubstring, "产品引入")
			So(parts[0], ShouldContainSubstring, "产品特写")
			So(parts[0], ShouldNotContainSubstring, "应用场景")
			So(parts[1], ShouldContainSubstring, "应用与信任")
			So(parts[1], ShouldContainSubstring, "应用场景")
		})

		Convey("识别时间区间标记", func() {
			script := "开场部分 0-8秒 内容A\n继续内容A\n后续部分 8-15秒 内容B\n继续内容B"
			parts := PartitionScript(script, []int{8, 7})
			So(len(parts), ShouldEqual, 2)
			So(parts[0], ShouldContainSubstring, "内容A")
			So(parts[1], ShouldContainSubstring, "内容B")
		})

		Convey("无标记时按行数平均切分", func() {
			script := "行1\n行2\n行3\n行4"
			parts := PartitionScript(script, []int{10, 10})
			So(len(parts), ShouldEqual, 2)
			So(parts[0], ShouldContainSubstring, "行1")
			So(parts[0], ShouldContainSubstring, "行2")
			So(parts[1], ShouldContainSubstring, "行3")
			So(parts[1], ShouldContainSubstring, "行4")
		})

		Convey("返回值长度恒等于分段数", func() {
			parts := PartitionScript("只有一行", []int{8, 8, 9})
			So(len(parts), ShouldEqual, 3)
		})
	})
}

func TestTemplateScript(t *testing.T) {
	Convey("TemplateScript 生成确定性的分段脚本", t, func() {
		script := TemplateScript("高强度螺栓", "汽车底盘连接", "品质保证", 20, []int{10, 10})

		Convey("包含产品信息和分段标记", func() {
			So(script, ShouldContainSubstring, "高强度螺栓")
			So(script, ShouldContainSubstring, "汽车底盘连接")
			So(script, ShouldContainSubstring, "【第一段】（0-10秒）")
			So(script, ShouldContainSubstring, "【第二段】（10-20秒）")
			So(script, ShouldContainSubstring, "TNHO")
		})

		Convey("生成的脚本能被 PartitionScript 正确切分", func() {
			parts := PartitionScript(script, []int{10, 10})
			So(parts[0], ShouldContainSubstring, "产品引入")
			So(parts[1], ShouldContainSubstring, "应用与信任")
		})

		Convey("相同输入得到相同输出", func() {
			again := TemplateScript("高强度螺栓", "汽车底盘连接", "品质保证", 20, []int{10, 10})
			So(again, ShouldEqual, script)
		})

		Convey("三段脚本带中间段", func() {
			three := TemplateScript("紧固件", "桥梁建设", "工业应用", 25, []int{8, 8, 9})
			So(three, ShouldContainSubstring, "【第二段】（8-16秒）")
			So(three, ShouldContainSubstring, "场景展开")
			So(three, ShouldContainSubstring, "【第三段】（16-25秒）")
		})
	})
}

func TestPrompts(t *testing.T) {
	Convey("提示词构建", t, func() {
		Convey("BasePrompt 按主题选择模板", func() {
			p := BasePrompt("高强度螺栓", "技术创新", "")
			So(p, ShouldContainSubstring, "高强度螺栓")
			So(p, ShouldContainSubstring, "自动化生产线")
			So(p, ShouldContainSubstring, "TNHO")
		})

		Convey("未知主题回退默认主题", func() {
			p := BasePrompt("螺母", "未知主题", "")
			So(p, ShouldContainSubstring, "质检流程")
		})

		Convey("场景描述拼接进提示词", func() {
			p := BasePrompt("螺栓", "品质保证", "用于汽车底盘连接")
			So(p, ShouldContainSubstring, "使用场景：用于汽车底盘连接")
		})

		Convey("SegmentPrompt 各段有不同叙事侧重", func() {
			base := BasePrompt("螺栓", "品质保证", "")

			first := SegmentPrompt(base, "螺栓", 1, 3, 8)
			So(first, ShouldContainSubstring, "第1部分")
			So(first, ShouldContainSubstring, "特写展示")
			So(first, ShouldContainSubstring, "时长8秒")

			middle := SegmentPrompt(base, "螺栓", 2, 3, 8)
			So(middle, ShouldContainSubstring, "应用场景中的展示")

			last := SegmentPrompt(base, "螺栓", 3, 3, 9)
			So(last, ShouldContainSubstring, "品牌形象总结")
			So(last, ShouldContainSubstring, "时长9秒")
		})

		Convey("单段任务不加分段叙事", func() {
			base := BasePrompt("螺栓", "品质保证", "")
			p := SegmentPrompt(base, "螺栓", 1, 1, 10)
			So(p, ShouldEqual, base)
		})

		Convey("WithModelParams 追加控制参数后缀", func() {
			p := WithModelParams("一段提示词", 8)
			So(strings.HasSuffix(p, "--duration 8 --camerafixed false --watermark true"), ShouldBeTrue)
		})
	})
}
