package videotask

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"mango/internal/config"
	"mango/internal/model/videotask"
	"mango/internal/pkg/ark"
	taskrepo "mango/internal/repository/videotask"
)

// ----- 内存版仓库，镜像 mongo 实现的终态保护和进度单调语义 -----

type fakeRepo struct {
	mu           sync.Mutex
	tasks        map[string]*videotask.Task
	progressHist map[string][]int // 每次进度写入的值，用于验证单调性
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tasks:        make(map[string]*videotask.Task),
		progressHist: make(map[string][]int),
	}
}

func (r *fakeRepo) Create(_ context.Context, t *videotask.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.TaskID]; ok {
		return taskrepo.ErrDuplicateTask
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	r.tasks[t.TaskID] = &cp
	return nil
}

func (r *fakeRepo) FindByTaskID(_ context.Context, taskID string) (*videotask.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, taskrepo.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) ListBySession(_ context.Context, sessionID string, _, _ int64) ([]*videotask.Task, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*videotask.Task
	for _, t := range r.tasks {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

// mutable 终态记录拒绝修改，与 mongo 实现的过滤条件一致
func (r *fakeRepo) mutable(taskID string) (*videotask.Task, error) {
	t, ok := r.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return nil, taskrepo.ErrTaskNotFound
	}
	return t, nil
}

func (r *fakeRepo) setProgress(t *videotask.Task, progress int) {
	if progress > t.Progress {
		t.Progress = progress
	}
	r.progressHist[t.TaskID] = append(r.progressHist[t.TaskID], t.Progress)
}

func (r *fakeRepo) UpdateProgress(_ context.Context, taskID string, status videotask.TaskStatus, progress int, currentStep string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = status
	t.CurrentStep = currentStep
	t.UpdatedAt = time.Now()
	r.setProgress(t, progress)
	return nil
}

func (r *fakeRepo) IncrementCompletedParts(_ context.Context, taskID string, videoURL string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.mutable(taskID)
	if err != nil {
		return 0, err
	}
	t.CompletedParts++
	t.VideoURLs = append(t.VideoURLs, videoURL)
	t.UpdatedAt = time.Now()
	if t.TotalParts > 0 {
		progress := t.CompletedParts * videotask.ProgressGenerateBudget / t.TotalParts
		if progress > videotask.ProgressGenerateBudget {
			progress = videotask.ProgressGenerateBudget
		}
		r.setProgress(t, progress)
	}
	return t.CompletedParts, nil
}

func (r *fakeRepo) MarkCompleted(_ context.Context, taskID string, mergedVideoURL, scriptContent, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = videotask.TaskStatusCompleted
	t.CurrentStep = "任务完成"
	if mergedVideoURL != "" {
		t.MergedVideoURL = mergedVideoURL
	}
	if scriptContent != "" {
		t.ScriptContent = scriptContent
	}
	if errorMessage != "" {
		t.ErrorMessage = errorMessage
	}
	now := time.Now()
	t.UpdatedAt = now
	t.CompletedAt = &now
	r.setProgress(t, videotask.ProgressDone)
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, taskID string, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = videotask.TaskStatusFailed
	t.CurrentStep = "任务失败"
	t.ErrorMessage = errorMessage
	now := time.Now()
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

func (r *fakeRepo) history(taskID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.progressHist[taskID]))
	copy(out, r.progressHist[taskID])
	return out
}

// ----- 片段生成器假实现，按片段顺序给出预设终态 -----

type fakeGenerator struct {
	mu        sync.Mutex
	submits   int
	awaits    int
	submitErr error
	outcomes  []*ark.Outcome
	prompts   []string
}

func (g *fakeGenerator) Submit(_ context.Context, req *ark.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submits++
	g.prompts = append(g.prompts, req.Prompt)
	return fmt.Sprintf("remote-%d", g.submits), nil
}

func (g *fakeGenerator) AwaitCompletion(_ context.Context, _ string) (*ark.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.awaits >= len(g.outcomes) {
		return nil, fmt.Errorf("unexpected await call %d", g.awaits+1)
	}
	outcome := g.outcomes[g.awaits]
	g.awaits++
	return outcome, nil
}

func succeededOutcomes(n int) []*ark.Outcome {
	out := make([]*ark.Outcome, n)
	for i := range out {
		out[i] = &ark.Outcome{
			Kind:     ark.OutcomeSucceeded,
			VideoURL: fmt.Sprintf("https://cdn.example.com/part_%d.mp4", i+1),
		}
	}
	return out
}

// ----- 拼接器假实现 -----

type fakeMerger struct {
	mu            sync.Mutex
	mergeCalled   bool
	publishCalled bool
	mergeErr      error
	publishErr    error
	gotURLs       []string
	publishedURL  string
}

func (m *fakeMerger) Merge(_ context.Context, _ string, videoURLs []string) (string, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeCalled = true
	m.gotURLs = append([]string(nil), videoURLs...)
	if m.mergeErr != nil {
		return "", func() {}, m.mergeErr
	}
	return "/tmp/merged.mp4", func() {}, nil
}

func (m *fakeMerger) Publish(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishCalled = true
	if m.publishErr != nil {
		return "", m.publishErr
	}
	if m.publishedURL == "" {
		m.publishedURL = "https://oss.example.com/videos/final.mp4"
	}
	return m.publishedURL, nil
}

// ----- 测试工具 -----

func testConfig() *config.VideoConfig {
	return &config.VideoConfig{
		Model:             "test-model",
		MaxSegmentSeconds: 12,
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       time.Second,
		TaskTimeout:       5 * time.Second,
	}
}

func newTestService(repo taskrepo.TaskRepository, gen Generator, merger Merger) *videoTaskService {
	return NewVideoTaskService(repo, gen, merger, nil, nil, testConfig()).(*videoTaskService)
}

// waitTerminal 等待任务进入终态（后台 worker 是异步的）
func waitTerminal(repo *fakeRepo, taskID string) *videotask.Task {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		t, err := repo.FindByTaskID(context.Background(), taskID)
		if err == nil && t.Status.IsTerminal() {
			return t
		}
		time.Sleep(5 * time.Millisecond)
	}
	t, _ := repo.FindByTaskID(context.Background(), taskID)
	return t
}

// ----- 用例 -----

func TestSubmitTask(t *testing.T) {
	Convey("SubmitTask 创建任务并触发后台执行", t, func() {
		Convey("产品名称缺失时报错", func() {
			svc := newTestService(newFakeRepo(), &fakeGenerator{}, &fakeMerger{})
			_, err := svc.SubmitTask(context.Background(), SubmitTaskInput{Duration: 20})
			So(err, ShouldNotBeNil)
		})

		Convey("非法任务类型报错", func() {
			svc := newTestService(newFakeRepo(), &fakeGenerator{}, &fakeMerger{})
			_, err := svc.SubmitTask(context.Background(), SubmitTaskInput{
				ProductName: "螺栓",
				Type:        "image",
			})
			So(err, ShouldNotBeNil)
		})

		Convey("20秒任务分为两段并异步完成", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: succeededOutcomes(2)}
			merger := &fakeMerger{}
			svc := newTestService(repo, gen, merger)

			result, err := svc.SubmitTask(context.Background(), SubmitTaskInput{
				ProductName: "高强度螺栓",
				Theme:       "品质保证",
				Duration:    20,
				SessionID:   "sess-1",
			})
			So(err, ShouldBeNil)
			So(result.TaskID, ShouldNotBeEmpty)
			So(result.TotalParts, ShouldEqual, 2)
			So(result.Segments, ShouldResemble, []int{10, 10})

			task := waitTerminal(repo, result.TaskID)
			So(task.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(task.Progress, ShouldEqual, 100)
			So(task.CompletedParts, ShouldEqual, 2)
			So(len(task.VideoURLs), ShouldEqual, 2)
			So(task.MergedVideoURL, ShouldEqual, "https://oss.example.com/videos/final.mp4")
			So(task.ScriptContent, ShouldContainSubstring, "高强度螺栓")
			So(task.ErrorMessage, ShouldBeEmpty)
			So(merger.gotURLs, ShouldResemble, []string{
				"https://cdn.example.com/part_1.mp4",
				"https://cdn.example.com/part_2.mp4",
			})

			Convey("进度单调不减", func() {
				hist := repo.history(result.TaskID)
				So(len(hist), ShouldBeGreaterThan, 0)
				for i := 1; i < len(hist); i++ {
					So(hist[i], ShouldBeGreaterThanOrEqualTo, hist[i-1])
				}
				So(hist[len(hist)-1], ShouldEqual, 100)
			})
		})
	})
}

func TestOrchestrate_VideoTask(t *testing.T) {
	Convey("视频任务编排", t, func() {
		newTask := func(duration int, segments []int) *videotask.Task {
			return &videotask.Task{
				ID:          "id-1",
				TaskID:      "task-1",
				Type:        videotask.TaskTypeVideo,
				ProductName: "高强度螺栓",
				Theme:       "品质保证",
				Duration:    duration,
				Segments:    segments,
				Status:      videotask.TaskStatusPending,
				TotalParts:  len(segments),
			}
		}

		Convey("单段任务生成失败（内容审核）时任务失败", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: []*ark.Outcome{
				{Kind: ark.OutcomeFailed, Reason: "content policy violation"},
			}}
			merger := &fakeMerger{}
			svc := newTestService(repo, gen, merger)

			task := newTask(8, []int{8})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, err := repo.FindByTaskID(context.Background(), "task-1")
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, videotask.TaskStatusFailed)
			So(got.ErrorMessage, ShouldContainSubstring, "content policy violation")
			So(got.CompletedParts, ShouldEqual, 0)
			So(merger.mergeCalled, ShouldBeFalse)
		})

		Convey("第三段超时，任务失败且不产出部分结果", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: []*ark.Outcome{
				{Kind: ark.OutcomeSucceeded, VideoURL: "https://cdn.example.com/p1.mp4"},
				{Kind: ark.OutcomeSucceeded, VideoURL: "https://cdn.example.com/p2.mp4"},
				{Kind: ark.OutcomeTimeout, Reason: "generation timed out after 5m0s"},
			}}
			merger := &fakeMerger{}
			svc := newTestService(repo, gen, merger)

			task := newTask(25, []int{8, 8, 9})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusFailed)
			So(got.ErrorMessage, ShouldContainSubstring, "第3段")
			So(got.ErrorMessage, ShouldContainSubstring, "超时")
			So(got.MergedVideoURL, ShouldBeEmpty)
			So(merger.mergeCalled, ShouldBeFalse)
			// 前两段已完成的记录保留，便于诊断
			So(got.CompletedParts, ShouldEqual, 2)
		})

		Convey("任务被取消时任务失败", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: []*ark.Outcome{
				{Kind: ark.OutcomeCancelled, Reason: "task cancelled"},
			}}
			svc := newTestService(repo, gen, &fakeMerger{})

			task := newTask(10, []int{10})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusFailed)
			So(got.ErrorMessage, ShouldContainSubstring, "取消")
		})

		Convey("提交失败时任务失败", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{submitErr: fmt.Errorf("connection refused")}
			svc := newTestService(repo, gen, &fakeMerger{})

			task := newTask(10, []int{10})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusFailed)
			So(got.ErrorMessage, ShouldContainSubstring, "提交失败")
		})

		Convey("拼接失败时降级完成，回退第一段视频", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: succeededOutcomes(2)}
			merger := &fakeMerger{mergeErr: fmt.Errorf("ffmpeg concat failed")}
			svc := newTestService(repo, gen, merger)

			task := newTask(20, []int{10, 10})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(got.MergedVideoURL, ShouldEqual, "https://cdn.example.com/part_1.mp4")
			So(got.ErrorMessage, ShouldContainSubstring, "拼接失败")
			So(got.Progress, ShouldEqual, 100)
			So(merger.publishCalled, ShouldBeFalse)
		})

		Convey("上传失败时降级完成，回退第一段视频", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: succeededOutcomes(2)}
			merger := &fakeMerger{publishErr: fmt.Errorf("oss: access denied")}
			svc := newTestService(repo, gen, merger)

			task := newTask(20, []int{10, 10})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(got.MergedVideoURL, ShouldEqual, "https://cdn.example.com/part_1.mp4")
			So(got.ErrorMessage, ShouldContainSubstring, "上传对象存储失败")
			So(merger.mergeCalled, ShouldBeTrue)
		})

		Convey("各段提示词带脚本文案、叙事和时长参数", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: succeededOutcomes(3)}
			svc := newTestService(repo, gen, &fakeMerger{})

			task := newTask(25, []int{8, 8, 9})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			So(len(gen.prompts), ShouldEqual, 3)
			So(gen.prompts[0], ShouldContainSubstring, "第1部分")
			So(gen.prompts[0], ShouldContainSubstring, "--duration 8")
			So(gen.prompts[2], ShouldContainSubstring, "第3部分")
			So(gen.prompts[2], ShouldContainSubstring, "--duration 9")

			// 模板脚本被切分后逐段进入对应提示词
			So(gen.prompts[0], ShouldContainSubstring, "产品引入")
			So(gen.prompts[1], ShouldContainSubstring, "场景展开")
			So(gen.prompts[2], ShouldContainSubstring, "应用与信任")
		})

		Convey("终态之后任务记录不可再修改", func() {
			repo := newFakeRepo()
			gen := &fakeGenerator{outcomes: []*ark.Outcome{
				{Kind: ark.OutcomeFailed, Reason: "boom"},
			}}
			svc := newTestService(repo, gen, &fakeMerger{})

			task := newTask(8, []int{8})
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			err := repo.UpdateProgress(context.Background(), "task-1", videotask.TaskStatusGenerating, 50, "回退尝试")
			So(err, ShouldEqual, taskrepo.ErrTaskNotFound)

			err = repo.MarkCompleted(context.Background(), "task-1", "url", "", "")
			So(err, ShouldEqual, taskrepo.ErrTaskNotFound)

			got, _ := repo.FindByTaskID(context.Background(), "task-1")
			So(got.Status, ShouldEqual, videotask.TaskStatusFailed)
		})
	})
}

func TestOrchestrate_ScriptTask(t *testing.T) {
	Convey("脚本任务编排", t, func() {
		Convey("无 LLM 时使用模板生成脚本并完成", func() {
			repo := newFakeRepo()
			svc := newTestService(repo, &fakeGenerator{}, &fakeMerger{})

			task := &videotask.Task{
				ID:          "id-s",
				TaskID:      "task-s",
				Type:        videotask.TaskTypeScript,
				ProductName: "高强度螺栓",
				Theme:       "品质保证",
				Scenario:    "汽车底盘连接",
				Duration:    20,
				Segments:    []int{10, 10},
				Status:      videotask.TaskStatusPending,
				TotalParts:  2,
			}
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-s")
			So(got.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(got.ScriptContent, ShouldContainSubstring, "高强度螺栓")
			So(got.ScriptContent, ShouldContainSubstring, "【第一段】")
			So(got.Progress, ShouldEqual, 100)
		})

		Convey("LLM 可用时优先使用 LLM 结果", func() {
			repo := newFakeRepo()
			llm := &fakeLLM{response: "LLM生成的脚本内容"}
			svc := NewVideoTaskService(repo, &fakeGenerator{}, &fakeMerger{}, llm, nil, testConfig()).(*videoTaskService)

			task := &videotask.Task{
				TaskID:      "task-llm",
				Type:        videotask.TaskTypeScript,
				ProductName: "螺母",
				Theme:       "技术创新",
				Duration:    15,
				Segments:    []int{8, 7},
				Status:      videotask.TaskStatusPending,
				TotalParts:  2,
			}
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-llm")
			So(got.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(got.ScriptContent, ShouldEqual, "LLM生成的脚本内容")
		})

		Convey("LLM 失败时退回模板而不是任务失败", func() {
			repo := newFakeRepo()
			llm := &fakeLLM{err: fmt.Errorf("rate limited")}
			svc := NewVideoTaskService(repo, &fakeGenerator{}, &fakeMerger{}, llm, nil, testConfig()).(*videoTaskService)

			task := &videotask.Task{
				TaskID:      "task-fb",
				Type:        videotask.TaskTypeScript,
				ProductName: "垫圈",
				Theme:       "品质保证",
				Duration:    20,
				Segments:    []int{10, 10},
				Status:      videotask.TaskStatusPending,
				TotalParts:  2,
			}
			So(repo.Create(context.Background(), task), ShouldBeNil)
			svc.orchestrate(context.Background(), task)

			got, _ := repo.FindByTaskID(context.Background(), "task-fb")
			So(got.Status, ShouldEqual, videotask.TaskStatusCompleted)
			So(got.ScriptContent, ShouldContainSubstring, "垫圈")
		})
	})
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestGetProgress(t *testing.T) {
	Convey("GetProgress 只读查询", t, func() {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeGenerator{}, &fakeMerger{})

		Convey("任务不存在时返回 ErrTaskNotFound", func() {
			_, err := svc.GetProgress(context.Background(), "missing")
			So(err, ShouldEqual, taskrepo.ErrTaskNotFound)
		})

		Convey("返回任务当前状态且不修改记录", func() {
			task := &videotask.Task{
				TaskID:     "task-q",
				Type:       videotask.TaskTypeVideo,
				Status:     videotask.TaskStatusGenerating,
				Progress:   35,
				TotalParts: 2,
			}
			So(repo.Create(context.Background(), task), ShouldBeNil)

			got, err := svc.GetProgress(context.Background(), "task-q")
			So(err, ShouldBeNil)
			So(got.Progress, ShouldEqual, 35)
			So(got.Status, ShouldEqual, videotask.TaskStatusGenerating)

			again, err := svc.GetProgress(context.Background(), "task-q")
			So(err, ShouldBeNil)
			So(again.Progress, ShouldEqual, 35)
		})
	})
}

func TestListBySession(t *testing.T) {
	Convey("ListBySession 按会话查询", t, func() {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeGenerator{}, &fakeMerger{})

		Convey("session_id 缺失时报错", func() {
			_, err := svc.ListBySession(context.Background(), "", 1, 20)
			So(err, ShouldNotBeNil)
		})

		Convey("只返回指定会话的任务", func() {
			So(repo.Create(context.Background(), &videotask.Task{TaskID: "a", SessionID: "s1"}), ShouldBeNil)
			So(repo.Create(context.Background(), &videotask.Task{TaskID: "b", SessionID: "s1"}), ShouldBeNil)
			So(repo.Create(context.Background(), &videotask.Task{TaskID: "c", SessionID: "s2"}), ShouldBeNil)

			result, err := svc.ListBySession(context.Background(), "s1", 1, 20)
			So(err, ShouldBeNil)
			So(result.Total, ShouldEqual, 2)
			So(len(result.Tasks), ShouldEqual, 2)
		})
	})
}
