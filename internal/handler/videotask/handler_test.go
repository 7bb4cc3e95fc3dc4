package videotask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"mango/internal/model/videotask"
	taskrepo "mango/internal/repository/videotask"
	tasksvc "mango/internal/service/videotask"
)

type fakeTaskService struct {
	submitResult *tasksvc.SubmitTaskResult
	submitErr    error
	task         *videotask.Task
	progressErr  error
	listResult   *tasksvc.TaskListResult
	listErr      error

	gotInput tasksvc.SubmitTaskInput
}

func (f *fakeTaskService) SubmitTask(_ context.Context, input tasksvc.SubmitTaskInput) (*tasksvc.SubmitTaskResult, error) {
	f.gotInput = input
	return f.submitResult, f.submitErr
}

func (f *fakeTaskService) GetProgress(_ context.Context, _ string) (*videotask.Task, error) {
	return f.task, f.progressErr
}

func (f *fakeTaskService) ListBySession(_ context.Context, _ string, _, _ int64) (*tasksvc.TaskListResult, error) {
	return f.listResult, f.listErr
}

func newTestRouter(svc tasksvc.VideoTaskService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)
	r.POST("/api/v1/video-tasks", h.CreateTask)
	r.GET("/api/v1/video-tasks", h.ListTasks)
	r.GET("/api/v1/video-tasks/:task_id/progress", h.GetProgress)
	return r
}

func TestCreateTask(t *testing.T) {
	Convey("POST /api/v1/video-tasks", t, func() {
		Convey("创建成功返回任务ID和分段方案", func() {
			svc := &fakeTaskService{
				submitResult: &tasksvc.SubmitTaskResult{
					TaskID:     "task-abc",
					TotalParts: 2,
					Segments:   []int{10, 10},
				},
			}
			router := newTestRouter(svc)

			body := `{"product_name":"高强度螺栓","theme":"品质保证","duration":20,"session_id":"s1"}`
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/video-tasks", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusCreated)

			var resp struct {
				Code int                    `json:"code"`
				Data CreateTaskResponseData `json:"data"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, 0)
			So(resp.Data.TaskID, ShouldEqual, "task-abc")
			So(resp.Data.Status, ShouldEqual, "pending")
			So(resp.Data.Segments, ShouldResemble, []int{10, 10})

			So(svc.gotInput.ProductName, ShouldEqual, "高强度螺栓")
			So(svc.gotInput.Duration, ShouldEqual, 20)
			So(svc.gotInput.SessionID, ShouldEqual, "s1")
		})

		Convey("缺少必填字段返回 400", func() {
			router := newTestRouter(&fakeTaskService{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/video-tasks", strings.NewReader(`{"theme":"品质保证"}`))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestGetProgressEndpoint(t *testing.T) {
	Convey("GET /api/v1/video-tasks/:task_id/progress", t, func() {
		Convey("返回任务进度和状态提示", func() {
			now := time.Now()
			svc := &fakeTaskService{
				task: &videotask.Task{
					TaskID:         "task-abc",
					Type:           videotask.TaskTypeVideo,
					ProductName:    "螺栓",
					Status:         videotask.TaskStatusGenerating,
					Progress:       35,
					CurrentStep:    "正在生成第2/2段视频（10秒）",
					TotalParts:     2,
					CompletedParts: 1,
					CreatedAt:      now,
					UpdatedAt:      now,
				},
			}
			router := newTestRouter(svc)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/video-tasks/task-abc/progress", nil)
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusOK)

			var resp struct {
				Code int      `json:"code"`
				Data TaskInfo `json:"data"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Data.TaskID, ShouldEqual, "task-abc")
			So(resp.Data.Progress, ShouldEqual, 35)
			So(resp.Data.StatusMessage, ShouldContainSubstring, "视频生成中")
			So(resp.Data.CompletedParts, ShouldEqual, 1)
		})

		Convey("降级完成时提示语带降级原因", func() {
			now := time.Now()
			svc := &fakeTaskService{
				task: &videotask.Task{
					TaskID:         "task-deg",
					Type:           videotask.TaskTypeVideo,
					Status:         videotask.TaskStatusCompleted,
					Progress:       100,
					MergedVideoURL: "https://cdn.example.com/part_1.mp4",
					ErrorMessage:   "已生成 2 段视频但拼接失败，当前返回第一段视频（10秒）",
					CreatedAt:      now,
					UpdatedAt:      now,
				},
			}
			router := newTestRouter(svc)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/video-tasks/task-deg/progress", nil)
			router.ServeHTTP(w, req)

			var resp struct {
				Data TaskInfo `json:"data"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Data.Status, ShouldEqual, "completed")
			So(resp.Data.StatusMessage, ShouldContainSubstring, "拼接失败")
			So(resp.Data.VideoURL, ShouldEqual, "https://cdn.example.com/part_1.mp4")
		})

		Convey("任务不存在返回 404", func() {
			svc := &fakeTaskService{progressErr: taskrepo.ErrTaskNotFound}
			router := newTestRouter(svc)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/video-tasks/missing/progress", nil)
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestListTasksEndpoint(t *testing.T) {
	Convey("GET /api/v1/video-tasks", t, func() {
		Convey("缺少 session_id 返回 400", func() {
			router := newTestRouter(&fakeTaskService{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/video-tasks", nil)
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("返回会话的任务列表", func() {
			now := time.Now()
			svc := &fakeTaskService{
				listResult: &tasksvc.TaskListResult{
					Tasks: []*videotask.Task{
						{TaskID: "t1", Status: videotask.TaskStatusCompleted, CreatedAt: now, UpdatedAt: now},
						{TaskID: "t2", Status: videotask.TaskStatusPending, CreatedAt: now, UpdatedAt: now},
					},
					Total:    2,
					Page:     1,
					PageSize: 20,
				},
			}
			router := newTestRouter(svc)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/video-tasks?session_id=s1", nil)
			router.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusOK)

			var resp struct {
				Data ListTasksResponseData `json:"data"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Data.Total, ShouldEqual, 2)
			So(len(resp.Data.Tasks), ShouldEqual, 2)
		})
	})
}
