package videotask

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"    // 已创建，等待后台 worker
	TaskStatusGenerating TaskStatus = "generating" // 分段视频生成中
	TaskStatusMerging    TaskStatus = "merging"    // 分段视频拼接中
	TaskStatusUploading  TaskStatus = "uploading"  // 上传对象存储中
	TaskStatusCompleted  TaskStatus = "completed"  // 终态：成功（含降级成功）
	TaskStatusFailed     TaskStatus = "failed"     // 终态：失败
)

// IsTerminal 是否终态
// 终态后任务记录不再被修改
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskType 任务类型
type TaskType string

const (
	TaskTypeVideo  TaskType = "video"  // 生成视频
	TaskTypeScript TaskType = "script" // 仅生成脚本
)

// 进度阶段权重：生成 70%，拼接 20%，上传 10%
// 这是产品固定的展示策略，不是推导出来的
const (
	ProgressGenerateBudget = 70
	ProgressMergeBudget    = 90
	ProgressDone           = 100
)

// Task 视频生成任务实体
// 任务的计划（duration/segments/total_parts）在创建时确定，此后不可变；
// 进度和结果字段只由 orchestrator 更新，查询接口只读
type Task struct {
	ID             string     `bson:"id" json:"id"`                                               // 内部ID（UUID）
	TaskID         string     `bson:"task_id" json:"task_id"`                                     // 对外任务ID（UUID）
	SessionID      string     `bson:"session_id,omitempty" json:"session_id,omitempty"`           // 会话ID（可选，用于分组查询）
	UserID         string     `bson:"user_id,omitempty" json:"user_id,omitempty"`                 // 用户ID（启用认证时记录）
	Type           TaskType   `bson:"type" json:"type"`                                           // video 或 script
	ProductName    string     `bson:"product_name" json:"product_name"`                           // 产品名称
	Theme          string     `bson:"theme" json:"theme"`                                         // 宣传主题
	Scenario       string     `bson:"scenario,omitempty" json:"scenario,omitempty"`               // 使用场景描述
	ImageURL       string     `bson:"image_url,omitempty" json:"image_url,omitempty"`             // 产品参考图URL（图生视频）
	Duration       int        `bson:"duration" json:"duration"`                                   // 请求的总时长（秒）
	Segments       []int      `bson:"segments" json:"segments"`                                   // 分段计划（各段时长，按顺序）
	Status         TaskStatus `bson:"status" json:"status"`                                       // 状态
	Progress       int        `bson:"progress" json:"progress"`                                   // 进度 0-100
	CurrentStep    string     `bson:"current_step,omitempty" json:"current_step,omitempty"`       // 当前步骤描述
	TotalParts     int        `bson:"total_parts" json:"total_parts"`                             // 总段数（等于 len(Segments)）
	CompletedParts int        `bson:"completed_parts" json:"completed_parts"`                     // 已完成段数
	VideoURLs      []string   `bson:"video_urls,omitempty" json:"video_urls,omitempty"`           // 各段视频URL（计划顺序）
	MergedVideoURL string     `bson:"merged_video_url,omitempty" json:"merged_video_url,omitempty"` // 拼接后的视频URL
	ScriptContent  string     `bson:"script_content,omitempty" json:"script_content,omitempty"`   // 脚本内容（script 类型）
	ErrorMessage   string     `bson:"error_message,omitempty" json:"error_message,omitempty"`     // 失败/降级的诊断信息
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Collection 返回集合名称
func (t *Task) Collection() string { return "video_tasks" }

// EnsureIndexes 创建和维护索引
func (t *Task) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(t.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index().SetName("idx_task_id").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_session_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
