package videotask

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mango/internal/model/videotask"
)

var (
	// ErrTaskNotFound 任务不存在，或已进入终态导致更新被拒绝
	ErrTaskNotFound = errors.New("video task not found")
	// ErrDuplicateTask task_id 冲突（唯一索引拦截）
	ErrDuplicateTask = errors.New("duplicate video task id")
)

// TaskRepository 视频任务仓库接口
// 所有写操作均为单条原子更新；终态（completed/failed）记录拒绝任何修改
type TaskRepository interface {
	Create(ctx context.Context, t *videotask.Task) error
	FindByTaskID(ctx context.Context, taskID string) (*videotask.Task, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize int64) ([]*videotask.Task, int64, error)

	// UpdateProgress 推进状态/进度/步骤描述，进度只增不减
	UpdateProgress(ctx context.Context, taskID string, status videotask.TaskStatus, progress int, currentStep string) error
	// IncrementCompletedParts 片段完成时原子递增已完成段数并追加片段URL，
	// 返回递增后的已完成段数
	IncrementCompletedParts(ctx context.Context, taskID string, videoURL string) (int, error)
	// MarkCompleted 置为终态 completed（errorMessage 非空表示降级完成）
	MarkCompleted(ctx context.Context, taskID string, mergedVideoURL, scriptContent, errorMessage string) error
	// MarkFailed 置为终态 failed
	MarkFailed(ctx context.Context, taskID string, errorMessage string) error
}

// Repo 实现 TaskRepository
type Repo struct {
	coll *mongo.Collection
}

// NewRepo 创建视频任务仓库
func NewRepo(db *mongo.Database) *Repo {
	var t videotask.Task
	return &Repo{coll: db.Collection(t.Collection())}
}

// notTerminal 终态排除条件，保证 completed/failed 记录不可再修改
func notTerminal(taskID string) bson.M {
	return bson.M{
		"task_id": taskID,
		"status": bson.M{
			"$nin": []videotask.TaskStatus{videotask.TaskStatusCompleted, videotask.TaskStatusFailed},
		},
	}
}

// Create 创建任务记录
func (r *Repo) Create(ctx context.Context, t *videotask.Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := r.coll.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateTask
	}
	return err
}

// FindByTaskID 根据对外任务ID查询
func (r *Repo) FindByTaskID(ctx context.Context, taskID string) (*videotask.Task, error) {
	var t videotask.Task
	err := r.coll.FindOne(ctx, bson.M{"task_id": taskID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListBySession 按会话查询任务列表（创建时间倒序 + 分页）
func (r *Repo) ListBySession(ctx context.Context, sessionID string, page, pageSize int64) ([]*videotask.Task, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	filter := bson.M{"session_id": sessionID}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * pageSize).
		SetLimit(pageSize)

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var tasks []*videotask.Task
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// UpdateProgress 推进状态/进度/步骤描述
// 进度字段单独做单调保护：新值不高于当前值时只更新状态和步骤
func (r *Repo) UpdateProgress(ctx context.Context, taskID string, status videotask.TaskStatus, progress int, currentStep string) error {
	filter := notTerminal(taskID)
	update := bson.M{
		"$set": bson.M{
			"status":       status,
			"current_step": currentStep,
			"updated_at":   time.Now(),
		},
		// progress 只增不减
		"$max": bson.M{"progress": progress},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// IncrementCompletedParts 片段完成：原子递增已完成段数、追加片段URL，
// 并按 floor(completed/total*70) 推进进度（上限 70）
func (r *Repo) IncrementCompletedParts(ctx context.Context, taskID string, videoURL string) (int, error) {
	update := bson.M{
		"$inc":  bson.M{"completed_parts": 1},
		"$push": bson.M{"video_urls": videoURL},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t videotask.Task
	err := r.coll.FindOneAndUpdate(ctx, notTerminal(taskID), update, opts).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrTaskNotFound
	}
	if err != nil {
		return 0, err
	}

	if t.TotalParts > 0 {
		progress := t.CompletedParts * videotask.ProgressGenerateBudget / t.TotalParts
		if progress > videotask.ProgressGenerateBudget {
			progress = videotask.ProgressGenerateBudget
		}
		_, err = r.coll.UpdateOne(ctx, notTerminal(taskID), bson.M{
			"$max": bson.M{"progress": progress},
			"$set": bson.M{"updated_at": time.Now()},
		})
		if err != nil {
			return t.CompletedParts, err
		}
	}
	return t.CompletedParts, nil
}

// MarkCompleted 置为终态 completed
// errorMessage 非空表示降级完成（拼接或上传失败但保留了可用结果）
func (r *Repo) MarkCompleted(ctx context.Context, taskID string, mergedVideoURL, scriptContent, errorMessage string) error {
	now := time.Now()
	set := bson.M{
		"status":       videotask.TaskStatusCompleted,
		"progress":     videotask.ProgressDone,
		"current_step": "任务完成",
		"updated_at":   now,
		"completed_at": now,
	}
	if mergedVideoURL != "" {
		set["merged_video_url"] = mergedVideoURL
	}
	if scriptContent != "" {
		set["script_content"] = scriptContent
	}
	if errorMessage != "" {
		set["error_message"] = errorMessage
	}

	res, err := r.coll.UpdateOne(ctx, notTerminal(taskID), bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkFailed 置为终态 failed
func (r *Repo) MarkFailed(ctx context.Context, taskID string, errorMessage string) error {
	now := time.Now()
	res, err := r.coll.UpdateOne(ctx, notTerminal(taskID), bson.M{
		"$set": bson.M{
			"status":        videotask.TaskStatusFailed,
			"current_step":  "任务失败",
			"error_message": errorMessage,
			"updated_at":    now,
			"completed_at":  now,
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}
