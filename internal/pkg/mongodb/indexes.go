package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"mango/internal/model/videotask"
)

// EnsureIndexes 创建所有模型的索引
// 应用启动时统一调用
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&videotask.Task{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
