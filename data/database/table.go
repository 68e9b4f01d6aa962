package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 文档模型声明自己所在的集合。
type Table interface {
	GetTableName() string
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
