package model

// AllModels 返回所有需要迁移的数据库模型对象
// 生产环境以 migrations/ 为准, 这里只用于测试中的 AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&NonceRecord{},
	}
}
