package store

import (
	"context"

	"regrun/pkg/model"
)

// CaseEventType 定义监听事件类型
type CaseEventType int

const (
	CaseUpdate CaseEventType = iota
	CaseDelete
)

// CaseEvent 包装了持久层中发生的一次用例变化
type CaseEvent struct {
	Type  CaseEventType
	Index int
	Case  *model.TestCase
}

// Store 接口定义了记录仓库对持久层的全部需求
// EtcdManager 和 MemoryStore 都实现了它，可以被注入到 records.Store 中
type Store interface {
	// ReplaceCases 用新导入的矩阵整体替换所有用例
	ReplaceCases(ctx context.Context, cases []model.TestCase) error

	// PutCase 写入单个用例的最新状态
	PutCase(ctx context.Context, index int, tc model.TestCase) error

	// ListCases 按索引顺序返回所有用例
	ListCases(ctx context.Context) ([]model.TestCase, error)

	// WatchCases 监听用例变化 (返回一个只读通道，ctx 结束时关闭)
	WatchCases(ctx context.Context) <-chan CaseEvent

	Close() error
}
