package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"regrun/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Key 前缀 (Schema Design)
const CaseKeyPrefix = "/regrun/cases/"

type EtcdManager struct {
	client *clientv3.Client
	logger *zap.Logger
}

// NewEtcdManager 初始化 Etcd 连接
func NewEtcdManager(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdManager, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}
	return &EtcdManager{client: cli, logger: logger.Named("etcd")}, nil
}

func caseKey(index int) string {
	// 定长索引保证按 key 排序即按矩阵行排序
	return fmt.Sprintf("%s%06d", CaseKeyPrefix, index)
}

func indexFromKey(key string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(key, CaseKeyPrefix))
}

// ReplaceCases 在一个事务里删除旧前缀并写入全部新用例
func (e *EtcdManager) ReplaceCases(ctx context.Context, cases []model.TestCase) error {
	ops := make([]clientv3.Op, 0, len(cases)+1)
	ops = append(ops, clientv3.OpDelete(CaseKeyPrefix, clientv3.WithPrefix()))
	for i, tc := range cases {
		bytes, err := json.Marshal(tc)
		if err != nil {
			return fmt.Errorf("marshal case %d: %w", i, err)
		}
		ops = append(ops, clientv3.OpPut(caseKey(i), string(bytes)))
	}
	if _, err := e.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("replace cases: %w", err)
	}
	return nil
}

func (e *EtcdManager) PutCase(ctx context.Context, index int, tc model.TestCase) error {
	return e.putValue(ctx, caseKey(index), tc)
}

func (e *EtcdManager) ListCases(ctx context.Context) ([]model.TestCase, error) {
	resp, err := e.client.Get(ctx, CaseKeyPrefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	cases := make([]model.TestCase, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var tc model.TestCase
		if err := json.Unmarshal(kv.Value, &tc); err != nil {
			e.logger.Warn("skip undecodable case", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

// WatchCases 将 Etcd 的 Watch 转换为业务 Channel
func (e *EtcdManager) WatchCases(ctx context.Context) <-chan CaseEvent {
	eventChan := make(chan CaseEvent)

	go func() {
		defer close(eventChan)
		watchChan := e.client.Watch(ctx, CaseKeyPrefix, clientv3.WithPrefix())

		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				e.logger.Warn("watch interrupted", zap.Error(err))
				return
			}
			for _, ev := range watchResp.Events {
				index, err := indexFromKey(string(ev.Kv.Key))
				if err != nil {
					continue
				}

				event := CaseEvent{Type: CaseUpdate, Index: index}
				switch ev.Type {
				case clientv3.EventTypePut:
					var tc model.TestCase
					if err := json.Unmarshal(ev.Kv.Value, &tc); err != nil {
						e.logger.Warn("skip undecodable case event", zap.Int("index", index), zap.Error(err))
						continue
					}
					event.Case = &tc
				case clientv3.EventTypeDelete:
					event.Type = CaseDelete
				}

				select {
				case eventChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}

// putValue 封装通用的 JSON 序列化 + Put 操作
func (e *EtcdManager) putValue(ctx context.Context, key string, val interface{}) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if _, err = e.client.Put(ctx, key, string(bytes)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
