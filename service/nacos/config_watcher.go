package nacos

import (
	"sync"

	"PPRelay/logger"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watcher 持有远端配置的最新内容，变更时回调 onChange。
type Watcher struct {
	client config_client.IConfigClient
	dataID string
	group  string

	mu      sync.RWMutex
	current string
}

func NewWatcher(client config_client.IConfigClient, dataID, group string) *Watcher {
	return &Watcher{client: client, dataID: dataID, group: group}
}

// Fetch 拉取一次配置内容。
func (w *Watcher) Fetch() (string, error) {
	content, err := w.client.GetConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
	})
	if err != nil {
		return "", errors.Wrapf(err, "get nacos config %s/%s", w.group, w.dataID)
	}
	w.update(content)
	return content, nil
}

// Listen 注册监听，nacos SDK 在自己的 goroutine 中回调。
func (w *Watcher) Listen(onChange func(data string)) error {
	err := w.client.ListenConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("nacos config changed", zap.String("group", group), zap.String("data_id", dataId))
			w.update(data)
			if onChange != nil {
				onChange(data)
			}
		},
	})
	return errors.Wrap(err, "listen nacos config")
}

func (w *Watcher) Stop() error {
	return w.client.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
}

func (w *Watcher) update(data string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = data
}

func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
