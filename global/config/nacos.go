package config

import (
	"net"
	"os"
	"strconv"

	"PPRelay/logger"
	"PPRelay/service/nacos"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func nacosParams(c NacosConfig) nacos.Params {
	return nacos.Params{
		Host:      c.Host,
		Port:      c.Port,
		Namespace: c.Namespace,
		Username:  c.Username,
		Password:  c.Password,
	}
}

// FetchNacos 拉取远端 yaml 配置内容。
func FetchNacos(c NacosConfig) (string, error) {
	client, err := nacos.NewConfigClient(nacosParams(c))
	if err != nil {
		return "", err
	}
	return nacos.NewWatcher(client, c.DataID, c.Group).Fetch()
}

// WatchNacos 监听远端配置，每次变更都在 base 的副本上重新合并后回调。
func WatchNacos(base AppConfig, onChange func(*AppConfig)) (*nacos.Watcher, error) {
	client, err := nacos.NewConfigClient(nacosParams(base.Nacos))
	if err != nil {
		return nil, err
	}
	w := nacos.NewWatcher(client, base.Nacos.DataID, base.Nacos.Group)
	err = w.Listen(func(data string) {
		next, err := reload(base, data, os.Environ())
		if err != nil {
			logger.Warn("[Nacos] ignore remote config", zap.String("data_id", base.Nacos.DataID), zap.Error(err))
			return
		}
		onChange(next)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// reload 在 base 的副本上合并远端 yaml，再叠加环境变量，保持 Load 的优先级
func reload(base AppConfig, data string, environ []string) (*AppConfig, error) {
	next := base
	if err := ApplyYAML(&next, []byte(data)); err != nil {
		return nil, errors.Wrap(err, "parse nacos config")
	}
	if err := ApplyEnv(&next, environ); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

// RegisterNacos 把 HTTP 监听地址注册为 nacos 临时实例。
func RegisterNacos(c *AppConfig) (*nacos.Registry, error) {
	_, portStr, err := net.SplitHostPort(c.HTTP.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse http.addr %q", c.HTTP.Addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parse http port %q", portStr)
	}
	client, err := nacos.NewNamingClient(nacosParams(c.Nacos))
	if err != nil {
		return nil, err
	}
	reg := nacos.NewRegistry(client, c.Nacos.ServiceName, c.Nacos.AdvertiseIP, port)
	reg.Metadata["node_id"] = c.NodeID
	if err := reg.Register(); err != nil {
		return nil, err
	}
	return reg, nil
}
