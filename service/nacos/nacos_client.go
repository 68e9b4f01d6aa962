package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

// Params 连接 nacos 服务端所需参数。
type Params struct {
	Host      string
	Port      uint64
	Namespace string
	Username  string
	Password  string
	CacheDir  string
	LogDir    string
}

func (p Params) serverConfigs() []constant.ServerConfig {
	return []constant.ServerConfig{
		*constant.NewServerConfig(p.Host, p.Port),
	}
}

func (p Params) clientConfig() *constant.ClientConfig {
	cacheDir, logDir := p.CacheDir, p.LogDir
	if cacheDir == "" {
		cacheDir = "nacos/cache"
	}
	if logDir == "" {
		logDir = "nacos/log"
	}
	return constant.NewClientConfig(
		constant.WithNamespaceId(p.Namespace),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
		constant.WithCacheDir(cacheDir),
		constant.WithLogDir(logDir),
		constant.WithUsername(p.Username),
		constant.WithPassword(p.Password),
	)
}

func NewConfigClient(p Params) (config_client.IConfigClient, error) {
	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  p.clientConfig(),
		ServerConfigs: p.serverConfigs(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos config client")
	}
	return client, nil
}

func NewNamingClient(p Params) (naming_client.INamingClient, error) {
	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  p.clientConfig(),
		ServerConfigs: p.serverConfigs(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}
	return client, nil
}
