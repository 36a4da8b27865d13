package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Transport 选择客户端调用生成接口的方式。
type Transport string

const (
	// TransportPost 携带会话标识的 POST 请求，生产默认。
	TransportPost Transport = "post"
	// TransportQuery 旧版 GET ?user_input= 请求。
	TransportQuery Transport = "query"
)

// ClientConfig 描述 bpmnctl 客户端配置。
type ClientConfig struct {
	App         AppConfig
	Transport   Transport
	SessionFile string
	DownloadDir string
}

// LoadClient 从环境变量加载客户端配置。
func LoadClient() (*ClientConfig, error) {
	app, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	transport := Transport(strings.ToLower(getEnvOrDefault("BPMNCTL_TRANSPORT", string(TransportPost))))
	if transport != TransportPost && transport != TransportQuery {
		return nil, fmt.Errorf("invalid BPMNCTL_TRANSPORT value %q: must be post or query", transport)
	}

	sessionFile := strings.TrimSpace(os.Getenv("BPMNCTL_SESSION_FILE"))
	if sessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		sessionFile = filepath.Join(dir, "bpmnctl", "session.toml")
	}

	return &ClientConfig{
		App:         app,
		Transport:   transport,
		SessionFile: sessionFile,
		DownloadDir: getEnvOrDefault("BPMNCTL_DOWNLOAD_DIR", "."),
	}, nil
}
