package config

import (
	"errors"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Account struct {
	ID           string `mapstructure:"id"`
	Username     string `mapstructure:"username"`
	RealName     string `mapstructure:"real_name"`
	Role         string `mapstructure:"role"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
	// Password 仅用于本地开发，启动时哈希；设置了 password_hash 时忽略
	Password string `mapstructure:"password"`
}

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		// 多个地址时使用集群客户端；为空表示不启用 Redis
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Secret     string        `mapstructure:"secret"`
		AccessTTL  time.Duration `mapstructure:"accessTTL"`
		RefreshTTL time.Duration `mapstructure:"refreshTTL"`
		Users      []Account     `mapstructure:"users"`
	} `mapstructure:"Auth"`
	Collab struct {
		LockTTL          time.Duration `mapstructure:"lockTTL"`
		PresenceTTL      time.Duration `mapstructure:"presenceTTL"`
		MirrorTTL        time.Duration `mapstructure:"mirrorTTL"`
		SweepInterval    time.Duration `mapstructure:"sweepInterval"`
		WriteConcurrency int           `mapstructure:"writeConcurrency"`
	} `mapstructure:"Collab"`
	Notify struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
		InboxMax       int      `mapstructure:"inboxMax"`
	} `mapstructure:"Notify"`
}

type ClientConfig struct {
	Server struct {
		BaseURL      string   `mapstructure:"baseURL"`
		WSCandidates []string `mapstructure:"wsCandidates"`
	} `mapstructure:"Server"`
	Session struct {
		HeartbeatInterval    time.Duration `mapstructure:"heartbeatInterval"`
		ConnectTimeout       time.Duration `mapstructure:"connectTimeout"`
		ReconnectDelay       time.Duration `mapstructure:"reconnectDelay"`
		MaxReconnectAttempts int           `mapstructure:"maxReconnectAttempts"`
		DedupWindow          time.Duration `mapstructure:"dedupWindow"`
		DedupSweep           time.Duration `mapstructure:"dedupSweep"`
	} `mapstructure:"Session"`
	State struct {
		// 为空时使用 ~/.collab-session/state.toml
		Path string `mapstructure:"path"`
	} `mapstructure:"State"`
}

// newViper 兼容从项目根目录或 backend 目录启动
func newViper(name, file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	return v
}

func setCollabDefaults(v *viper.Viper) {
	v.SetDefault("Running.Port", 8080)
	v.SetDefault("Kafka.topic", "doc-history")
	v.SetDefault("Auth.accessTTL", "30m")
	v.SetDefault("Auth.refreshTTL", "168h")
	v.SetDefault("Collab.lockTTL", "30m")
	v.SetDefault("Collab.presenceTTL", "30s")
	v.SetDefault("Collab.mirrorTTL", "20s")
	v.SetDefault("Collab.sweepInterval", "1m")
	v.SetDefault("Collab.writeConcurrency", 100)
	v.SetDefault("Notify.inboxMax", 50)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("Server.baseURL", "http://127.0.0.1:8080")
	v.SetDefault("Server.wsCandidates", []string{
		"ws://127.0.0.1:8080/ws/notifications",
		"ws://localhost:8080/ws/notifications",
	})
	v.SetDefault("Session.heartbeatInterval", "30s")
	v.SetDefault("Session.connectTimeout", "2s")
	v.SetDefault("Session.reconnectDelay", "3s")
	v.SetDefault("Session.maxReconnectAttempts", 10)
	v.SetDefault("Session.dedupWindow", "3s")
	v.SetDefault("Session.dedupSweep", "3s")
}

// LoadCollab file 为空时按默认路径查找 collabConfig.yaml
func LoadCollab(file string) (*CollabConfig, *viper.Viper, error) {
	v := newViper("collabConfig", file)
	setCollabDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, err
	}
	cfg := &CollabConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// WatchCollab 配置文件变化时重新解析并回调；解析失败保留旧配置
func WatchCollab(v *viper.Viper, apply func(*CollabConfig)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := &CollabConfig{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Printf("[config] reload %s failed: %v", e.Name, err)
			return
		}
		log.Printf("[config] reloaded %s", e.Name)
		apply(cfg)
	})
	v.WatchConfig()
}

// LoadClient 找不到配置文件时只用默认值
func LoadClient(file string) (*ClientConfig, error) {
	v := newViper("clientConfig", file)
	setClientDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
