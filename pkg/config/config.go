package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Version   string `mapstructure:"version"`
	JWTSecret string `mapstructure:"jwt_secret"`
	LogLevel  string `mapstructure:"log_level"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Timeout string `mapstructure:"timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
}

// MongoDBConfig MongoDB配置
type MongoDBConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"db_name"`
}

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	DSN    string `mapstructure:"dsn"`
	DBName string `mapstructure:"db_name"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// RealtimeConfig 实时核心调优参数
// 默认值与原始部署保持兼容：在线窗口120s、缓存上限100条、typing 5s
type RealtimeConfig struct {
	PresenceWindow    time.Duration `mapstructure:"presence_window"`    // 心跳在线窗口
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 客户端心跳间隔（必须小于窗口）
	MessageCacheCap   int           `mapstructure:"message_cache_cap"`  // 每房间消息缓存上限
	RecentLimit       int           `mapstructure:"recent_limit"`       // join_room 返回的默认历史条数
	TypingTTL         time.Duration `mapstructure:"typing_ttl"`         // typing 标记过期时间
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`       // 未认证连接的关闭超时
	SendBuffer        int           `mapstructure:"send_buffer"`        // 每连接发送队列长度
}

// 服务默认HTTP端口
var defaultPorts = map[string]string{
	"connect-service":      "21001",
	"presence-service":     "21002",
	"notification-service": "21003",
}

// LoadConfig 加载配置：环境变量优先，其余取默认值
func LoadConfig(serviceName string) *Config {
	port, ok := defaultPorts[serviceName]
	if !ok {
		panic(fmt.Sprintf("未知的服务名称: %s", serviceName))
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.name", serviceName)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.jwt_secret", "dinguscord")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.http.addr", ":"+port)
	v.SetDefault("server.http.timeout", "30s")

	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.db_name", "dinguscord")
	v.SetDefault("database.postgresql.dsn",
		"host=localhost user=postgres password=postgres dbname=dinguscord port=5432 sslmode=disable")
	v.SetDefault("database.postgresql.db_name", "dinguscord")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", serviceName+"-group")

	v.SetDefault("realtime.presence_window", 120*time.Second)
	v.SetDefault("realtime.heartbeat_interval", 60*time.Second)
	v.SetDefault("realtime.message_cache_cap", 100)
	v.SetDefault("realtime.recent_limit", 50)
	v.SetDefault("realtime.typing_ttl", 5*time.Second)
	v.SetDefault("realtime.auth_timeout", 30*time.Second)
	v.SetDefault("realtime.send_buffer", 64)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("解析配置失败: %v", err))
	}

	// HTTP_PORT 单独兼容旧部署脚本
	if p := v.GetString("http_port"); p != "" {
		cfg.Server.HTTP.Addr = ":" + p
	}

	return &cfg
}
