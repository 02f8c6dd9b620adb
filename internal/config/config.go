// 包 config：进程配置（环境变量 / .env）与部件属性（宿主下发的可变配置）
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// 文档注释：进程级配置
// 背景：由主入口一次性读取；部件实例从 Props 拷贝初始属性，之后由宿主的变更合并覆盖。
type Settings struct {
	Addr         string
	APIBase      string
	Props        Props
	FetchTimeout time.Duration
	LoadTimeout  time.Duration
	EditTimeout  time.Duration
	FeedCacheTTL time.Duration
	RateLimitQPS int
}

// LoadEnvFiles：按顺序加载 .env 文件，已存在的环境变量不被覆盖；缺失文件静默跳过
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env", filepath.Join("data", "env", ".env")}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// FromEnv：读取环境变量构建 Settings，未配置项使用默认值
func FromEnv() Settings {
	s := Settings{
		Addr:         envOr("ADDR", ":8080"),
		APIBase:      envOr("API_BASE", "/api"),
		FetchTimeout: envMillis("FETCH_TIMEOUT_MS", 8*time.Second),
		LoadTimeout:  envMillis("LOAD_TIMEOUT_MS", 15*time.Second),
		EditTimeout:  envMillis("EDIT_TIMEOUT_MS", 5*time.Second),
		FeedCacheTTL: time.Duration(envInt("FEED_CACHE_TTL_S", 60)) * time.Second,
		RateLimitQPS: envInt("RATE_LIMIT_QPS", 0),
	}
	p := DefaultProps()
	p.JoinKeyProperty = os.Getenv("JOIN_KEY_PROPERTY")
	if v := os.Getenv("MEASURE_PROPERTY"); v != "" {
		p.MeasureProperty = v
	}
	p.LayerURL = envOr("LAYER_URL", DefaultLayerURL)
	p.FeedURL = envOr("FEED_URL", DefaultFeedURL)
	s.Props = p
	return s
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// 约束：解析失败或非正数时回退默认值
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func envMillis(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
