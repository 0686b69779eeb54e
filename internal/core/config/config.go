package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultCMRURL = "https://cmr.earthdata.nasa.gov/search/granules.umm_json_v1_4"

type SearchCfg struct {
	URL       string
	PageSize  int
	MaxPages  int
	CacheSize int
	CacheTTL  time.Duration
	RedisAddr string
}

type HTTPCfg struct {
	Timeout        time.Duration
	RetryMax       int
	RetryMaxElapse time.Duration
}

type PublishCfg struct {
	Bucket string
}

type EventsCfg struct {
	Brokers string
	Topic   string
}

type Config struct {
	LogLevel       string
	LogConsole     bool
	Search         SearchCfg
	HTTP           HTTPCfg
	EarthdataToken string
	TileSelection  string
	GDALBinDir     string
	Publish        PublishCfg
	Events         EventsCfg
	CatalogPath    string
	MetricsAddr    string
}

func FromEnv() Config {
	pageSize := getint("CMR_PAGE_SIZE", 150)
	if pageSize <= 0 {
		pageSize = 150
	}
	maxPages := getint("CMR_MAX_PAGES", 50)
	if maxPages <= 0 {
		maxPages = 50
	}
	retryMax := getint("HTTP_RETRY_MAX", 3)
	if retryMax < 0 {
		retryMax = 0
	}

	selection := strings.ToLower(getenv("TILE_SELECTION", "positional"))
	if selection != "nearest" {
		selection = "positional"
	}

	return Config{
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		Search: SearchCfg{
			URL:       getenv("CMR_URL", DefaultCMRURL),
			PageSize:  pageSize,
			MaxPages:  maxPages,
			CacheSize: getint("SEARCH_CACHE_SIZE", 256),
			CacheTTL:  getduration("SEARCH_CACHE_TTL", 24*time.Hour),
			RedisAddr: getenv("REDIS_ADDR", ""),
		},
		HTTP: HTTPCfg{
			Timeout:        getduration("HTTP_TIMEOUT", 30*time.Second),
			RetryMax:       retryMax,
			RetryMaxElapse: getduration("HTTP_RETRY_MAX_ELAPSED", 2*time.Minute),
		},
		EarthdataToken: getenv("EARTHDATA_TOKEN", ""),
		TileSelection:  selection,
		GDALBinDir:     getenv("GDAL_BIN_DIR", ""),
		Publish: PublishCfg{
			Bucket: getenv("PUBLISH_BUCKET", ""),
		},
		Events: EventsCfg{
			Brokers: getenv("KAFKA_BROKERS", ""),
			Topic:   getenv("KAFKA_TOPIC", "lake-extract-events"),
		},
		CatalogPath: getenv("CATALOG_PATH", ""),
		MetricsAddr: getenv("METRICS_ADDR", ""),
	}
}

// BrokerList splits the comma separated broker list, dropping blanks.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for p := range strings.SplitSeq(e.Brokers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
