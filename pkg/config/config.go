package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (선택: URL이 비어 있으면 저장 비활성화)
	Database DatabaseConfig

	// Redis (선택: 분해 결과 캐시)
	Redis RedisConfig

	// Risk / Solver
	Risk   RiskConfig
	Solver SolverConfig

	// API
	API APIConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
	TTL      time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether persistence is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// RiskConfig 리스크 계산 설정
type RiskConfig struct {
	Tolerance            float64 // 대칭/PSD/음수분산 허용오차 (기본 1e-8)
	RidgeEpsilon         float64 // 수치 실패 재시도 시 F + εI 의 ε
	ConcentrationMeasure string  // herfindahl, effective_n, gini, entropy
	Workers              int     // tearsheet 병렬 평가 수
}

// SolverConfig QP 솔버 설정
type SolverConfig struct {
	MaxIterations int
	EpsAbs        float64
	EpsRel        float64
	Timeout       time.Duration
}

// APIConfig HTTP API 설정
type APIConfig struct {
	RateLimit float64 // 초당 요청 수
	RateBurst int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			TTL:      getEnvAsDuration("REDIS_TTL", "10m"),
		},

		Risk: RiskConfig{
			Tolerance:            getEnvAsFloat("RISK_TOLERANCE", 1e-8),
			RidgeEpsilon:         getEnvAsFloat("RISK_RIDGE_EPSILON", 1e-6),
			ConcentrationMeasure: getEnv("RISK_CONCENTRATION_MEASURE", "herfindahl"),
			Workers:              getEnvAsInt("RISK_WORKERS", 4),
		},

		Solver: SolverConfig{
			MaxIterations: getEnvAsInt("SOLVER_MAX_ITER", 20000),
			EpsAbs:        getEnvAsFloat("SOLVER_EPS_ABS", 1e-9),
			EpsRel:        getEnvAsFloat("SOLVER_EPS_REL", 1e-9),
			Timeout:       getEnvAsDuration("SOLVER_TIMEOUT", "30s"),
		},

		API: APIConfig{
			RateLimit: getEnvAsFloat("API_RATE_LIMIT", 20),
			RateBurst: getEnvAsInt("API_RATE_BURST", 40),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks configuration values
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Risk.Tolerance <= 0 {
		return fmt.Errorf("RISK_TOLERANCE must be > 0")
	}
	if c.Risk.RidgeEpsilon <= 0 {
		return fmt.Errorf("RISK_RIDGE_EPSILON must be > 0")
	}
	if c.Risk.Workers <= 0 {
		return fmt.Errorf("RISK_WORKERS must be > 0")
	}

	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("SOLVER_MAX_ITER must be > 0")
	}
	if c.Solver.EpsAbs <= 0 || c.Solver.EpsRel < 0 {
		return fmt.Errorf("SOLVER_EPS_ABS must be > 0 and SOLVER_EPS_REL >= 0")
	}

	if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_RATE_BURST must be > 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
