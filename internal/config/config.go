package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 구조체는 애플리케이션 설정을 저장합니다.
// 프로세스 시작 시 한 번 만들어지고 실행 중에는 바뀌지 않습니다.
type Config struct {
	Port     string // 서버가 실행될 포트
	GinMode  string // Gin 모드 (debug/release)
	HostName string // 호스트 이름

	DB_Driver   string // postgres 또는 sqlite
	DB_Name     string // 데이터베이스 이름
	DB_User     string // 데이터베이스 사용자
	DB_Password string // 데이터베이스 비밀번호
	DB_Host     string // 데이터베이스 호스트
	DB_Port     string // 데이터베이스 포트
	DB_Path     string // sqlite 파일 경로

	JWTSecret string // JWT 서명 키
	HookToken string // /api/addip 훅 인증 토큰 (비어 있으면 검사하지 않음)

	// 최초 실행 시 생성할 관리자 계정 (비어 있으면 생성하지 않음)
	AdminUsername string
	AdminPassword string

	LogLevel  string
	LogFormat string // text 또는 json

	Proxmox   ProxmoxConfig
	Provision ProvisionConfig

	Tiers TierTable
}

// ProxmoxConfig holds the hypervisor connection settings.
type ProxmoxConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	TokenID     string // user@realm!tokenname
	TokenSecret string
	VerifySSL   bool
	Timeout     time.Duration // per-request HTTP timeout
	TaskTimeout time.Duration // how long to wait for clone/create tasks
	Node        string
	Bridge      string
	Storage     string
	DisableKVM  bool
}

// ProvisionConfig controls the background provisioning workers.
type ProvisionConfig struct {
	Workers            int
	QueueSize          int
	RequireTaskSuccess bool
	DiscoveryAttempts  int
	DiscoveryWait      time.Duration
}

// Load 함수는 환경 변수에서 설정을 읽어 Config 구조체를 반환합니다.
func Load() (*Config, error) {
	// .env 파일 로드 (로컬 개발 환경용)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (로컬 .env 파일 없음 - 환경 변수 사용)")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "release"),
		HostName: getEnv("HOST_NAME", "localhost"),

		DB_Driver:   getEnv("DB_DRIVER", "postgres"),
		DB_Name:     getEnv("DB_NAME", "postgres"),
		DB_User:     getEnv("DB_USER", "postgres"),
		DB_Password: getEnv("DB_PASSWORD", "postgres"),
		DB_Host:     getEnv("DB_HOST", "localhost"),
		DB_Port:     getEnv("DB_PORT", "5432"),
		DB_Path:     getEnv("DB_PATH", "vm-requests.db"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		HookToken: getEnv("HOOK_TOKEN", ""),

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	var err error
	p := &cfg.Proxmox
	p.Host = getEnv("PROXMOX_HOST", "192.168.56.16")
	p.User = getEnv("PROXMOX_USER", os.Getenv("PXUSER"))
	p.Password = getEnv("PROXMOX_PASSWORD", os.Getenv("PXPASS"))
	p.TokenID = os.Getenv("PROXMOX_TOKEN_ID")
	p.TokenSecret = os.Getenv("PROXMOX_TOKEN_SECRET")
	p.Node = getEnv("PROXMOX_NODE", "px2")
	p.Bridge = getEnv("PROXMOX_BRIDGE", "vmbr0")
	p.Storage = getEnv("PROXMOX_STORAGE", "local-lvm")
	if p.Port, err = getEnvInt("PROXMOX_PORT", 8006); err != nil {
		return nil, err
	}
	if p.VerifySSL, err = getEnvBool("PROXMOX_VERIFY_SSL", false); err != nil {
		return nil, err
	}
	if p.DisableKVM, err = getEnvBool("PROXMOX_DISABLE_KVM", true); err != nil {
		return nil, err
	}
	if p.Timeout, err = getEnvSeconds("PROXMOX_TIMEOUT", 30); err != nil {
		return nil, err
	}
	if p.TaskTimeout, err = getEnvSeconds("PROXMOX_TASK_TIMEOUT", 300); err != nil {
		return nil, err
	}

	pv := &cfg.Provision
	if pv.Workers, err = getEnvInt("PROVISION_WORKERS", 4); err != nil {
		return nil, err
	}
	if pv.QueueSize, err = getEnvInt("PROVISION_QUEUE", 64); err != nil {
		return nil, err
	}
	if pv.RequireTaskSuccess, err = getEnvBool("REQUIRE_TASK_SUCCESS", false); err != nil {
		return nil, err
	}
	if pv.DiscoveryAttempts, err = getEnvInt("DISCOVERY_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if pv.DiscoveryWait, err = getEnvSeconds("DISCOVERY_WAIT", 5); err != nil {
		return nil, err
	}

	cfg.Tiers = DefaultTiers()
	if path := os.Getenv("TIERS_FILE"); path != "" {
		if cfg.Tiers, err = LoadTiersFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DB_Driver != "postgres" && c.DB_Driver != "sqlite" {
		return fmt.Errorf("invalid DB_DRIVER %q (postgres 또는 sqlite)", c.DB_Driver)
	}
	if c.Proxmox.Node == "" {
		return fmt.Errorf("PROXMOX_NODE must not be empty")
	}
	if c.Proxmox.TaskTimeout <= 0 {
		return fmt.Errorf("PROXMOX_TASK_TIMEOUT must be positive")
	}
	if c.Provision.Workers < 1 {
		return fmt.Errorf("PROVISION_WORKERS must be at least 1")
	}
	if c.Provision.QueueSize < 1 {
		return fmt.Errorf("PROVISION_QUEUE must be at least 1")
	}
	return c.Tiers.Validate()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %v", key, err)
	}
	return b, nil
}

func getEnvSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
