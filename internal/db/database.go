package db

import (
	"fmt"
	"time"

	"vm-provisioner/internal/config"
	"vm-provisioner/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 은 설정에 맞는 드라이버로 데이터베이스에 연결하고 스키마를 마이그레이션합니다.
// 운영 환경은 PostgreSQL, 로컬 개발/테스트는 sqlite 를 사용합니다.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB_Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Seoul",
			cfg.DB_Host,
			cfg.DB_User,
			cfg.DB_Password,
			cfg.DB_Name,
			cfg.DB_Port,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.DB_Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DB_Driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database (DB 연결 실패): %v", err)
	}

	// Connection Pool(커넥션 풀) 설정
	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %v", err)
	}
	if cfg.DB_Driver == "sqlite" {
		// sqlite 는 동시 쓰기를 지원하지 않으므로 커넥션 하나만 사용
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	logrus.WithField("driver", cfg.DB_Driver).Info("Successfully connected to database")

	if err := Migrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

// OpenInMemory opens a throwaway sqlite database, used by tests and `provision` dry runs.
func OpenInMemory() (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(database); err != nil {
		return nil, err
	}
	return database, nil
}

// Migrate 는 모델(struct)을 기반으로 테이블을 생성하거나 스키마를 업데이트합니다.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.User{},
		&models.VMRequest{},
	); err != nil {
		return fmt.Errorf("failed to migrate database schema: %v", err)
	}
	return nil
}

// Ping checks that the database connection is alive.
func Ping(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
