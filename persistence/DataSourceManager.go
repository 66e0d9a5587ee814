package persistence

import (
	"errors"
	"os"

	"guildkeep/common"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	otgorm "github.com/smacker/opentracing-gorm"
)

const (
	DriverMysql  = "mysql"
	DriverSqlite = "sqlite3"
)

type DatabaseConfig struct {
	DriverType string
	DriverArgs string
}

type DataSourceManager struct {
	gormDB *gorm.DB

	DatabaseConfig *DatabaseConfig
}

func (m *DataSourceManager) Start() error {
	if m.DatabaseConfig == nil {
		return errors.New("database config is required")
	}
	db, err := connect(m.DatabaseConfig)
	if err != nil {
		return err
	}
	m.gormDB = db
	if os.Getenv("GIN_MODE") != "release" {
		m.gormDB.LogMode(true)
	}
	otgorm.AddGormCallbacks(m.gormDB)
	return nil
}

func (m *DataSourceManager) Stop() {
	if m.gormDB != nil {
		if err := m.gormDB.Close(); err != nil {
			common.Log.Errorf("failed to close DB: %v", err)
		}
		m.gormDB = nil
	}
}

func (m *DataSourceManager) GormDB() *gorm.DB {
	if m.gormDB != nil {
		return m.gormDB.New()
	}
	return nil
}

func connect(config *DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(config.DriverType, config.DriverArgs)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	if config.DriverType == DriverSqlite {
		db.DB().SetMaxOpenConns(1)
	}
	err = db.DB().Ping()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
