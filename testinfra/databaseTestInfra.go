package testinfra

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"guildkeep/persistence"

	"github.com/google/uuid"
)

type TestDatabase struct {
	TestDatabaseName string
	DS               *persistence.DataSourceManager
}

// StartTestDatabase opens an isolated database. It uses a temporary sqlite
// file unless TEST_MYSQL_SERVICE is set, e.g. root:root@(127.0.0.1:3306).
func StartTestDatabase(baseName string) *TestDatabase {
	databaseName := baseName + "_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	var dbConfig *persistence.DatabaseConfig
	if mysqlSvc := os.Getenv("TEST_MYSQL_SERVICE"); mysqlSvc != "" {
		dbConfig = &persistence.DatabaseConfig{
			DriverType: persistence.DriverMysql,
			DriverArgs: mysqlSvc + "/" + databaseName + "?charset=utf8mb4&parseTime=True&loc=UTC&timeout=5s",
		}
		// create database (no conflict)
		if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
			log.Fatalf("failed to prepare database %v\n", err)
		}
	} else {
		dbConfig = &persistence.DatabaseConfig{
			DriverType: persistence.DriverSqlite,
			DriverArgs: filepath.Join(os.TempDir(), databaseName+".db"),
		}
	}

	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		defer ds.Stop()
		log.Fatalf("database conneciton failed %v\n", err)
	}

	return &TestDatabase{TestDatabaseName: databaseName, DS: ds}
}

func StopTestDatabase(testDatabase *TestDatabase) {
	if testDatabase == nil || testDatabase.DS == nil {
		return
	}
	testDatabase.DS.Stop()

	cfg := testDatabase.DS.DatabaseConfig
	switch cfg.DriverType {
	case persistence.DriverMysql:
		if err := persistence.DropMysqlDatabase(cfg.DriverArgs); err != nil {
			log.Println("failed to drop test database: " + testDatabase.TestDatabaseName)
		} else {
			log.Println("test database " + testDatabase.TestDatabaseName + " dropped")
		}
	case persistence.DriverSqlite:
		if err := os.Remove(cfg.DriverArgs); err != nil && !os.IsNotExist(err) {
			log.Println("failed to remove test database: " + cfg.DriverArgs)
		}
	}
}
