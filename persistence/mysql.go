package persistence

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// PrepareMysqlDatabase creates the database named in driverArgs when it does
// not exist yet.
func PrepareMysqlDatabase(driverArgs string) error {
	cfg, err := mysql.ParseDSN(driverArgs)
	if err != nil {
		return err
	}
	dbName := cfg.DBName
	if dbName == "" {
		return errors.New("database name is missing in driver args")
	}
	cfg.DBName = ""

	db, err := sql.Open(DriverMysql, cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + dbName + "` DEFAULT CHARACTER SET utf8mb4")
	return err
}

// DropMysqlDatabase removes the database named in driverArgs.
func DropMysqlDatabase(driverArgs string) error {
	cfg, err := mysql.ParseDSN(driverArgs)
	if err != nil {
		return err
	}
	dbName := cfg.DBName
	cfg.DBName = ""

	db, err := sql.Open(DriverMysql, cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("DROP DATABASE IF EXISTS `" + dbName + "`")
	return err
}
