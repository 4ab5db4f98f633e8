// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// errNoSuchTable is the MySQL server error ER_NO_SUCH_TABLE.
const errNoSuchTable = 1146

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	}, IsTableNotExistError)
}

// ConnectionString builds the go-sql-driver DSN for c.
// parseTime is always enabled so DATETIME columns scan into time.Time.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.MultiStatements = true
	return dsn.FormatDSN()
}

// IsTableNotExistError reports whether err is ER_NO_SUCH_TABLE.
func IsTableNotExistError(err error) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errNoSuchTable
}

// NewProvider creates a new MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "mysql")
}
