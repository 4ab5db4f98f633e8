package gorm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

// TableNotExistClassifier reports whether err means "table does not exist" for one database type.
type TableNotExistClassifier func(err error) bool

// PoolTuner adjusts pool settings after the connection is opened (e.g., SQLite in-memory needs one connection).
type PoolTuner func(cfg dbconfig.DatabaseConfig, pool *dbconfig.PoolConfig)

type dialect struct {
	factory    DialectorFactory
	classifier TableNotExistClassifier
	tuner      PoolTuner
}

var (
	dialectRegistry = make(map[string]dialect)
	dialectMutex    sync.RWMutex
)

// RegisterDialector registers the dialector factory and error classifier of a database type.
//
// Parameters:
//
//	dbType: The database type as written in configuration (e.g., "postgres").
//	factory: Builds the gorm.Dialector for a connection.
//	classifier: Recognises the driver's "table does not exist" error. May be nil.
func RegisterDialector(dbType string, factory DialectorFactory, classifier TableNotExistClassifier) {
	RegisterDialect(dbType, factory, classifier, nil)
}

// RegisterDialect is RegisterDialector with an additional pool tuner.
func RegisterDialect(dbType string, factory DialectorFactory, classifier TableNotExistClassifier, tuner PoolTuner) {
	dialectMutex.Lock()
	defer dialectMutex.Unlock()
	if _, exists := dialectRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectRegistry[dbType] = dialect{factory: factory, classifier: classifier, tuner: tuner}
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	d, ok := dialectRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return d.factory, nil
}

// GetTableNotExistClassifier returns the classifier registered for dbType.
// Unknown types, or types registered without one, get a message based fallback.
func GetTableNotExistClassifier(dbType string) TableNotExistClassifier {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	if d, ok := dialectRegistry[dbType]; ok && d.classifier != nil {
		return d.classifier
	}
	return isTableNotExistMessage
}

func getPoolTuner(dbType string) PoolTuner {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	return dialectRegistry[dbType].tuner
}

// isTableNotExistMessage matches the common "table not found" messages of the supported databases.
func isTableNotExistMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) ||
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) ||
		strings.Contains(msg, "no such table")
}

// BaseProvider provides common functionality for DBProvider implementations.
type BaseProvider struct {
	cfg    *config.Config
	dbType string
	// Connections managed by this provider (name -> DBConnection).
	connections map[string]database.DBConnection
	mu          sync.RWMutex
}

// NewBaseProvider creates a new BaseProvider.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		dbType:      dbType,
		connections: make(map[string]database.DBConnection),
	}
}

// Type returns the database type.
func (p *BaseProvider) Type() string {
	return p.dbType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *BaseProvider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check (DCL)
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// createAndStoreConnection establishes a new connection and stores it in the map.
func (p *BaseProvider) createAndStoreConnection(name string) (database.DBConnection, error) {
	var dbConfig dbconfig.DatabaseConfig
	if err := config.DecodeSection(p.cfg.ChunkBatch.DatabaseConfigs, name, &dbConfig); err != nil {
		return nil, fmt.Errorf("database %w", err)
	}
	if dbConfig.Type != p.dbType {
		return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", p.dbType, dbConfig.Type, name)
	}

	gormDB, err := p.connect(dbConfig)
	if err != nil {
		return nil, err
	}

	conn, err := NewGormDBAdapter(gormDB, dbConfig, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// ForceReconnect closes the connection if it exists and opens it again.
func (p *BaseProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close existing connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}

	conn, err := p.createAndStoreConnection(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s (%s)", name, p.dbType)
	return conn, nil
}

// connect opens a GORM connection and applies the pool settings.
func (p *BaseProvider) connect(dbConfig dbconfig.DatabaseConfig) (*gorm.DB, error) {
	return Open(dbConfig, gormLogLevel(p.cfg))
}

// Open opens a GORM connection for dbConfig with the registered dialector.
// It is used by BaseProvider and by tests that need a connection without fx.
func Open(dbConfig dbconfig.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialector factory for %s: %w", dbConfig.Type, err)
	}
	dialector, err := dialectorFactory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool := dbConfig.Pool
	if tuner := getPoolTuner(dbConfig.Type); tuner != nil {
		tuner(dbConfig, &pool)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	if pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// gormLogLevel keeps SQL tracing off unless the framework logs at DEBUG.
func gormLogLevel(cfg *config.Config) string {
	if cfg != nil && strings.EqualFold(cfg.ChunkBatch.System.Logging.Level, "DEBUG") {
		return "INFO"
	}
	return "SILENT"
}

// CloseAll closes all connections managed by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

var _ database.DBProvider = (*BaseProvider)(nil)
