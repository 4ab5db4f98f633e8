package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

// CreditRecord is a minimal record used by reader, writer and engine tests.
type CreditRecord struct {
	ID     int64   `gorm:"column:id;primaryKey;autoIncrement:false" parquet:"name=id, type=INT64"`
	Name   string  `gorm:"column:name" parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Credit float64 `gorm:"column:credit" parquet:"name=credit, type=DOUBLE"`
}

// TableName implements gorm's Tabler.
func (CreditRecord) TableName() string {
	return "test_credit"
}

// CreditRecordID returns the identifier of r.
func CreditRecordID(r CreditRecord) int64 {
	return r.ID
}

// NewCreditRecords builds records with ids 1..n holding credits in the given order.
func NewCreditRecords(credits ...float64) []CreditRecord {
	records := make([]CreditRecord, len(credits))
	for i, c := range credits {
		records[i] = CreditRecord{ID: int64(i + 1), Name: "customer", Credit: c}
	}
	return records
}

// SeedCreditTable creates the test_credit table on conn and inserts records.
func SeedCreditTable(t *testing.T, conn *gormadapter.GormDBAdapter, records []CreditRecord) {
	t.Helper()
	db := conn.GetGormDB()
	require.NoError(t, db.AutoMigrate(&CreditRecord{}))
	if len(records) > 0 {
		require.NoError(t, db.Create(&records).Error)
	}
}

// LoadCreditTable returns every row of test_credit ordered by id.
func LoadCreditTable(t *testing.T, conn *gormadapter.GormDBAdapter) []CreditRecord {
	t.Helper()
	var rows []CreditRecord
	require.NoError(t, conn.GetGormDB().Order("id").Find(&rows).Error)
	return rows
}
