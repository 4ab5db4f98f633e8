package entity

// CustomerCredit is a customer and the credit granted to them.
// The same struct maps the customer_credit table and the exported parquet file.
type CustomerCredit struct {
	ID     int64   `gorm:"column:id;primaryKey;autoIncrement:false" parquet:"name=id, type=INT64"`
	Name   string  `gorm:"column:name" parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Credit float64 `gorm:"column:credit" parquet:"name=credit, type=DOUBLE"`
}

// TableName specifies the table name for CustomerCredit.
func (CustomerCredit) TableName() string {
	return "customer_credit"
}

// CustomerCreditID returns the identifier of c. It keys upserts and in-memory writers.
func CustomerCreditID(c CustomerCredit) int64 {
	return c.ID
}

// ByID orders customers by identifier, the paging order of the job.
func ByID(a, b CustomerCredit) bool {
	return a.ID < b.ID
}

// DemoCustomers returns the rows loaded by the --seed flag.
func DemoCustomers() []CustomerCredit {
	return []CustomerCredit{
		{ID: 1, Name: "customer1", Credit: 50},
		{ID: 2, Name: "customer2", Credit: 150},
		{ID: 3, Name: "customer3", Credit: 200},
		{ID: 4, Name: "customer4", Credit: 80},
		{ID: 5, Name: "customer5", Credit: 300},
	}
}
