package integrity

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crm-datakeeper/internal/config"
	"crm-datakeeper/internal/crm"
	"crm-datakeeper/internal/logging"
	"crm-datakeeper/internal/store"
)

func testLogger() *logging.Logger {
	logger, _ := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelQuiet,
		Output: io.Discard,
	})
	return logger
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return db
}

func seedTenant(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	require.NoError(t, db.Create(&crm.Tenant{ID: id, Name: "Tenant " + id}).Error)
}

func uintPtr(v uint) *uint { return &v }

func TestRunRejectsInvalidInput(t *testing.T) {
	checker := NewChecker(newTestDB(t), testLogger())

	_, err := checker.Run(context.Background(), "", store.CheckTypeOrphanedRecords, "", store.CheckParameters{})
	require.Error(t, err)

	_, err = checker.Run(context.Background(), "t1", store.CheckType("BOGUS"), "", store.CheckParameters{})
	require.Error(t, err)
}

func TestOrphanScanFindsAndCountsDanglingReferences(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	company := crm.Company{TenantID: "t1", Name: "Acme"}
	require.NoError(t, db.Create(&company).Error)

	// Three contacts pointing at a company that does not exist, one healthy.
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&crm.Contact{
			TenantID: "t1", FirstName: "Orphan", CompanyID: uintPtr(99999),
		}).Error)
	}
	require.NoError(t, db.Create(&crm.Contact{
		TenantID: "t1", FirstName: "Healthy", CompanyID: &company.ID,
	}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeOrphanedRecords, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, store.CheckStatusCompleted, check.Status)
	assert.Equal(t, 3, check.IssuesFound)
	assert.Equal(t, 0, check.IssuesFixed)
	require.NotNil(t, check.CompletedAt)

	// The invocation record is persisted.
	var persisted store.DataIntegrityCheck
	require.NoError(t, db.First(&persisted, "id = ?", check.ID).Error)
	assert.Equal(t, 3, persisted.IssuesFound)
}

func TestOrphanScanAutoFixNullify(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&crm.Contact{
			TenantID: "t1", FirstName: "Orphan", CompanyID: uintPtr(99999),
		}).Error)
	}

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeOrphanedRecords, "contacts",
		store.CheckParameters{AutoFix: true, FixMethod: "nullify"})
	require.NoError(t, err)
	assert.Equal(t, 3, check.IssuesFound)
	assert.Equal(t, 3, check.IssuesFixed)

	var withCompany int64
	require.NoError(t, db.Model(&crm.Contact{}).
		Where("tenant_id = ? AND company_id IS NOT NULL", "t1").Count(&withCompany).Error)
	assert.Zero(t, withCompany, "all dangling references are nulled out")
}

func TestOrphanScanAutoFixDelete(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Contact{
		TenantID: "t1", FirstName: "Orphan", CompanyID: uintPtr(99999),
	}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeOrphanedRecords, "contacts",
		store.CheckParameters{AutoFix: true, FixMethod: "delete"})
	require.NoError(t, err)
	assert.Equal(t, 1, check.IssuesFixed)

	var live int64
	require.NoError(t, db.Model(&crm.Contact{}).Where("tenant_id = ?", "t1").Count(&live).Error)
	assert.Zero(t, live, "orphaned rows are soft-deleted")
}

func TestOrphanScanIsTenantScoped(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	seedTenant(t, db, "t2")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Contact{
		TenantID: "t2", FirstName: "OtherTenant", CompanyID: uintPtr(99999),
	}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeOrphanedRecords, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Zero(t, check.IssuesFound)
}

func TestDuplicateDetectionNormalizesCaseAndWhitespace(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Tag{TenantID: "t1", Name: "Sales"}).Error)
	require.NoError(t, db.Create(&crm.Tag{TenantID: "t1", Name: "sales"}).Error)
	require.NoError(t, db.Create(&crm.Tag{TenantID: "t1", Name: "  Sales  "}).Error)
	require.NoError(t, db.Create(&crm.Tag{TenantID: "t1", Name: "Marketing"}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeDuplicateDetection, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 2, check.IssuesFound, "a group of size 3 counts as two duplicates")

	require.NotNil(t, check.Results)
	require.NotEmpty(t, check.Results.Issues)
	assert.Equal(t, "tags", check.Results.Issues[0].Table)
}

func TestDataValidationFlagsMalformedValues(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Contact{
		TenantID: "t1", FirstName: "Ok", Email: "ok@example.com", Phone: "+1 555 123 4567",
	}).Error)
	require.NoError(t, db.Create(&crm.Contact{
		TenantID: "t1", FirstName: "Bad", Email: "not-an-email", Phone: "call me",
	}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeDataValidation, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 2, check.IssuesFound, "one bad email plus one bad phone")
	assert.Zero(t, check.IssuesFixed, "validation never auto-fixes")
}

func TestForeignKeyScanFindsBrokenUserReference(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Company{
		TenantID: "t1", Name: "Acme", OwnerID: uintPtr(424242),
	}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeForeignKeys, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 1, check.IssuesFound)

	require.NotEmpty(t, check.Results.Issues)
	assert.Equal(t, "user_references", check.Results.Issues[0].Type)
}

func TestRequiredFieldsScan(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Company{TenantID: "t1", Name: ""}).Error)
	require.NoError(t, db.Create(&crm.Company{TenantID: "t1", Name: "Named"}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeRequiredFields, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 1, check.IssuesFound)
}

func TestConsistencyScan(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	require.NoError(t, db.Create(&crm.Deal{TenantID: "t1", Title: "Good", Amount: 1000}).Error)
	require.NoError(t, db.Create(&crm.Deal{TenantID: "t1", Title: "Zero", Amount: 0}).Error)
	require.NoError(t, db.Create(&crm.Deal{TenantID: "t1", Title: "Negative", Amount: -50}).Error)

	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&crm.Company{TenantID: "t1", Name: "Tomorrow", CreatedAt: future}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeDataConsistency, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 3, check.IssuesFound, "two non-positive amounts plus one future timestamp")
}

func TestMissingRelationshipsScan(t *testing.T) {
	db := newTestDB(t)
	seedTenant(t, db, "t1")
	checker := NewChecker(db, testLogger())

	// A company with no contacts and no deals.
	require.NoError(t, db.Create(&crm.Company{TenantID: "t1", Name: "Lonely"}).Error)

	check, err := checker.Run(context.Background(), "t1", store.CheckTypeMissingRelationships, "", store.CheckParameters{})
	require.NoError(t, err)
	assert.Equal(t, 2, check.IssuesFound, "flagged once for contacts, once for deals")
}
