package integrity

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"crm-datakeeper/internal/store"
)

// noSoftDelete lists tables without a deleted_at column.
var noSoftDelete = map[string]bool{
	"tenants":      true,
	"tags":         true,
	"company_tags": true,
}

// alive returns the soft-delete exclusion clause for a table alias, or "".
func alive(table, alias string) string {
	if noSoftDelete[table] {
		return ""
	}
	return fmt.Sprintf(" AND %s.deleted_at IS NULL", alias)
}

// orphanRule declares one child-table foreign key and the table it must
// reference. The orphan scan covers the entity tree; user and tenant
// references are covered by the foreign-key scan.
type orphanRule struct {
	Table      string
	ForeignKey string
	RefTable   string
}

var orphanRules = []orphanRule{
	{"contacts", "company_id", "companies"},
	{"deals", "company_id", "companies"},
	{"deals", "contact_id", "contacts"},
	{"tasks", "company_id", "companies"},
	{"tasks", "contact_id", "contacts"},
	{"notes", "company_id", "companies"},
	{"notes", "contact_id", "contacts"},
}

// scanOrphans left-joins each child table against its reference and counts
// rows whose foreign key points at a row that no longer exists. With auto-fix
// enabled the offending rows are deleted or their foreign key nulled out,
// per fixMethod.
func (c *Checker) scanOrphans(ctx context.Context, tenantID, targetModel string, params store.CheckParameters) *store.CheckResults {
	results := &store.CheckResults{}

	for _, rule := range orphanRules {
		if targetModel != "" && rule.Table != targetModel {
			continue
		}
		name := fmt.Sprintf("%s.%s", rule.Table, rule.ForeignKey)

		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.id%s
			 WHERE c.tenant_id = ?%s AND c.%s IS NOT NULL AND p.id IS NULL`,
			rule.Table, rule.RefTable, rule.ForeignKey, alive(rule.RefTable, "p"),
			alive(rule.Table, "c"), rule.ForeignKey)

		count, err := c.countRaw(ctx, query, tenantID)
		if err != nil {
			appendCheckError(results, name, err)
			continue
		}
		if count == 0 {
			continue
		}

		results.IssuesFound += int(count)
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "orphaned_records",
			Table:       rule.Table,
			Field:       rule.ForeignKey,
			Count:       int(count),
			Description: fmt.Sprintf("%d rows in %s reference a missing %s via %s", count, rule.Table, rule.RefTable, rule.ForeignKey),
		})

		if params.AutoFix {
			fixed, err := c.fixOrphans(ctx, tenantID, rule, params.FixMethod)
			if err != nil {
				appendCheckError(results, name+" fix", err)
				continue
			}
			results.IssuesFixed += int(fixed)
		}
	}

	return results
}

func (c *Checker) fixOrphans(ctx context.Context, tenantID string, rule orphanRule, fixMethod string) (int64, error) {
	where := fmt.Sprintf(
		`tenant_id = ? AND deleted_at IS NULL AND %s IS NOT NULL
		 AND %s NOT IN (SELECT id FROM %s WHERE deleted_at IS NULL)`,
		rule.ForeignKey, rule.ForeignKey, rule.RefTable)

	var tx *gorm.DB
	switch fixMethod {
	case "delete":
		// Soft delete keeps the fix reversible and consistent with the
		// scans' own exclusion of deleted rows.
		tx = c.db.WithContext(ctx).Exec(
			fmt.Sprintf("UPDATE %s SET deleted_at = ? WHERE %s", rule.Table, where),
			c.now(), tenantID)
	case "nullify", "":
		tx = c.db.WithContext(ctx).Exec(
			fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s", rule.Table, rule.ForeignKey, where),
			tenantID)
	default:
		return 0, fmt.Errorf("unknown fix method %q", fixMethod)
	}

	return tx.RowsAffected, tx.Error
}

// scanMissingRelationships runs fixed structural queries for entities that
// lack an expected relation. Reported only, never fixed.
func (c *Checker) scanMissingRelationships(ctx context.Context, tenantID string) *store.CheckResults {
	checks := []struct {
		Name        string
		Table       string
		Query       string
		Description string
	}{
		{
			Name:  "companies_without_contacts",
			Table: "companies",
			Query: `SELECT COUNT(*) FROM companies c WHERE c.tenant_id = ? AND c.deleted_at IS NULL
			        AND NOT EXISTS (SELECT 1 FROM contacts ct WHERE ct.company_id = c.id AND ct.deleted_at IS NULL)`,
			Description: "companies with no contacts",
		},
		{
			Name:  "companies_without_deals",
			Table: "companies",
			Query: `SELECT COUNT(*) FROM companies c WHERE c.tenant_id = ? AND c.deleted_at IS NULL
			        AND NOT EXISTS (SELECT 1 FROM deals d WHERE d.company_id = c.id AND d.deleted_at IS NULL)`,
			Description: "companies with no deals",
		},
		{
			Name:        "contacts_without_company",
			Table:       "contacts",
			Query:       `SELECT COUNT(*) FROM contacts WHERE tenant_id = ? AND deleted_at IS NULL AND company_id IS NULL`,
			Description: "contacts not attached to any company",
		},
		{
			Name:        "deals_without_contact",
			Table:       "deals",
			Query:       `SELECT COUNT(*) FROM deals WHERE tenant_id = ? AND deleted_at IS NULL AND contact_id IS NULL`,
			Description: "deals with no contact",
		},
		{
			Name:        "tasks_unassigned",
			Table:       "tasks",
			Query:       `SELECT COUNT(*) FROM tasks WHERE tenant_id = ? AND deleted_at IS NULL AND assigned_to IS NULL`,
			Description: "tasks assigned to nobody",
		},
	}

	results := &store.CheckResults{}
	for _, check := range checks {
		count, err := c.countRaw(ctx, check.Query, tenantID)
		if err != nil {
			appendCheckError(results, check.Name, err)
			continue
		}
		if count == 0 {
			continue
		}
		results.IssuesFound += int(count)
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "missing_relationship",
			Table:       check.Table,
			Count:       int(count),
			Description: fmt.Sprintf("%d %s", count, check.Description),
		})
	}
	return results
}

// duplicateFields are the (table, field) pairs scanned for duplicate values.
var duplicateFields = []struct {
	Table string
	Field string
}{
	{"companies", "name"},
	{"companies", "email"},
	{"contacts", "email"},
	{"leads", "email"},
	{"tags", "name"},
}

// scanDuplicates groups non-empty values ignoring case and surrounding
// whitespace, and flags groups larger than one. The issue count per group is
// the group size minus one.
func (c *Checker) scanDuplicates(ctx context.Context, tenantID string) *store.CheckResults {
	results := &store.CheckResults{}

	for _, pair := range duplicateFields {
		name := fmt.Sprintf("%s.%s", pair.Table, pair.Field)
		query := fmt.Sprintf(
			`SELECT LOWER(TRIM(%s)) AS val, COUNT(*) AS cnt FROM %s
			 WHERE tenant_id = ?%s AND %s IS NOT NULL AND TRIM(%s) != ''
			 GROUP BY LOWER(TRIM(%s)) HAVING COUNT(*) > 1`,
			pair.Field, pair.Table, alive(pair.Table, pair.Table), pair.Field, pair.Field, pair.Field)

		var groups []struct {
			Val string
			Cnt int
		}
		if err := c.db.WithContext(ctx).Raw(query, tenantID).Scan(&groups).Error; err != nil {
			appendCheckError(results, name, err)
			continue
		}
		if len(groups) == 0 {
			continue
		}

		duplicates := 0
		samples := make([]string, 0, 3)
		for _, group := range groups {
			duplicates += group.Cnt - 1
			if len(samples) < 3 {
				samples = append(samples, fmt.Sprintf("%q x%d", group.Val, group.Cnt))
			}
		}

		results.IssuesFound += duplicates
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "duplicate_values",
			Table:       pair.Table,
			Field:       pair.Field,
			Count:       duplicates,
			Description: fmt.Sprintf("%d duplicate values in %s (e.g. %s)", duplicates, name, strings.Join(samples, ", ")),
		})
	}

	return results
}

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()./-]{5,19}$`)
)

// validationFields maps scanned columns to their format pattern. Matching is
// done in Go so the scan behaves identically on every supported engine.
var validationFields = []struct {
	Table   string
	Field   string
	Kind    string
	Pattern *regexp.Regexp
}{
	{"users", "email", "email", emailPattern},
	{"companies", "email", "email", emailPattern},
	{"contacts", "email", "email", emailPattern},
	{"leads", "email", "email", emailPattern},
	{"companies", "phone", "phone", phonePattern},
	{"contacts", "phone", "phone", phonePattern},
	{"leads", "phone", "phone", phonePattern},
}

// scanValidation checks email and phone shaped fields against their format
// patterns. Reported only, never fixed.
func (c *Checker) scanValidation(ctx context.Context, tenantID string) *store.CheckResults {
	results := &store.CheckResults{}

	for _, field := range validationFields {
		name := fmt.Sprintf("%s.%s", field.Table, field.Field)
		query := fmt.Sprintf(
			`SELECT %s AS val FROM %s WHERE tenant_id = ?%s AND %s IS NOT NULL AND %s != ''`,
			field.Field, field.Table, alive(field.Table, field.Table), field.Field, field.Field)

		var values []string
		if err := c.db.WithContext(ctx).Raw(query, tenantID).Scan(&values).Error; err != nil {
			appendCheckError(results, name, err)
			continue
		}

		invalid := 0
		for _, value := range values {
			if !field.Pattern.MatchString(strings.TrimSpace(value)) {
				invalid++
			}
		}
		if invalid == 0 {
			continue
		}

		results.IssuesFound += invalid
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "invalid_format",
			Table:       field.Table,
			Field:       field.Field,
			Count:       invalid,
			Description: fmt.Sprintf("%d rows in %s have a malformed %s", invalid, name, field.Kind),
		})
	}

	return results
}

// fkRule declares one reference checked by the foreign-key scan, grouped by
// concern: user references and tenant references.
type fkRule struct {
	Concern  string
	Table    string
	Column   string
	RefTable string
}

var fkRules = []fkRule{
	{"user_references", "companies", "owner_id", "users"},
	{"user_references", "contacts", "owner_id", "users"},
	{"user_references", "leads", "owner_id", "users"},
	{"user_references", "deals", "owner_id", "users"},
	{"user_references", "tasks", "assigned_to", "users"},
	{"user_references", "notes", "author_id", "users"},
	{"tenant_references", "users", "tenant_id", "tenants"},
	{"tenant_references", "companies", "tenant_id", "tenants"},
	{"tenant_references", "contacts", "tenant_id", "tenants"},
	{"tenant_references", "leads", "tenant_id", "tenants"},
	{"tenant_references", "deals", "tenant_id", "tenants"},
	{"tenant_references", "tasks", "tenant_id", "tenants"},
	{"tenant_references", "notes", "tenant_id", "tenants"},
	{"tenant_references", "tags", "tenant_id", "tenants"},
}

// scanForeignKeys applies the orphan left-join technique to the user and
// tenant reference columns. Reported only, never fixed.
func (c *Checker) scanForeignKeys(ctx context.Context, tenantID string) *store.CheckResults {
	results := &store.CheckResults{}

	for _, rule := range fkRules {
		name := fmt.Sprintf("%s.%s", rule.Table, rule.Column)
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.id%s
			 WHERE c.tenant_id = ?%s AND c.%s IS NOT NULL AND p.id IS NULL`,
			rule.Table, rule.RefTable, rule.Column, alive(rule.RefTable, "p"),
			alive(rule.Table, "c"), rule.Column)

		count, err := c.countRaw(ctx, query, tenantID)
		if err != nil {
			appendCheckError(results, name, err)
			continue
		}
		if count == 0 {
			continue
		}

		results.IssuesFound += int(count)
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        rule.Concern,
			Table:       rule.Table,
			Field:       rule.Column,
			Count:       int(count),
			Description: fmt.Sprintf("%d rows in %s violate %s -> %s", count, rule.Table, name, rule.RefTable),
		})
	}

	return results
}

// requiredFields lists columns that must never be null or empty.
var requiredFields = []struct {
	Table string
	Field string
}{
	{"users", "name"},
	{"users", "email"},
	{"companies", "name"},
	{"contacts", "first_name"},
	{"leads", "name"},
	{"deals", "title"},
	{"tasks", "title"},
}

// scanRequiredFields counts rows missing a required value. Reported only,
// never fixed.
func (c *Checker) scanRequiredFields(ctx context.Context, tenantID string) *store.CheckResults {
	results := &store.CheckResults{}

	for _, pair := range requiredFields {
		name := fmt.Sprintf("%s.%s", pair.Table, pair.Field)
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE tenant_id = ?%s AND (%s IS NULL OR %s = '')`,
			pair.Table, alive(pair.Table, pair.Table), pair.Field, pair.Field)

		count, err := c.countRaw(ctx, query, tenantID)
		if err != nil {
			appendCheckError(results, name, err)
			continue
		}
		if count == 0 {
			continue
		}

		results.IssuesFound += int(count)
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "missing_required_field",
			Table:       pair.Table,
			Field:       pair.Field,
			Count:       int(count),
			Description: fmt.Sprintf("%d rows missing required field %s", count, name),
		})
	}

	return results
}

// scanConsistency runs fixed sanity queries over the data. Reported only,
// never fixed.
func (c *Checker) scanConsistency(ctx context.Context, tenantID string) *store.CheckResults {
	checks := []struct {
		Name        string
		Table       string
		Field       string
		Query       string
		Args        []interface{}
		Description string
	}{
		{
			Name:        "non_positive_deal_amounts",
			Table:       "deals",
			Field:       "amount",
			Query:       `SELECT COUNT(*) FROM deals WHERE tenant_id = ? AND deleted_at IS NULL AND amount <= 0`,
			Args:        []interface{}{tenantID},
			Description: "deals with a non-positive amount",
		},
		{
			Name:        "future_company_timestamps",
			Table:       "companies",
			Field:       "created_at",
			Query:       `SELECT COUNT(*) FROM companies WHERE tenant_id = ? AND deleted_at IS NULL AND created_at > ?`,
			Args:        []interface{}{tenantID, c.now()},
			Description: "companies created in the future",
		},
		{
			Name:        "future_contact_timestamps",
			Table:       "contacts",
			Field:       "created_at",
			Query:       `SELECT COUNT(*) FROM contacts WHERE tenant_id = ? AND deleted_at IS NULL AND created_at > ?`,
			Args:        []interface{}{tenantID, c.now()},
			Description: "contacts created in the future",
		},
		{
			Name:        "future_deal_timestamps",
			Table:       "deals",
			Field:       "created_at",
			Query:       `SELECT COUNT(*) FROM deals WHERE tenant_id = ? AND deleted_at IS NULL AND created_at > ?`,
			Args:        []interface{}{tenantID, c.now()},
			Description: "deals created in the future",
		},
	}

	results := &store.CheckResults{}
	for _, check := range checks {
		count, err := c.countRaw(ctx, check.Query, check.Args...)
		if err != nil {
			appendCheckError(results, check.Name, err)
			continue
		}
		if count == 0 {
			continue
		}
		results.IssuesFound += int(count)
		results.Issues = append(results.Issues, store.CheckIssue{
			Type:        "inconsistent_data",
			Table:       check.Table,
			Field:       check.Field,
			Count:       int(count),
			Description: fmt.Sprintf("%d %s", count, check.Description),
		})
	}
	return results
}
