package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crm-datakeeper/internal/integrity"
	"crm-datakeeper/internal/store"
)

var (
	checkTargetModel string
	checkAutoFix     bool
	checkFixMethod   string
)

// integrityCmd represents the integrity command
var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Run structural data-quality scans",
	Long: `Run one of the structural integrity scans over a tenant's data.

Available scan types:
  ORPHANED_RECORDS         foreign keys pointing at missing rows (fixable)
  MISSING_RELATIONSHIPS    entities lacking an expected relation
  DUPLICATE_DETECTION      duplicate values, grouped case-insensitively
  DATA_VALIDATION          malformed email and phone values
  FOREIGN_KEY_CONSTRAINTS  user and tenant reference violations
  REQUIRED_FIELDS          null or empty required columns
  DATA_CONSISTENCY         non-positive amounts, future timestamps

Examples:
  # Report orphaned records across all tables
  crm-datakeeper integrity run ORPHANED_RECORDS --tenant acme

  # Null out dangling company references on contacts only
  crm-datakeeper integrity run ORPHANED_RECORDS --tenant acme --model contacts --auto-fix --fix-method nullify

  # Find duplicate emails and tag names
  crm-datakeeper integrity run DUPLICATE_DETECTION --tenant acme`,
}

// integrityRunCmd runs one scan
var integrityRunCmd = &cobra.Command{
	Use:   "run <check-type>",
	Short: "Run one integrity scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrityScan,
}

func init() {
	rootCmd.AddCommand(integrityCmd)
	integrityCmd.AddCommand(integrityRunCmd)

	integrityRunCmd.Flags().StringVar(&checkTargetModel, "model", "", "narrow the orphan scan to one table")
	integrityRunCmd.Flags().BoolVar(&checkAutoFix, "auto-fix", false, "fix found issues where the scan supports it")
	integrityRunCmd.Flags().StringVar(&checkFixMethod, "fix-method", "nullify", "fix method (nullify, delete)")
}

// runIntegrityScan executes one integrity scan and prints its findings
func runIntegrityScan(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}

	checkType := store.CheckType(strings.ToUpper(args[0]))
	checker := integrity.NewChecker(db, logger)

	check, err := checker.Run(context.Background(), tenantID, checkType, checkTargetModel, store.CheckParameters{
		AutoFix:   checkAutoFix,
		FixMethod: checkFixMethod,
	})
	if err != nil {
		return fmt.Errorf("integrity scan failed: %w", err)
	}

	fmt.Printf("Scan: %s (%s)\n", check.Type, check.ID)
	fmt.Printf("Status: %s\n", colorStatus(string(check.Status)))
	fmt.Printf("Issues found: %d, fixed: %d\n", check.IssuesFound, check.IssuesFixed)

	if check.Results != nil {
		for _, issue := range check.Results.Issues {
			if issue.Type == "check_error" {
				fmt.Println(color.RedString("  ! %s", issue.Description))
			} else {
				fmt.Printf("  - %s\n", issue.Description)
			}
		}
	}

	if check.IssuesFound == 0 {
		fmt.Println(color.GreenString("No issues found"))
	}
	return nil
}
