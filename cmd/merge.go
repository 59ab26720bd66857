package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crm-datakeeper/internal/merge"
)

var (
	mergeEntityType string
	mergePrimaryID  uint
	mergeDupID      uint
	mergeSelections []string
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge duplicate records",
	Long: `Preview and process merges of duplicate CRM records.

A merge collapses a duplicate record into a primary record of the same
entity type (COMPANY, CONTACT or LEAD): selected field values are copied
onto the primary, owned relationships are transferred, and the duplicate
is soft-deleted.

Examples:
  # Preview field conflicts between two companies
  crm-datakeeper merge preview --tenant acme --type COMPANY --primary 12 --duplicate 48

  # Merge, taking the duplicate's website and phone
  crm-datakeeper merge process --tenant acme --type COMPANY --primary 12 --duplicate 48 \
      --take website=duplicate --take phone=duplicate`,
}

// mergePreviewCmd previews a merge
var mergePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview field conflicts between primary and duplicate",
	RunE:  runMergePreview,
}

// mergeProcessCmd performs a merge
var mergeProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Merge the duplicate into the primary record",
	RunE:  runMergeProcess,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.AddCommand(mergePreviewCmd)
	mergeCmd.AddCommand(mergeProcessCmd)

	for _, cmd := range []*cobra.Command{mergePreviewCmd, mergeProcessCmd} {
		cmd.Flags().StringVar(&mergeEntityType, "type", "", "entity type (COMPANY, CONTACT, LEAD)")
		cmd.Flags().UintVar(&mergePrimaryID, "primary", 0, "id of the surviving record")
		cmd.Flags().UintVar(&mergeDupID, "duplicate", 0, "id of the record to retire")
		cmd.MarkFlagRequired("type")
		cmd.MarkFlagRequired("primary")
		cmd.MarkFlagRequired("duplicate")
	}

	mergeProcessCmd.Flags().StringSliceVar(&mergeSelections, "take", nil, "field selection in field=primary|duplicate form (default: primary)")
}

// runMergePreview prints the field conflicts and recommendations
func runMergePreview(cmd *cobra.Command, args []string) error {
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

	engine := merge.NewEngine(db, logger)
	conflicts, err := engine.Preview(context.Background(),
		tenantID, strings.ToUpper(mergeEntityType), mergePrimaryID, mergeDupID)
	if err != nil {
		return fmt.Errorf("merge preview failed: %w", err)
	}

	fmt.Printf("%-14s %-28s %-28s %s\n", "FIELD", "PRIMARY", "DUPLICATE", "RECOMMENDED")
	for _, conflict := range conflicts {
		recommended := conflict.Recommended
		if recommended == "duplicate" {
			recommended = color.YellowString(recommended)
		}
		fmt.Printf("%-14s %-28v %-28v %s\n",
			conflict.Field, conflict.PrimaryValue, conflict.DuplicateValue, recommended)
	}
	return nil
}

// runMergeProcess creates and runs a merge job
func runMergeProcess(cmd *cobra.Command, args []string) error {
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

	selections, err := parseSelections(mergeSelections)
	if err != nil {
		return err
	}

	engine := merge.NewEngine(db, logger)
	job, err := engine.Create(context.Background(),
		tenantID, strings.ToUpper(mergeEntityType), mergePrimaryID, mergeDupID, selections)
	if err != nil {
		return fmt.Errorf("merge job creation failed: %w", err)
	}

	if !engine.Process(context.Background(), job) {
		return fmt.Errorf("merge failed: %s", job.ErrorMessage)
	}

	fmt.Println(color.GreenString("Merge completed: %s", job.ID))
	for name, count := range job.TransferredRelationships {
		fmt.Printf("  transferred %d %s\n", count, name)
	}
	return nil
}

// parseSelections parses field=primary|duplicate pairs.
func parseSelections(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	selections := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		field, choice, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --take %q, expected field=primary|duplicate", pair)
		}
		choice = strings.ToLower(choice)
		if choice != "primary" && choice != "duplicate" {
			return nil, fmt.Errorf("invalid --take %q, choice must be primary or duplicate", pair)
		}
		selections[field] = choice
	}
	return selections, nil
}
