package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/skeinworks/skein/pkg/cli"
	"github.com/skeinworks/skein/pkg/ledger"
)

var (
	flagUsageDB     string
	flagUsageOutput string
)

var usageCmd = &cobra.Command{
	Use:   "usage [chatId]",
	Short: "Show recorded token usage",
	Long: `Show token usage recorded by the server.

Without arguments, prints per-chat totals across the whole ledger.
With a chat ID, prints that chat's individual requests.

The ledger is opened read-only, so a running server is not disturbed.

Examples:
  skein usage --db ./data/ledger
  skein usage --db ./data/ledger chat-42 --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&flagUsageDB, "db", "", "ledger directory (required)")
	usageCmd.Flags().StringVarP(&flagUsageOutput, "output", "o", "table", "output format (table, json, yaml)")
	usageCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(flagUsageOutput)
	if err != nil {
		return err
	}

	led, err := ledger.Open(ledger.Options{Dir: flagUsageDB, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	if len(args) == 1 {
		return printChatUsage(cmd.Context(), cmd, led, args[0], format)
	}
	return printTotals(cmd.Context(), cmd, led, format)
}

func printTotals(ctx context.Context, cmd *cobra.Command, led *ledger.Ledger, format cli.OutputFormat) error {
	totals, err := led.Totals(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if format != cli.FormatTable {
		return cli.Output(cmd.OutOrStdout(), format, totals)
	}
	if len(totals) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no usage recorded")
		return nil
	}

	t := newUsageTable("CHAT", "REQUESTS", "PROMPT", "COMPLETION", "TOTAL", "LAST ACTIVE")
	for _, tot := range totals {
		t.Row(
			tot.ChatID,
			strconv.Itoa(tot.Requests),
			cli.FormatTokens(tot.PromptTokens),
			cli.FormatTokens(tot.CompletionTokens),
			cli.FormatTokens(tot.TotalTokens),
			cli.FormatTime(tot.LastActive),
		)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func printChatUsage(ctx context.Context, cmd *cobra.Command, led *ledger.Ledger, chatID string, format cli.OutputFormat) error {
	var recs []*ledger.Record
	for rec, err := range led.List(ctx, chatID) {
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		recs = append(recs, rec)
	}

	if format != cli.FormatTable {
		return cli.Output(cmd.OutOrStdout(), format, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no usage recorded for %s\n", chatID)
		return nil
	}

	t := newUsageTable("REQUEST", "MODEL", "PROMPT", "COMPLETION", "TOTAL", "SEGMENTS", "WHEN")
	for _, rec := range recs {
		t.Row(
			rec.RequestID,
			rec.Model,
			cli.FormatTokens(rec.PromptTokens),
			cli.FormatTokens(rec.CompletionTokens),
			cli.FormatTokens(rec.TotalTokens),
			strconv.Itoa(rec.Segments),
			cli.FormatTime(rec.When),
		)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

// newUsageTable builds a styled table. Columns after the first two are
// right-aligned numbers.
func newUsageTable(headers ...string) *table.Table {
	styles := cli.NewStyles(cli.DefaultTheme)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styles.Header
			case col >= 2 && col < len(headers)-1:
				return styles.Number
			default:
				return styles.Cell
			}
		}).
		Headers(headers...)
}
