package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// newRunCmd executes one job in the foreground.
func newRunCmd() *cobra.Command {
	var maxReports int
	cmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Run one crawl job synchronously and print its result",
		Long: `Fetches the listing, then fetches, stores and publishes up to
--max-reports new reports. The job result is printed as JSON. The command
fails when the job ends in the failed state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			params := crawler.JobParameters{MaxReports: maxReports}
			if len(args) == 1 {
				params.ListingURL = args[0]
			}
			result, err := appInstance.Runner.RunOnce(cmd.Context(), params)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Job.Status == crawler.JobStatusFailed {
				return fmt.Errorf("job %s failed: %s", result.Job.ID, result.Job.ErrorText)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxReports, "max-reports", 0, "reports to process (default worker.max_reports)")
	return cmd
}
