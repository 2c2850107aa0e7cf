package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// newListingCmd prints the report stubs found on a listing page.
func newListingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listing [url]",
		Short: "Fetch a listing page and print its report stubs as JSON",
		Long: `Fetches the listing at url (or worker.listing_url) through the full
acquisition chain and prints every report stub found. An empty array means
every tier came back without usable content.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			url := appInstance.Config.Worker.ListingURL
			if len(args) == 1 {
				url = args[0]
			}
			stubs := appInstance.Pipeline.FetchListing(cmd.Context(), url)
			if stubs == nil {
				stubs = []crawler.ReportStub{}
			}
			return writeJSON(cmd.OutOrStdout(), stubs)
		},
	}
}

// newDetailCmd prints the extracted body of one report page.
func newDetailCmd() *cobra.Command {
	var textOnly bool
	cmd := &cobra.Command{
		Use:   "detail <url>",
		Short: "Fetch a report page and print its extracted body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if textOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), appInstance.Pipeline.FetchDetailText(cmd.Context(), args[0]))
				return err
			}
			return writeJSON(cmd.OutOrStdout(), appInstance.Pipeline.FetchDetail(cmd.Context(), args[0]))
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text", false, "print only the body text")
	return cmd
}
