package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"masterboxer.com/engagement-sync/models"
	"masterboxer.com/engagement-sync/seed"
)

func newSeedCommand() *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Inspect seed comment content",
	}
	seedCmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Parse a seed file (or the built-in one) and summarize it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds := seed.Default()
			if len(args) == 1 {
				loaded, err := seed.Load(args[0])
				if err != nil {
					return err
				}
				seeds = loaded
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, postID := range seeds.PostIDs() {
				comments := seeds.Comments(postID)
				fmt.Fprintf(out, "%s\t%d comments\n", postID, len(comments))
				for _, c := range comments {
					if models.ClassifyAuthor(c.UserID) != models.ProvenanceEphemeral {
						fmt.Fprintf(out, "  %s: author %q is missing the %q prefix\n", c.ID, c.UserID, models.SeedAuthorPrefix)
						bad++
					}
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d seed comments have non-seed authors", bad)
			}
			return nil
		},
	})
	return seedCmd
}
