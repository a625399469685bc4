package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

func main() {
	defer glog.Flush()

	root := &cobra.Command{
		Use:           "engagementd",
		Short:         "Local engagement cache for posts, comments and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// glog registers -v, -logtostderr etc. on the standard flag set
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(newServeCommand(), newSeedCommand())

	if err := root.Execute(); err != nil {
		glog.Errorf("engagementd: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
