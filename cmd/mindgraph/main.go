package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "mindgraph",
		Short:         "Document ingestion and knowledge graph service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	root.AddCommand(serveCMD(&cfgPath), workerCMD(&cfgPath), migrateCMD(&cfgPath), ingestCMD(&cfgPath))
	return root
}

func main() {
	if err := newRootCMD().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
