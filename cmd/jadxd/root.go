package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "jadxd",
	Short: "Jadx daemon - multi-session decompiler HTTP service",
	Long: `jadxd keeps decompiled Android packages in memory as named sessions and
answers manifest, code, class structure and cross-reference queries over HTTP.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jadxd %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.SetVersionTemplate("jadxd version {{.Version}}\n")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
