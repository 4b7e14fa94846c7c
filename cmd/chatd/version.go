package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"chatd/internal/llm"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and linked runtime backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatd %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(cmd.OutOrStdout(), "backends: %s\n", strings.Join(llm.Backends(), ", "))
		},
	}
}
