// Command gotftp is a minimal TFTP client: get and put against a
// tftp:// URL.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tftp "github.com/sangoma/gotftp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gotftp:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "gotftp",
		Short: "Minimal TFTP client",
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall transfer timeout")

	root.AddCommand(newGetCmd(&timeout), newPutCmd(&timeout))
	return root
}

func newGetCmd(timeout *time.Duration) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <tftp-url>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()

			data, err := tftp.Read(ctx, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				_, _, filename, err := tftp.ParseURL(args[0])
				if err != nil {
					return err
				}
				out = filename
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "local file to write (default: remote filename)")
	return cmd
}

func newPutCmd(timeout *time.Duration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-file> <tftp-url>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), *timeout)
			defer cancel()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return tftp.Write(ctx, args[1], data)
		},
	}
	return cmd
}
