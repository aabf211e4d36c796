package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var helloCmd = &cobra.Command{
	Use:   "hello",
	Short: "Connect, exchange hellos and print the device capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		hello := s.client.ServerHello()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session-id: %s\n", hello.SessionID)
		fmt.Fprintf(out, "framing: %s\n", s.client.Communicator().Framing())
		for _, capability := range hello.Capabilities {
			fmt.Fprintln(out, capability)
		}
		return s.close(ctx, true)
	},
}

func init() {
	rootCmd.AddCommand(helloCmd)
}
