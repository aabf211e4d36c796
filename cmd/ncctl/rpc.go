package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/nccomm/internal/netconf"
	"github.com/spf13/cobra"
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Send one operation inside an <rpc> and print the reply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		operation, err := readOperation(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		reply, callErr := s.client.Call(ctx, operation)
		if reply != "" {
			fmt.Fprintln(cmd.OutOrStdout(), reply)
		}
		closeErr := s.close(ctx, true)

		var rpcErr *netconf.RPCError
		if errors.As(callErr, &rpcErr) {
			return errors.Join(fmt.Errorf("device rejected operation: %w", rpcErr), closeErr)
		}
		return errors.Join(callErr, closeErr)
	},
}

func init() {
	rpcCmd.Flags().StringP("file", "f", "", "file holding the operation XML")
	rpcCmd.Flags().String("op", "", "operation XML, e.g. '<get/>'")
	rootCmd.AddCommand(rpcCmd)
}

func readOperation(cmd *cobra.Command) (string, error) {
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return "", err
	}
	op, err := cmd.Flags().GetString("op")
	if err != nil {
		return "", err
	}
	switch {
	case file != "" && op != "":
		return "", errors.New("use either --file or --op")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		op = string(data)
	}
	op = strings.TrimSpace(op)
	if op == "" {
		return "", errors.New("an operation is required (--file or --op)")
	}
	return op, nil
}
