package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafsii/rediscmd/pkg/kv"
	_ "github.com/leafsii/rediscmd/pkg/kv/memory"
	_ "github.com/leafsii/rediscmd/pkg/kv/redis"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a smoke test against the configured store",
		Long: `Run a short sequence of string and stream commands against the configured
store and print each result: SET, GET, EXISTS, EXPIRE, XADD and consumer
group creation (twice, the second call must succeed as well).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			client, err := kv.Open(cfg.KV(logger, nil))
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer client.Close()

			return runCheck(cmd.Context(), client, cmd.OutOrStdout())
		},
	}
}

func runCheck(ctx context.Context, client *kv.Client, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ok, err := client.Set(ctx, "321", "123")
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	fmt.Fprintf(out, "set 321=123: %t\n", ok)

	value, err := client.Get(ctx, "321")
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	fmt.Fprintf(out, "get 321: %s\n", value)

	n, err := client.Exists(ctx, "321")
	if err != nil {
		return fmt.Errorf("exists: %w", err)
	}
	fmt.Fprintf(out, "exists 321: %d\n", n)

	ok, err = client.Expire(ctx, "321", 100*time.Second)
	if err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	fmt.Fprintf(out, "expire 321 100s: %t\n", ok)

	id, err := client.AppendToStream(ctx, "rrrrr", kv.Pairs("123", "321"))
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	fmt.Fprintf(out, "append rrrrr: %s\n", id)

	for i := 1; i <= 2; i++ {
		if err := client.EnsureConsumerGroup(ctx, "rrrrr", "1234"); err != nil {
			return fmt.Errorf("ensure consumer group (call %d): %w", i, err)
		}
		fmt.Fprintf(out, "ensure group rrrrr/1234 (call %d): ok\n", i)
	}
	return nil
}
