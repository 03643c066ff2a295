package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the image characteristic once",
	Long: `Connect to the bottle and read the image characteristic value directly,
outside the notification stream. Useful to check the firmware exposes the
characteristic at all.`,
	Example: `  moodsip read
  moodsip read --out value.bin`,
	RunE: runRead,
}

var readOut string

func init() {
	readCmd.Flags().StringVarP(&readOut, "out", "o", "", "Write the raw value to this file instead of a hex dump")
}

func runRead(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := interruptible(context.Background(), env.out, "cancelling read")
	defer stop()

	return readImageOnce(ctx, env, readOut)
}

func readImageOnce(ctx context.Context, env *appEnv, out string) error {
	ls, err := env.connect(ctx, nil)
	if err != nil {
		return err
	}
	data, err := ls.ReadImageCharacteristicOnce(ctx)
	ls.close()
	if err != nil {
		return err
	}

	if out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintf(env.out, "Wrote %d bytes to %s\n", len(data), out)
		return nil
	}

	fmt.Fprintf(env.out, "%d bytes:\n%s", len(data), hex.Dump(data))
	return nil
}
