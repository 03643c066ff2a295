package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ackCmd represents the ack command
var ackCmd = &cobra.Command{
	Use:   "ack",
	Short: "Send one frame acknowledgement",
	Long: `Connect to the bottle and write a single acknowledgement byte (0x01) to the
command characteristic, as if a frame had just been completed. Useful to
unstick firmware that waits for an ACK before sending the next frame.`,
	RunE: runAck,
}

var ackCount int

func init() {
	ackCmd.Flags().IntVarP(&ackCount, "count", "n", 1, "Number of acknowledgements to send")
}

func runAck(cmd *cobra.Command, args []string) error {
	if ackCount < 1 {
		return fmt.Errorf("invalid count %d: must be at least 1", ackCount)
	}
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := interruptible(context.Background(), env.out, "cancelling")
	defer stop()

	return sendAcks(ctx, env, ackCount)
}

func sendAcks(ctx context.Context, env *appEnv, count int) error {
	ls, err := env.connect(ctx, nil)
	if err != nil {
		return err
	}
	defer ls.close()

	for i := 0; i < count; i++ {
		if err := ls.SendAckNow(ctx); err != nil {
			return err
		}
	}
	return nil
}
