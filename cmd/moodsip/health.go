package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/moodsip/internal/inference"
	"github.com/srg/moodsip/internal/notify"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the mood analysis backend",
	Long: `Query the analysis backend health endpoint and list the models it serves.
The backend URL comes from the config file or --backend.`,
	RunE: runHealth,
}

var (
	healthBackend string
	healthFormat  string
)

func init() {
	healthCmd.Flags().StringVar(&healthBackend, "backend", "", "Analysis backend base URL (overrides config)")
	healthCmd.Flags().StringVarP(&healthFormat, "format", "f", "table", "Output format (table, json)")
}

func runHealth(cmd *cobra.Command, args []string) error {
	if err := validateFormat(healthFormat); err != nil {
		return err
	}
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	if healthBackend != "" {
		env.cfg.Inference.BaseURL = healthBackend
	}
	env.cfg.Inference.Enabled = true
	if err := env.cfg.Validate(); err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := interruptible(context.Background(), env.out, "cancelling health check")
	defer stop()

	return checkHealth(ctx, env, healthFormat)
}

func checkHealth(ctx context.Context, env *appEnv, format string) error {
	printer := newNotificationPrinter(env.out)
	client := newInferenceClient(env)

	h, err := client.ReportHealth(ctx, notify.NotifierFunc(func(level notify.Level, text string) {
		if format == "table" {
			printer.Print(notify.Notification{Level: level, Text: text, Time: time.Now()})
		}
	}))
	if err != nil {
		return fmt.Errorf("%w: %w", inference.ErrUnavailable, err)
	}

	r := orderedmap.New[string, any]()
	r.Set("backend", env.cfg.Inference.BaseURL)
	r.Set("status", h.Status)
	r.Set("models", h.AvailableModels)
	return writeReport(env.out, r, format)
}

func newInferenceClient(env *appEnv) *inference.Client {
	ic := env.cfg.Inference
	return inference.New(inference.Options{
		BaseURL:            ic.BaseURL,
		Model:              ic.Model,
		Timeout:            ic.RequestTimeout,
		InsecureSkipVerify: ic.InsecureSkipVerify,
		RatePerSecond:      ic.RatePerSecond,
		Burst:              ic.Burst,
		BreakerFailures:    ic.BreakerFailures,
		BreakerCooldown:    ic.BreakerCooldown,
		Logger:             env.logger,
	})
}
