package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mediaWorkerCmd = &cobra.Command{
	Use:   "mediaworker",
	Short: "Run the deferred media download worker",
	Long:  "Polls the inbound media job queue and re-downloads media whose webhook-time fetch failed.",
	Run:   runMediaWorker,
}

func init() {
	rootCmd.AddCommand(mediaWorkerCmd)
}

func runMediaWorker(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[MEDIA-RETRY] Termination signal received, finishing in-flight job...")
		cancel()
	}()

	mediaWorker.Run(ctx)
	stopApp()
}
