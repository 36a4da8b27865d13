package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PigStep/Vibe-BPMN-studio/internal/client/files"
)

var generateCmd = &cobra.Command{
	Use:   "generate [instruction]",
	Short: "Send one instruction and print the returned diagram",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print the example diagram served by the API",
	Args:  cobra.NoArgs,
	RunE:  runExample,
}

func init() {
	generateCmd.Flags().Bool("lenient", false, "print the raw reply or the failure message instead of failing")
	generateCmd.Flags().Bool("save", false, "also save the diagram as "+files.BPMNFilename)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(exampleCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lenient, _ := cmd.Flags().GetBool("lenient")
	save, _ := cmd.Flags().GetBool("save")

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	client, err := newResponder(cfg)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if lenient {
		fmt.Fprintln(cmd.OutOrStdout(), client.GenerateResponse(ctx, text))
		return nil
	}

	xml, err := client.Generate(ctx, text)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), xml)

	if save {
		if err := files.NewDirDownloader(cfg.DownloadDir).Download(xml, files.BPMNFilename, files.BPMNMime); err != nil {
			return err
		}
	}
	return nil
}

func runExample(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	client, err := newResponder(cfg)
	if err != nil {
		return err
	}

	xml, err := client.FetchExample(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch example: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), xml)
	return nil
}
