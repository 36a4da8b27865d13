// bpmnctl drives the BPMN studio API from a terminal: it keeps the same
// session, editor and transcript the browser page keeps.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/PigStep/Vibe-BPMN-studio/internal/client/files"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/responder"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/viewer"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/workspace"
	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
)

var (
	transportFlag   string
	sessionFileFlag string
	downloadDirFlag string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "bpmnctl",
	Short: "Chat with Vibe BPMN Studio from the terminal",
	Long: `bpmnctl sends natural-language instructions to the diagram generation
API, keeps the returned BPMN XML in a local editor and exports it as
BPMN or SVG files.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			log.SetFlags(0)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "request transport: post or query (default from BPMNCTL_TRANSPORT)")
	rootCmd.PersistentFlags().StringVar(&sessionFileFlag, "session-file", "", "TOML file holding the session id")
	rootCmd.PersistentFlags().StringVar(&downloadDirFlag, "dir", "", "directory for exported files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log with timestamps")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadClientConfig reads the environment and applies command-line overrides.
func loadClientConfig() (*config.ClientConfig, error) {
	if _, err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if transportFlag != "" {
		transport := config.Transport(transportFlag)
		if transport != config.TransportPost && transport != config.TransportQuery {
			return nil, fmt.Errorf("invalid --transport value %q: must be post or query", transportFlag)
		}
		cfg.Transport = transport
	}
	if sessionFileFlag != "" {
		cfg.SessionFile = sessionFileFlag
	}
	if downloadDirFlag != "" {
		cfg.DownloadDir = downloadDirFlag
	}
	return cfg, nil
}

func newResponder(cfg *config.ClientConfig) (*responder.Client, error) {
	return responder.New(*cfg, responder.NewFileSessionStore(cfg.SessionFile))
}

// newWorkspace assembles the terminal counterpart of the studio page.
func newWorkspace(cfg *config.ClientConfig) (*workspace.Workspace, *viewer.Headless, error) {
	client, err := newResponder(cfg)
	if err != nil {
		return nil, nil, err
	}

	v := viewer.NewHeadless()
	ws, err := workspace.New(workspace.Options{
		Viewer:     v,
		Generator:  client,
		Downloader: files.NewDirDownloader(cfg.DownloadDir),
		Examples:   client,
	})
	if err != nil {
		return nil, nil, err
	}
	return ws, v, nil
}
