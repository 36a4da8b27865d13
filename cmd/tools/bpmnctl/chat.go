package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/PigStep/Vibe-BPMN-studio/internal/client/viewer"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/workspace"
)

const chatHelp = `Type an instruction to change the diagram, or one of:
  :xml              print the editor content
  :apply            render the editor content again
  :load <path>      load a diagram from disk
  :svg              save the diagram as SVG
  :bpmn             save the diagram as BPMN
  :tab <chat|xml>   switch the active panel
  :zoom <in|out|fit>
  :history          print the transcript
  :help             show this help
  :quit             leave the session`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive diagram editing session",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	ws, v, err := newWorkspace(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := ws.Init(cmd.Context()); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(filepath.Dir(cfg.SessionFile), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(out, "Connected to", cfg.App.BaseURL, "- type :help for commands")

	for {
		input, err := line.Prompt("bpmn> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		// Ctrl+C while a request is in flight cancels only that request.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		quit := handleInput(ctx, ws, v, input, out)
		stop()
		if quit {
			return nil
		}
	}
}

// handleInput runs one REPL line and reports whether the session should end.
func handleInput(ctx context.Context, ws *workspace.Workspace, v *viewer.Headless, input string, out io.Writer) bool {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, ":") {
		before := len(ws.Transcript())
		err := ws.SubmitChat(ctx, input)
		for _, msg := range ws.Transcript()[before:] {
			if !msg.IsUser {
				fmt.Fprintln(out, msg.Text)
			}
		}
		switch {
		case errors.Is(err, workspace.ErrStaleResponse):
			fmt.Fprintln(out, "(a newer diagram is already shown)")
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		default:
			fmt.Fprintln(out, "Diagram updated. :xml to view, :svg or :bpmn to export.")
		}
		return false
	}

	fields := strings.Fields(input)
	command, rest := fields[0], fields[1:]
	var err error

	switch command {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprintln(out, chatHelp)
	case ":xml":
		fmt.Fprintln(out, ws.Editor())
	case ":apply":
		err = ws.ApplyEditor(ctx)
	case ":load":
		if len(rest) != 1 {
			err = errors.New("usage: :load <path>")
			break
		}
		err = ws.LoadFile(ctx, rest[0])
	case ":svg":
		err = ws.DownloadSVG(ctx)
	case ":bpmn":
		err = ws.DownloadBPMN(ctx)
	case ":tab":
		if len(rest) != 1 {
			err = errors.New("usage: :tab <chat|xml>")
			break
		}
		err = ws.Activate(workspace.Panel(rest[0] + "-panel"))
		if err == nil {
			fmt.Fprintln(out, "active panel:", ws.ActivePanel())
		}
	case ":zoom":
		if len(rest) != 1 {
			err = errors.New("usage: :zoom <in|out|fit>")
			break
		}
		switch rest[0] {
		case "in":
			ws.ZoomIn()
		case "out":
			ws.ZoomOut()
		case "fit":
			ws.FitViewport()
		default:
			err = fmt.Errorf("unknown zoom %q", rest[0])
		}
		if err == nil {
			fmt.Fprintf(out, "zoom %.0f%%\n", v.Zoom()*100)
		}
	case ":history":
		for _, msg := range ws.Transcript() {
			who := "assistant"
			if msg.IsUser {
				who = "you"
			}
			fmt.Fprintf(out, "%s: %s\n", who, msg.Text)
		}
	default:
		err = fmt.Errorf("unknown command %s, try :help", command)
	}

	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}
