package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/snarg/scribe/internal/transcript"
	"github.com/spf13/cobra"
)

var transcribeFlags struct {
	server   string
	language string
	rating   int
	raw      bool
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE",
	Short: "Upload a file to a running service and print the transcript",
	Long: `Upload a media file, follow the transcript as it streams, and print the
final segment list as JSON. If the streamed text does not parse, the
service's /repair endpoint is asked to fix it.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	f := transcribeCmd.Flags()
	f.StringVar(&transcribeFlags.server, "server", "http://localhost:8080", "service base URL")
	f.StringVar(&transcribeFlags.language, "language", "", "spoken language (service default: English)")
	f.IntVar(&transcribeFlags.rating, "rate", 0, "rate the result afterwards: 1 or -1")
	f.BoolVar(&transcribeFlags.raw, "raw", false, "print the raw stream instead of parsed JSON")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	if r := transcribeFlags.rating; r != 0 && r != 1 && r != -1 {
		return errors.New("--rate must be 1 or -1")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return transcribeFile(ctx, cmd, newClient(transcribeFlags.server), args[0])
}

func transcribeFile(ctx context.Context, cmd *cobra.Command, c *client, path string) error {
	resp, err := c.upload(ctx, path, transcribeFlags.language)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	usageID := resp.Header.Get("X-Usage-Id")

	stderr := cmd.ErrOrStderr()
	buf, err := readTranscript(resp.Body, func(n int) {
		fmt.Fprintf(stderr, "\r%d segments", n)
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	if transcribeFlags.raw {
		cmd.OutOrStdout().Write(buf)
	} else {
		segs, err := transcript.Resolve(ctx, buf, remoteRepairer{c: c})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(segs); err != nil {
			return err
		}
	}

	if transcribeFlags.rating == 0 {
		return nil
	}
	if usageID == "" {
		fmt.Fprintln(stderr, "no usage id returned; skipping rating")
		return nil
	}
	if err := c.rate(ctx, usageID, transcribeFlags.rating); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	fmt.Fprintf(stderr, "rated %s %+d\n", usageID, transcribeFlags.rating)
	return nil
}
