package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/client"
)

var version = "0.1.0-dev"

func main() {
	var (
		endpoint string
		model    string
		file     string
		timeout  time.Duration
	)

	transcribeCmd := flag.NewFlagSet("transcribe", flag.ExitOnError)
	transcribeCmd.StringVar(&endpoint, "endpoint", client.DefaultEndpoint, "Server base URL")
	transcribeCmd.StringVar(&model, "model", "", "Model name sent with the request")
	transcribeCmd.StringVar(&file, "file", "", "Path to a 16-bit PCM WAV file")
	transcribeCmd.DurationVar(&timeout, "timeout", client.DefaultTimeout, "Request timeout")

	healthCmd := flag.NewFlagSet("health", flag.ExitOnError)
	healthCmd.StringVar(&endpoint, "endpoint", client.DefaultEndpoint, "Server base URL")
	healthCmd.DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'transcribe', 'health' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "transcribe":
		transcribeCmd.Parse(os.Args[2:])
		if file == "" {
			fmt.Fprintln(os.Stderr, "-file is required")
			os.Exit(2)
		}
		c := client.New(client.Options{Endpoint: endpoint, Model: model, Timeout: timeout})
		if err := runTranscribe(c, file); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "health":
		healthCmd.Parse(os.Args[2:])
		c := client.New(client.Options{Endpoint: endpoint, Timeout: timeout})
		status, err := c.Health(context.Background())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(status)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runTranscribe(c *client.Client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	clip, err := audio.ReadWAV(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if clip.Channels != 1 {
		fmt.Fprintf(os.Stderr, "warning: %d channels sent as interleaved mono\n", clip.Channels)
	}

	transcript, err := c.Transcribe(context.Background(), client.Chunk{
		PCM16:        clip.PCM,
		SampleRateHz: clip.SampleRate,
		Channels:     clip.Channels,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\t(confidence %.4f)\n", transcript.Text, transcript.Confidence)
	return nil
}
