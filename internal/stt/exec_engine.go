package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os/exec"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/mattn/go-shellwords"
)

// engineLine is one NDJSON line emitted by exec and worker subprocesses.
type engineLine struct {
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
	Ready      bool    `json:"ready,omitempty"`
	Done       bool    `json:"done,omitempty"`
	Error      string  `json:"error,omitempty"`
}

const maxEngineLine = 1 << 20

// execEngine runs the configured command once per transcription against a
// temporary WAV file and streams segments from its stdout.
type execEngine struct {
	cmd []string
	cfg config.STTConfig
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	return args, nil
}

func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("resolve stt command: %w", err)
	}
	args[0] = path
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		wav, err := audio.WriteTempWAV(e.cfg.TempDir, samples, sampleRate)
		if err != nil {
			yield(Segment{}, err)
			return
		}
		defer wav.Cleanup()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmdArgs := append([]string{}, e.cmd[1:]...)
		cmdArgs = append(cmdArgs, "--audio", wav.Path)
		cmdArgs = append(cmdArgs, modelArgs(e.cfg)...)
		cmdArgs = append(cmdArgs, decodeArgs(params)...)

		command := exec.CommandContext(runCtx, e.cmd[0], cmdArgs...)
		var stderr bytes.Buffer
		command.Stderr = &stderr
		command.WaitDelay = 2 * time.Second
		stdout, err := command.StdoutPipe()
		if err != nil {
			yield(Segment{}, fmt.Errorf("stt stdout pipe: %w", err))
			return
		}
		if err := command.Start(); err != nil {
			yield(Segment{}, fmt.Errorf("start stt command: %w", err))
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEngineLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var out engineLine
			if err := json.Unmarshal(line, &out); err != nil {
				cancel()
				_ = command.Wait()
				yield(Segment{}, fmt.Errorf("decode stt output: %w", err))
				return
			}
			if out.Error != "" {
				cancel()
				_ = command.Wait()
				yield(Segment{}, fmt.Errorf("stt engine: %s", out.Error))
				return
			}
			if out.Done {
				break
			}
			if !yield(Segment{Text: out.Text, AvgLogProb: out.AvgLogProb}, nil) {
				cancel()
				_ = command.Wait()
				return
			}
		}
		if scanErr := scanner.Err(); scanErr != nil {
			// The child may still be blocked writing to stdout.
			cancel()
			_ = command.Wait()
			yield(Segment{}, fmt.Errorf("read stt output: %w", scanErr))
			return
		}
		if err := command.Wait(); err != nil {
			yield(Segment{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String()))
		}
	}
}

func (e *execEngine) Close() error { return nil }

func modelArgs(cfg config.STTConfig) []string {
	var args []string
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.Device != "" {
		args = append(args, "--device", cfg.Device)
	}
	if cfg.ComputeType != "" {
		args = append(args, "--compute-type", cfg.ComputeType)
	}
	return args
}

func decodeArgs(params Params) []string {
	args := []string{
		"--language", params.Language,
		"--beam-size", strconv.Itoa(params.BeamSize),
	}
	if params.VADFilter {
		args = append(args, "--vad-filter")
	}
	return args
}
