package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/config"
)

// ErrWorkerExited is returned once the worker subprocess has gone away.
var ErrWorkerExited = errors.New("stt worker exited")

type workerRequest struct {
	AudioPath  string `json:"audio_path"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
	BeamSize   int    `json:"beam_size"`
	VADFilter  bool   `json:"vad_filter"`
}

// workerEngine keeps one subprocess alive with the model loaded and feeds it
// one request at a time over stdin/stdout.
type workerEngine struct {
	cfg    config.STTConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *io.PipeReader
	scanner *bufio.Scanner
	broken  bool
	exited  chan struct{}
}

// NewWorkerEngine starts the worker and blocks until it reports ready, the
// process exits, or ctx is done.
func NewWorkerEngine(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	args = append(args, modelArgs(cfg)...)

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stt worker stdin pipe: %w", err)
	}
	// stdout goes through an io.Pipe so the reader is not closed by Wait.
	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = &logWriter{logger: logger, msg: "stt worker stderr"}
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stt worker: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEngineLine)
	w := &workerEngine{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "stt-worker")),
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		scanner: scanner,
		exited:  make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			w.logger.Warn("stt worker exited", slogError(err))
		} else {
			w.logger.Info("stt worker exited")
		}
		_ = stdoutW.Close()
		close(w.exited)
	}()

	readyErr := make(chan error, 1)
	go func() {
		readyErr <- w.awaitReady()
	}()

	select {
	case err := <-readyErr:
		if err != nil {
			w.abort()
			return nil, err
		}
	case <-ctx.Done():
		w.abort()
		return nil, fmt.Errorf("waiting for stt worker: %w", ctx.Err())
	}

	w.logger.Info("stt worker ready", slog.Int("pid", cmd.Process.Pid))
	return w, nil
}

func (w *workerEngine) awaitReady() error {
	for w.scanner.Scan() {
		var line engineLine
		if err := json.Unmarshal(w.scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return fmt.Errorf("stt worker failed to load: %s", line.Error)
		}
		if line.Ready {
			return nil
		}
	}
	if err := w.scanner.Err(); err != nil {
		return fmt.Errorf("read stt worker output: %w", err)
	}
	return ErrWorkerExited
}

func (w *workerEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.broken {
			yield(Segment{}, ErrWorkerExited)
			return
		}
		if err := ctx.Err(); err != nil {
			yield(Segment{}, err)
			return
		}

		wav, err := audio.WriteTempWAV(w.cfg.TempDir, samples, sampleRate)
		if err != nil {
			yield(Segment{}, err)
			return
		}
		defer wav.Cleanup()

		req, err := json.Marshal(workerRequest{
			AudioPath:  wav.Path,
			SampleRate: sampleRate,
			Language:   params.Language,
			BeamSize:   params.BeamSize,
			VADFilter:  params.VADFilter,
		})
		if err != nil {
			yield(Segment{}, err)
			return
		}
		if _, err := w.stdin.Write(append(req, '\n')); err != nil {
			w.markBroken()
			yield(Segment{}, fmt.Errorf("write stt worker request: %w", err))
			return
		}

		// The response must be read to its terminator even if the consumer
		// stops early, otherwise the next request would see stale lines.
		consuming := true
		for w.scanner.Scan() {
			var line engineLine
			if err := json.Unmarshal(w.scanner.Bytes(), &line); err != nil {
				w.markBroken()
				if consuming {
					yield(Segment{}, fmt.Errorf("decode stt worker output: %w", err))
				}
				return
			}
			switch {
			case line.Done:
				return
			case line.Error != "":
				if consuming {
					yield(Segment{}, fmt.Errorf("stt engine: %s", line.Error))
				}
				return
			case consuming:
				consuming = yield(Segment{Text: line.Text, AvgLogProb: line.AvgLogProb}, nil)
			}
		}
		w.markBroken()
		err = ErrWorkerExited
		if scanErr := w.scanner.Err(); scanErr != nil {
			err = fmt.Errorf("read stt worker output: %w", scanErr)
		}
		if consuming {
			yield(Segment{}, err)
		}
	}
}

// Close asks the worker to exit by closing stdin and kills it if it does not
// exit within five seconds.
func (w *workerEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broken = true
	_ = w.stdin.Close()
	select {
	case <-w.exited:
		return nil
	case <-time.After(5 * time.Second):
		w.logger.Warn("stt worker did not exit, killing")
		w.kill()
		<-w.exited
		return nil
	}
}

// Alive reports whether the worker can still serve requests.
func (w *workerEngine) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.broken
}

// markBroken stops a worker whose output can no longer be trusted. Callers
// hold w.mu.
func (w *workerEngine) markBroken() {
	w.broken = true
	w.kill()
	_ = w.stdout.Close()
}

func (w *workerEngine) kill() {
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// abort tears down a worker that never became ready.
func (w *workerEngine) abort() {
	w.kill()
	_ = w.stdout.Close()
	<-w.exited
}

type logWriter struct {
	logger *slog.Logger
	msg    string
}

func (l *logWriter) Write(p []byte) (int, error) {
	l.logger.Debug(l.msg, slog.String("output", string(p)))
	return len(p), nil
}
