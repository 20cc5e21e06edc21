package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/retry"
)

// ServerOptions configures the llama.cpp server runtime.
type ServerOptions struct {
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
	// ReadyTimeout bounds the whole readiness wait in Load.
	ReadyTimeout time.Duration
	// Retry runs the readiness probe; nil uses a private engine.
	Retry  *retry.Engine
	Logger zerolog.Logger
}

// serverRuntime implements Runtime by talking to a running llama.cpp server
// over its OpenAI-compatible HTTP API.
type serverRuntime struct {
	baseURL    string
	apiKey     string
	readyAfter time.Duration
	httpClient *http.Client
	retry      *retry.Engine
	log        zerolog.Logger
}

// NewServerRuntime constructs a server-backed runtime.
func NewServerRuntime(opts ServerOptions) Runtime {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Minute
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewEngine(retry.WithLogger(opts.Logger))
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &serverRuntime{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		readyAfter: opts.ReadyTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		retry:      opts.Retry,
		log:        opts.Logger,
	}
}

// Load waits for the server to report healthy. The model is selected by
// name; path is passed through as the request's model field.
func (r *serverRuntime) Load(path string, _ LoadOptions) (Model, error) {
	if r.baseURL == "" {
		return nil, errors.New("llama server url is empty")
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.readyAfter)
	defer cancel()
	err := r.retry.Execute(ctx, retry.Network, "llama_server", r.probe)
	if err != nil {
		return nil, ErrDependencyUnavailable("llama server not ready: " + err.Error())
	}
	return &serverModel{rt: r, modelID: strings.TrimSpace(path)}, nil
}

func (r *serverRuntime) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return retry.Permanent(err)
	}
	r.authorize(req)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 500:
		// 503 while the server is still loading its model
		return retry.Transient(fmt.Errorf("llama server health: %s", resp.Status))
	default:
		return retry.Permanent(fmt.Errorf("llama server health: %s", resp.Status))
	}
}

func (r *serverRuntime) authorize(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

type serverModel struct {
	rt      *serverRuntime
	modelID string
}

// completionRequest represents the payload for /v1/completions.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
}

// completionChunk covers the completion, chat delta and native shapes.
type completionChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Content string `json:"content"`
}

func (c completionChunk) fragment() string {
	if len(c.Choices) > 0 {
		if c.Choices[0].Text != "" {
			return c.Choices[0].Text
		}
		return c.Choices[0].Delta.Content
	}
	return c.Content
}

func (m *serverModel) post(ctx context.Context, prompt string, p Params, stream bool) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Model:         m.modelID,
		Prompt:        prompt,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		Stop:          p.Stop,
		Seed:          p.Seed,
		Stream:        stream,
		RepeatPenalty: p.RepeatPenalty,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.rt.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	m.rt.authorize(req)
	resp, err := m.rt.httpClient.Do(req)
	if err != nil {
		// Translate context timeouts/cancels
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (m *serverModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	resp, err := m.post(ctx, prompt, p, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var c completionChunk
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("decode completion: %w", err)
	}
	return c.fragment(), nil
}

// GenerateStream parses Server-Sent Events: "data: {json}" lines ending
// with "data: [DONE]".
func (m *serverModel) GenerateStream(ctx context.Context, prompt string, p Params, emit func(string) error) error {
	resp, err := m.post(ctx, prompt, p, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(strings.ToLower(line), "data:") {
			// skip heartbeats, comments and event names
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "[DONE]" {
			return nil
		}
		var c completionChunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			m.rt.log.Debug().Str("event", "unknown_stream_line").Str("line", line).Msg("llama server")
			continue
		}
		if frag := c.fragment(); frag != "" {
			if err := emit(frag); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (m *serverModel) Close() error {
	m.rt.httpClient.CloseIdleConnections()
	return nil
}
