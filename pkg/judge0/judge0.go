// Package judge0 implements the cloud judge backend: remote submission,
// polling, and batch execution against a Judge0-compatible API. It
// satisfies the same Executor contract as the container sandbox so the two
// backends are interchangeable by configuration.
package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/sandbox"
)

// Backend numeric language ids.
var languageIDs = map[string]int{
	models.LanguageJavaScript: 63, // Node.js
	models.LanguagePython:     71, // Python 3
	models.LanguageGo:         60,
}

// Judge0 terminal status ids.
const (
	statusInQueue          = 1
	statusProcessing       = 2
	statusAccepted         = 3
	statusWrongAnswer      = 4
	statusTimeLimit        = 5
	statusCompilationError = 6
	statusSIGSEGV          = 7
	statusSIGXFSZ          = 8
	statusSIGFPE           = 9
	statusSIGABRT          = 10
	statusNZEC             = 11
	statusOtherRuntime     = 12
	statusInternalError    = 13
	statusExecFormatError  = 14
)

// maxBatchSize is the backend's per-request submission cap.
const maxBatchSize = 20

// canonicalInputPath is the fixed input file location the sandbox backend
// materialises; submitted code is wrapped so reads of it resolve to stdin.
const canonicalInputPath = "/tmp/input.txt"

// Adapter submits code to a remote judge and maps its statuses onto the
// uniform execution result.
type Adapter struct {
	cfg    config.CloudJudgeConfig
	client *http.Client

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ sandbox.Executor = (*Adapter)(nil)

// New creates a cloud judge adapter.
func New(cfg config.CloudJudgeConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		sleep:  sleepCtx,
	}
}

type submissionRequest struct {
	SourceCode    string `json:"source_code"`
	LanguageID    int    `json:"language_id"`
	Stdin         string `json:"stdin,omitempty"`
	CPUTimeLimit  int    `json:"cpu_time_limit"`
	MemoryLimit   int    `json:"memory_limit"` // KiB
	WallTimeLimit int    `json:"wall_time_limit,omitempty"`
}

type submissionToken struct {
	Token string `json:"token"`
}

type submissionStatus struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output"`
	Time          string  `json:"time"`   // seconds
	Memory        float64 `json:"memory"` // KiB
}

// Execute submits one request and polls until a terminal status or the
// maximum polling time, which yields a timed-out result rather than an error.
func (a *Adapter) Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	if err := sandbox.ValidateRequest(&req); err != nil {
		return nil, err
	}
	langID, ok := languageIDs[req.Language]
	if !ok {
		return nil, fmt.Errorf("language %q has no backend mapping", req.Language)
	}

	token, err := a.submit(ctx, buildSubmission(req, langID, a.cfg.MemoryLimitKB))
	if err != nil {
		return nil, err
	}
	return a.poll(ctx, token)
}

// ExecuteBatch runs up to any number of submissions, chunking at the
// backend's per-request cap. A per-submission failure yields a failed
// result at the corresponding index and never fails the batch.
func (a *Adapter) ExecuteBatch(ctx context.Context, reqs []models.ExecutionRequest) ([]*models.ExecutionResult, error) {
	results := make([]*models.ExecutionResult, len(reqs))
	for start := 0; start < len(reqs); start += maxBatchSize {
		end := min(start+maxBatchSize, len(reqs))
		if err := a.executeChunk(ctx, reqs[start:end], results[start:end]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (a *Adapter) executeChunk(ctx context.Context, reqs []models.ExecutionRequest, out []*models.ExecutionResult) error {
	subs := make([]submissionRequest, 0, len(reqs))
	valid := make([]int, 0, len(reqs)) // indices with a submittable request
	for i := range reqs {
		req := reqs[i]
		if err := sandbox.ValidateRequest(&req); err != nil {
			out[i] = failedResult(err)
			continue
		}
		langID, ok := languageIDs[req.Language]
		if !ok {
			out[i] = failedResult(fmt.Errorf("language %q has no backend mapping", req.Language))
			continue
		}
		subs = append(subs, buildSubmission(req, langID, a.cfg.MemoryLimitKB))
		valid = append(valid, i)
	}
	if len(subs) == 0 {
		return nil
	}

	tokens, err := a.submitBatch(ctx, subs)
	if err != nil {
		return err
	}
	for j, token := range tokens {
		idx := valid[j]
		if token == "" {
			out[idx] = failedResult(fmt.Errorf("submission rejected by backend"))
			continue
		}
		res, err := a.poll(ctx, token)
		if err != nil {
			out[idx] = failedResult(err)
			continue
		}
		out[idx] = res
	}
	return nil
}

func buildSubmission(req models.ExecutionRequest, langID, memoryKB int) submissionRequest {
	return submissionRequest{
		SourceCode:   base64.StdEncoding.EncodeToString([]byte(wrapCode(req.Language, req.Code))),
		LanguageID:   langID,
		Stdin:        base64.StdEncoding.EncodeToString([]byte(req.TestInput)),
		CPUTimeLimit: (req.TimeoutMs + 999) / 1000, // ceil to seconds
		MemoryLimit:  memoryKB,
	}
}

// submit posts one submission and returns its token.
func (a *Adapter) submit(ctx context.Context, sub submissionRequest) (string, error) {
	body, err := a.doRequest(ctx, http.MethodPost, "/submissions?base64_encoded=true&wait=false", sub)
	if err != nil {
		return "", err
	}
	var tok submissionToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decoding submission token: %w", err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("backend returned no submission token")
	}
	return tok.Token, nil
}

func (a *Adapter) submitBatch(ctx context.Context, subs []submissionRequest) ([]string, error) {
	payload := map[string]any{"submissions": subs}
	body, err := a.doRequest(ctx, http.MethodPost, "/submissions/batch?base64_encoded=true", payload)
	if err != nil {
		return nil, err
	}
	var toks []submissionToken
	if err := json.Unmarshal(body, &toks); err != nil {
		return nil, fmt.Errorf("decoding batch tokens: %w", err)
	}
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Token
	}
	return out, nil
}

// poll fetches the submission at a fixed interval until it reaches a
// terminal status. Exceeding the maximum polling time yields a timed-out
// result, not an error.
func (a *Adapter) poll(ctx context.Context, token string) (*models.ExecutionResult, error) {
	deadline := time.Now().Add(a.cfg.MaxPollingTime)
	for {
		body, err := a.doRequest(ctx, http.MethodGet,
			"/submissions/"+token+"?base64_encoded=true&fields=status,stdout,stderr,compile_output,time,memory", nil)
		if err != nil {
			return nil, err
		}
		var status submissionStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return nil, fmt.Errorf("decoding submission status: %w", err)
		}
		if status.Status.ID > statusProcessing {
			return mapResult(&status), nil
		}
		if time.Now().After(deadline) {
			return &models.ExecutionResult{
				Stderr:          "Execution timed out",
				ExitCode:        124,
				ExecutionTimeMs: a.cfg.MaxPollingTime.Milliseconds(),
				TimedOut:        true,
			}, nil
		}
		if err := a.sleep(ctx, a.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// mapResult applies the authoritative status→result mapping.
func mapResult(s *submissionStatus) *models.ExecutionResult {
	res := &models.ExecutionResult{
		Stdout:          decodeB64(s.Stdout),
		Stderr:          decodeB64(s.Stderr),
		ExecutionTimeMs: parseSeconds(s.Time),
		MemoryBytes:     int64(s.Memory) * 1024,
	}

	appendStderr := func(text string) {
		if res.Stderr != "" && text != "" {
			res.Stderr += "\n"
		}
		res.Stderr += text
	}

	switch s.Status.ID {
	case statusAccepted, statusWrongAnswer:
		res.ExitCode = 0
	case statusTimeLimit:
		res.ExitCode = 124
		res.TimedOut = true
		appendStderr("Time limit exceeded")
	case statusCompilationError:
		res.ExitCode = 1
		appendStderr("Compilation error")
		if compile := decodeB64(s.CompileOutput); compile != "" {
			appendStderr(compile)
		}
	case statusSIGSEGV:
		res.ExitCode = 139
		appendStderr("Segmentation fault (SIGSEGV)")
	case statusSIGXFSZ:
		res.ExitCode = 153
		appendStderr("Output file size limit exceeded (SIGXFSZ)")
	case statusSIGFPE:
		res.ExitCode = 136
		appendStderr("Floating point exception (SIGFPE)")
	case statusSIGABRT:
		res.ExitCode = 134
		appendStderr("Process aborted (SIGABRT)")
	case statusNZEC:
		res.ExitCode = 1
		appendStderr("Non-zero exit code")
	case statusOtherRuntime:
		res.ExitCode = 1
		appendStderr("Runtime error")
	case statusInternalError, statusExecFormatError:
		res.ExitCode = 1
		appendStderr(fmt.Sprintf("Judge error: %s", s.Status.Description))
	default:
		res.ExitCode = 1
		appendStderr(fmt.Sprintf("Unknown judge status %d (%s)", s.Status.ID, s.Status.Description))
	}
	return res
}

// doRequest performs one HTTP call with the retry policy: up to 3 retries
// with exponential backoff on 429 (1s, 2s, 4s), one retry after 1s on
// 5xx, and no retry on any other 4xx.
func (a *Adapter) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	backoff := time.Second
	retried5xx := false
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if a.cfg.APIKey != "" {
			req.Header.Set("X-Auth-Token", a.cfg.APIKey)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling judge backend: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("reading response: %w", readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= 3 {
				return nil, fmt.Errorf("judge backend rate limited after %d retries", attempt)
			}
			if err := a.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2

		case resp.StatusCode >= 500:
			if retried5xx {
				return nil, fmt.Errorf("judge backend error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			retried5xx = true
			if err := a.sleep(ctx, time.Second); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("judge backend rejected request (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}
}

// wrapCode rewrites submitted code so reads of the canonical input path
// resolve to stdin content. Required for stdin-only backends; Go sources
// pass through unchanged (they consume stdin directly).
func wrapCode(language, code string) string {
	switch language {
	case models.LanguagePython:
		return `import sys, io, builtins
__stdin_data = sys.stdin.read()
sys.stdin = io.StringIO(__stdin_data)
__orig_open = builtins.open
def __open(path, *args, **kwargs):
    if str(path) == ` + strconv.Quote(canonicalInputPath) + `:
        return io.StringIO(__stdin_data)
    return __orig_open(path, *args, **kwargs)
builtins.open = __open
` + code
	case models.LanguageJavaScript:
		return `const __fs = require('fs');
const __stdinData = __fs.readFileSync(0, 'utf8');
const __origReadFileSync = __fs.readFileSync.bind(__fs);
__fs.readFileSync = (p, ...args) =>
  (p === ` + strconv.Quote(canonicalInputPath) + ` || p === 0) ? __stdinData : __origReadFileSync(p, ...args);
` + code
	default:
		return code
	}
}

func decodeB64(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	return string(decoded)
}

func parseSeconds(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}

func failedResult(err error) *models.ExecutionResult {
	return &models.ExecutionResult{Stderr: err.Error(), ExitCode: 1}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
