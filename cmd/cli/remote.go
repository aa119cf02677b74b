package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"script-executor/internal/api"
	"script-executor/internal/storage"
)

// apiError is returned for non-2xx responses.
type apiError struct {
	status int
	body   api.ErrorResponse
}

func (e *apiError) Error() string {
	if e.body.Code == "" {
		return fmt.Sprintf("server returned %d", e.status)
	}
	return fmt.Sprintf("%s (%s, HTTP %d)", e.body.Error, e.body.Code, e.status)
}

func newRequest(method, path string, query url.Values, body any) (*http.Request, error) {
	u := strings.TrimRight(serverURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out.
func do(req *http.Request, timeout time.Duration, out any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &apiError{status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&e.body)
	return e
}

func printJSON(w io.Writer, v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}

func newSubmitCmd() *cobra.Command {
	var stream, asJSON bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "submit [script]",
		Short: "Run a script on the server",
		Long: "Ask the server to run a script from one of its script roots. The path is\n" +
			"resolved on the server. The exit status is 1 when the last evaluated unit failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/runs"
			if stream {
				path = "/runs/stream"
			}
			req, err := newRequest(http.MethodPost, path, nil, api.RunRequest{Script: args[0]})
			if err != nil {
				return err
			}

			var resp api.RunResponse
			if stream {
				resp, err = readStream(cmd.OutOrStdout(), req, timeout)
			} else {
				err = do(req, timeout, &resp)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, resp); err != nil {
					return err
				}
			} else if !stream {
				fmt.Fprint(out, resp.Transcript)
			}
			if resp.LastOutcome == "failure" {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream output and outcomes as they happen")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 70*time.Second, "Request timeout")
	return cmd
}

// readStream consumes the server-sent events of a streaming run, echoing
// script output and outcome changes to w, and returns the final summary.
func readStream(w io.Writer, req *http.Request, timeout time.Duration) (api.RunResponse, error) {
	var done api.RunResponse

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return done, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return done, err
	}

	var event string
	var data []string
	finished := false

	dispatch := func() error {
		defer func() { event, data = "", nil }()
		payload := strings.Join(data, "\n")
		switch event {
		case "stdout":
			fmt.Fprint(w, payload)
		case "outcome":
			var o api.OutcomeEvent
			if err := json.Unmarshal([]byte(payload), &o); err != nil {
				return fmt.Errorf("decoding outcome event: %w", err)
			}
			line := fmt.Sprintf("[%d] %s %s: %s", o.Seq, o.Current, o.SubKind, oneLine(o.Source, 60))
			if o.Value != "" {
				line += " => " + oneLine(o.Value, 60)
			}
			fmt.Fprintln(w, line)
		case "error":
			var e api.ErrorResponse
			if err := json.Unmarshal([]byte(payload), &e); err != nil {
				return fmt.Errorf("decoding error event: %w", err)
			}
			return &apiError{status: resp.StatusCode, body: e}
		case "done":
			if err := json.Unmarshal([]byte(payload), &done); err != nil {
				return fmt.Errorf("decoding done event: %w", err)
			}
			finished = true
		}
		return nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" {
				if err := dispatch(); err != nil {
					return done, err
				}
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case line == "data:":
			data = append(data, "")
		}
	}
	if err := scanner.Err(); err != nil {
		return done, fmt.Errorf("reading stream: %w", err)
	}
	if !finished {
		return done, fmt.Errorf("stream ended before the run completed")
	}
	return done, nil
}

func newTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript [script]",
		Short: "Print the transcript of a script's last server run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := newRequest(http.MethodGet, "/runs/transcript", url.Values{"script": {args[0]}}, nil)
			if err != nil {
				return err
			}
			var resp api.TranscriptResponse
			if err := do(req, 10*time.Second, &resp); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), resp.Transcript)
			return nil
		},
	}
}

func newScriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List scripts the server holds records for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := newRequest(http.MethodGet, "/scripts", nil, nil)
			if err != nil {
				return err
			}
			var resp api.ScriptsResponse
			if err := do(req, 10*time.Second, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range resp.Scripts {
				fmt.Fprintln(out, s)
			}
			if resp.LastOutcome != "" {
				fmt.Fprintf(out, "last outcome: %s\n", resp.LastOutcome)
			}
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var script, since string
	var limit, offset int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List past runs from the server's audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if script != "" {
				q.Set("script", script)
			}
			if since != "" {
				q.Set("since", since)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			req, err := newRequest(http.MethodGet, "/audit", q, nil)
			if err != nil {
				return err
			}
			var runs []storage.RunRecord
			if err := do(req, 10*time.Second, &runs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, runs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSCRIPT\tEVENTS\tFAILURES\tLAST")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.Script, r.Events, r.Failures, r.LastOutcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "Only runs of this script")
	cmd.Flags().StringVar(&since, "since", "", "Only runs started at or after this RFC 3339 time")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := newRequest(http.MethodGet, "/health", nil, nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			// A degraded server answers 503 with the same body.
			var result api.HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Status != "ok" {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}
