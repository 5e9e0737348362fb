package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/gateway"
	"github.com/soyeahso/wayfarer/internal/interrupt"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running gateway",
	}

	cmd.PersistentFlags().String("url", "", "gateway base URL (default from config)")
	cmd.PersistentFlags().String("token", "", "bearer token or password (default from config)")

	cmd.AddCommand(newChatNewCmd())
	cmd.AddCommand(newChatSendCmd())
	return cmd
}

func newChatNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := chatClientFor(cmd)
			if err != nil {
				return err
			}
			id, err := c.createSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newChatSendCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send <session> <message...>",
		Short: "Send a message and print the run's events until it finishes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := chatClientFor(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			status, err := c.send(ctx, args[0], strings.Join(args[1:], " "), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if status == domain.StatusCancelled {
				return fmt.Errorf("run was cancelled by a newer message")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up waiting after this long")
	return cmd
}

// chatClientFor resolves the gateway address and credential from flags,
// falling back to the local config.
func chatClientFor(cmd *cobra.Command) (*chatClient, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	base, _ := cmd.Flags().GetString("url")
	if base == "" {
		scheme := "http"
		if cfg.Gateway.TLS.Enabled {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://127.0.0.1:%d", scheme, cfg.Gateway.Port)
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Gateway.Auth.Token
	}
	if token == "" {
		token = cfg.Gateway.Auth.Password
	}
	return newChatClient(base, token), nil
}

// chatClient speaks the gateway's HTTP and SSE surface.
type chatClient struct {
	base  string
	token string
	http  *http.Client
}

func newChatClient(base, token string) *chatClient {
	return &chatClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{},
	}
}

func (c *chatClient) request(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *chatClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return gatewayError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func gatewayError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return fmt.Errorf("gateway returned %s: %s (%s)", resp.Status, body.Error, body.Code)
}

func (c *chatClient) createSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// wireEvent is a stream event with its payload left undecoded.
type wireEvent struct {
	Kind  domain.EventKind `json:"type"`
	RunID string           `json:"runId"`
	Data  json.RawMessage  `json:"data"`
}

// send opens the session stream, submits text and prints the events of the
// resulting run until it reaches a terminal status.
func (c *chatClient) send(ctx context.Context, sessionID, text string, out io.Writer) (domain.RunStatus, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := c.request(ctx, http.MethodGet, "/chat/"+sessionID+"/stream", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", gatewayError(resp)
	}
	stream := bufio.NewReader(resp.Body)
	// The retry preamble arrives once the subscription is live, so nothing
	// published for our run can be missed.
	if _, err := stream.ReadString('\n'); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}

	var receipt interrupt.Receipt
	if err := c.do(ctx, http.MethodPost, "/chat/"+sessionID+"/message", map[string]string{"message": text}, &receipt); err != nil {
		return "", err
	}
	if receipt.Interrupted {
		fmt.Fprintf(out, "(interrupted the previous request: %s)\n", receipt.CancelOutcome)
	}

	for {
		kind, data, err := readSSE(stream)
		if err != nil {
			return "", fmt.Errorf("reading stream: %w", err)
		}
		if kind == gateway.EventDropped {
			return "", fmt.Errorf("gateway dropped the stream, rerun to resubscribe")
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.RunID != receipt.RunID {
			continue
		}
		if status, done := printEvent(out, ev); done {
			return status, nil
		}
	}
}

// printEvent writes a one-line rendering of ev and reports whether the run
// has finished.
func printEvent(out io.Writer, ev wireEvent) (domain.RunStatus, bool) {
	switch ev.Kind {
	case domain.EventStatus:
		var d domain.StatusData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(out, "[%s]\n", d.Status)
		return d.Status, d.Status.Terminal()
	case domain.EventMessage:
		var d domain.MessageData
		json.Unmarshal(ev.Data, &d)
		if d.Sender != domain.SenderUser {
			fmt.Fprintln(out, d.Text)
		}
	case domain.EventAgentStatus:
		var d domain.AgentStatusData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(out, "  %s: %s\n", d.Agent, d.Step)
	case domain.EventFlightResults:
		var d domain.FlightResultsData
		json.Unmarshal(ev.Data, &d)
		for _, f := range d.Results {
			fmt.Fprintf(out, "  flight %s %s %s->%s $%.2f\n", f.ID, f.Airline, f.Origin, f.Destination, f.Price)
		}
	case domain.EventHotelResults:
		var d domain.HotelResultsData
		json.Unmarshal(ev.Data, &d)
		for _, h := range d.Results {
			fmt.Fprintf(out, "  hotel %s %s (%s) $%.2f/night\n", h.ID, h.Name, h.City, h.PricePerNight)
		}
	case domain.EventError:
		var d domain.ErrorData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(out, "  error: %s\n", d.Message)
	case domain.EventPreferenceUpdate:
		var d domain.PreferenceData
		json.Unmarshal(ev.Data, &d)
		fmt.Fprintf(out, "  noted %s: %s\n", d.Category, d.Value)
	}
	return "", false
}

// readSSE returns the next event's name and data. Comment lines and the
// retry field are skipped.
func readSSE(r *bufio.Reader) (event, data string, err error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data, nil
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}
