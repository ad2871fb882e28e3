// presencectl is the participant-side client. It probes the wireless
// access point the machine is attached to and drives admit, heartbeat and
// release against a presence server.
//
// Usage:
//
//	presencectl bssid
//	presencectl login --handle ada --password secret
//	presencectl admit --room R1 --photo face.png [--access-point aa:bb:..]
//	presencectl heartbeat [--every 1m]
//	presencectl release
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"presence/internal/proximity"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	server      string
	token       string
	room        string
	photo       string
	accessPoint string
	handle      string
	password    string
	every       time.Duration
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected a command: bssid, login, admit, heartbeat, release")
	}
	cmd, args := args[0], args[1:]

	var opts options
	flags := pflag.NewFlagSet("presencectl "+cmd, pflag.ContinueOnError)
	flags.StringVar(&opts.server, "server", envOr("PRESENCE_SERVER", "http://localhost:8081"), "presence server base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("PRESENCE_TOKEN"), "participant access token")
	flags.StringVar(&opts.room, "room", "", "room code to join")
	flags.StringVar(&opts.photo, "photo", "", "path to the face photo")
	flags.StringVar(&opts.accessPoint, "access-point", "", "override the probed BSSID")
	flags.StringVar(&opts.handle, "handle", "", "participant handle")
	flags.StringVar(&opts.password, "password", "", "participant password")
	flags.DurationVar(&opts.every, "every", 0, "repeat the heartbeat at this interval until interrupted")
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c := &client{base: strings.TrimRight(opts.server, "/"), token: opts.token, http: &http.Client{Timeout: 60 * time.Second}}

	switch cmd {
	case "bssid":
		bssid := proximity.Probe(ctx)
		if bssid == "" {
			return errors.New("no wireless access point detected")
		}
		fmt.Fprintln(out, bssid)
		return nil
	case "login":
		if opts.handle == "" || opts.password == "" {
			return errors.New("--handle and --password are required")
		}
		return c.login(ctx, out, opts.handle, opts.password)
	case "admit":
		if opts.room == "" || opts.photo == "" {
			return errors.New("--room and --photo are required")
		}
		ap := opts.accessPoint
		if ap == "" {
			ap = proximity.Probe(ctx)
		}
		return c.admit(ctx, out, opts.room, ap, opts.photo)
	case "heartbeat":
		if opts.every <= 0 {
			return c.simple(ctx, out, "/v1/me/heartbeat")
		}
		return c.heartbeatLoop(ctx, out, opts.every)
	case "release":
		return c.simple(ctx, out, "/v1/me/release")
	}
	return fmt.Errorf("unknown command %q", cmd)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// apiError is the server's error body.
type apiError struct {
	Status int
	Code   string `json:"error"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Detail)
}

func (c *client) login(ctx context.Context, out io.Writer, handle, password string) error {
	body, _ := json.Marshal(map[string]string{"role": "participant", "handle": handle, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	var resp struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := c.do(req, &resp); err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Tokens.AccessToken)
	return nil
}

func (c *client) admit(ctx context.Context, out io.Writer, room, accessPoint, photoPath string) error {
	photo, err := os.ReadFile(photoPath)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("room_code", room)
	w.WriteField("access_point", accessPoint)
	part, err := w.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/me/admit", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var resp json.RawMessage
	if err := c.do(req, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "admitted to %s via %s\n", room, accessPoint)
	return nil
}

func (c *client) simple(ctx context.Context, out io.Writer, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return err
	}
	var resp json.RawMessage
	if err := c.do(req, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", resp)
	return nil
}

func (c *client) heartbeatLoop(ctx context.Context, out io.Writer, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := c.simple(ctx, out, "/v1/me/heartbeat"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (c *client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	return json.Unmarshal(data, out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
