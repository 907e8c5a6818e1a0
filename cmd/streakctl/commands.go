package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/auth"
)

type Context struct {
	APIBase string
	Token   string
	Out     io.Writer
	HTTP    *http.Client
}

func usage(w io.Writer) {
	fmt.Fprint(w, `streakctl [--api-base URL] [--token T] <command> [args]

Commands:
  status [scope]                 scope streak, latest decision and worker
  evaluate                       run one controller cycle now
  override on|off [--scope S]    set the emergency override
  stop <scope>                   hold the scope and stop its worker
  resume <scope>                 clear the hold and reset a degraded worker
  gate <scope>                   ask the execution gate
  decisions [--scope S] [--limit N]
  token --subject NAME [--role operator|viewer] [--secret S]
                                 mint a token (secret env: ST_SERVER_JWT_SECRET)
`)
}

func Dispatch(ctx Context, args []string) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return errors.New("missing command")
	}
	switch args[0] {
	case "status":
		if len(args) > 1 {
			return ctx.call(http.MethodGet, "/api/v1/scopes/"+url.PathEscape(args[1]), nil)
		}
		return ctx.call(http.MethodGet, "/api/v1/scopes", nil)
	case "evaluate":
		return ctx.call(http.MethodPost, "/api/v1/controller/evaluate", nil)
	case "override":
		return overrideCmd(ctx, args[1:])
	case "stop", "resume":
		scope, err := scopeArg(args)
		if err != nil {
			return err
		}
		return ctx.call(http.MethodPost, "/api/v1/workers/"+url.PathEscape(scope)+"/"+args[0], nil)
	case "gate":
		scope, err := scopeArg(args)
		if err != nil {
			return err
		}
		return ctx.call(http.MethodGet, "/api/v1/gate/"+url.PathEscape(scope), nil)
	case "decisions":
		fs := flag.NewFlagSet("streakctl decisions", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		scope := fs.String("scope", "", "scope")
		limit := fs.Int("limit", 20, "max rows")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", fmt.Sprint(*limit))
		if strings.TrimSpace(*scope) != "" {
			q.Set("scope", strings.TrimSpace(*scope))
		}
		return ctx.call(http.MethodGet, "/api/v1/decisions?"+q.Encode(), nil)
	case "token":
		return tokenCmd(ctx, args[1:])
	case "help", "-h", "--help":
		usage(ctx.Out)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func scopeArg(args []string) (string, error) {
	if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
		return "", fmt.Errorf("%s: scope required", args[0])
	}
	return strings.TrimSpace(args[1]), nil
}

func overrideCmd(ctx Context, args []string) error {
	if len(args) == 0 {
		return errors.New("override: on|off required")
	}
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "true":
		enabled = true
	case "off", "false":
	default:
		return fmt.Errorf("override: expected on|off, got %q", args[0])
	}
	fs := flag.NewFlagSet("streakctl override", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	scope := fs.String("scope", "", "limit the override to one scope")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	return ctx.call(http.MethodPut, "/api/v1/override", map[string]any{
		"enabled": enabled,
		"scope":   strings.TrimSpace(*scope),
	})
}

func tokenCmd(ctx Context, args []string) error {
	fs := flag.NewFlagSet("streakctl token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	subject := fs.String("subject", "", "operator name")
	role := fs.String("role", auth.RoleOperator, "operator|viewer")
	secret := fs.String("secret", "", "signing secret (env: ST_SERVER_JWT_SECRET)")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := firstNonEmpty(*secret, os.Getenv("ST_SERVER_JWT_SECRET"))
	if key == "" {
		return errors.New("token: --secret or ST_SERVER_JWT_SECRET required")
	}
	if *role != auth.RoleOperator && *role != auth.RoleViewer {
		return fmt.Errorf("token: invalid role %q", *role)
	}
	token, exp, err := auth.JWT{Secret: []byte(key), TokenTTL: *ttl}.Sign(*subject, *role)
	if err != nil {
		return err
	}
	return writeJSON(ctx.Out, map[string]any{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)})
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ctx Context) call(method, path string, body any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(ctx.APIBase, "/")+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(ctx.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(ctx.Token))
	}
	hc := ctx.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, msg)
	}
	if len(env.Data) == 0 {
		return writeJSON(ctx.Out, map[string]any{"message": env.Message})
	}
	return writeJSON(ctx.Out, env.Data)
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
