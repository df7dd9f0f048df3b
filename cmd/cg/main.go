// Command cg is the CLI front end for the clockguardd control API.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clockguard/clockguard/internal/config"
	"github.com/clockguard/clockguard/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "clockguard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clockguard")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{Token: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.Token == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("cached token expired")
	}
	return tf.Token, nil
}

// ---- control api client ----

type apiClient struct {
	base  string
	token string
	httpc *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("is clockguardd running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return errors.New(e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// connect returns a client authenticated against the daemon, pairing with
// the shared secret file when no valid cached token exists.
func connect(ctx context.Context, addr string) (*apiClient, error) {
	c := &apiClient{
		base:  "http://" + addr,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
	if tok, err := loadToken(); err == nil {
		c.token = tok
		return c, nil
	}

	secretPath, err := config.PairingSecretPath()
	if err != nil {
		return nil, err
	}
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("read pairing secret (has clockguardd run once?): %w", err)
	}
	var resp struct {
		Token string `json:"token"`
	}
	err = c.do(ctx, http.MethodPost, "/api/v1/auth/token",
		map[string]string{"secret": string(secret)}, &resp)
	if err != nil {
		return nil, fmt.Errorf("pairing: %w", err)
	}
	c.token = resp.Token

	// cache until the token's own expiry
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(resp.Token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	exp := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	_ = saveToken(resp.Token, exp)
	return c, nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `cg CLI
Usage:
  cg [-addr HOST:PORT] <cmd> [args]

Commands:
  version
  login      -code <oauth-code>                 (saves session in the daemon)
  logout
  status
  refresh                                       (force a full data refresh)
  jobcodes
  budget     -id <jobcode> -seconds <n|clear>
  favourite  -id <jobcode> [-off]
  theme      -set <name>
  alerts
  alert-add  -type <badge|sound_default|sound_custom|notification>
             -seconds <n> [-asset <name>] [-jobcodes <id,id,...>] [-name <label>]
  alert-rm   -id <rule-id>
  sound-add  -name <label> -file <path>
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the local daemon.
func main() {
	addr := flag.String("addr", "", "daemon address (default from config)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if *addr == "" {
		cfg, err := config.Load()
		if err != nil {
			fail(err)
		}
		*addr = cfg.ListenAddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cmd == "version" {
		fmt.Printf("cg %s (%s)\n", version, buildDate)
		return
	}

	cli, err := connect(ctx, *addr)
	if err != nil {
		fail(err)
	}

	switch cmd {

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		code := fs.String("code", "", "oauth authorization code")
		_ = fs.Parse(flag.Args()[1:])
		if *code == "" {
			fmt.Fprintln(os.Stderr, "need -code")
			os.Exit(1)
		}
		var resp map[string]int64
		if err := cli.do(ctx, http.MethodPost, "/api/v1/session/login",
			map[string]string{"code": *code}, &resp); err != nil {
			fail(err)
		}
		fmt.Printf("logged in as user %d\n", resp["user_id"])

	case "logout":
		if err := cli.do(ctx, http.MethodPost, "/api/v1/session/logout", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "status":
		var resp json.RawMessage
		if err := cli.do(ctx, http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
			fail(err)
		}
		printJSON(resp)

	case "refresh":
		if err := cli.do(ctx, http.MethodPost, "/api/v1/refresh", nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "jobcodes":
		var resp json.RawMessage
		if err := cli.do(ctx, http.MethodGet, "/api/v1/jobcodes", nil, &resp); err != nil {
			fail(err)
		}
		printJSON(resp)

	case "budget":
		fs := flag.NewFlagSet("budget", flag.ExitOnError)
		id := fs.Int64("id", 0, "jobcode id")
		seconds := fs.String("seconds", "", "budget in seconds, or 'clear'")
		_ = fs.Parse(flag.Args()[1:])
		if *id == 0 || *seconds == "" {
			fmt.Fprintln(os.Stderr, "need -id and -seconds")
			os.Exit(1)
		}
		body := map[string]*int64{"seconds": nil}
		if *seconds != "clear" {
			v, err := strconv.ParseInt(*seconds, 10, 64)
			if err != nil {
				fail(fmt.Errorf("bad -seconds: %w", err))
			}
			body["seconds"] = &v
		}
		path := fmt.Sprintf("/api/v1/jobcodes/%d/budget", *id)
		if err := cli.do(ctx, http.MethodPut, path, body, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "favourite":
		fs := flag.NewFlagSet("favourite", flag.ExitOnError)
		id := fs.Int64("id", 0, "jobcode id")
		off := fs.Bool("off", false, "remove from favourites")
		_ = fs.Parse(flag.Args()[1:])
		if *id == 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		path := fmt.Sprintf("/api/v1/jobcodes/%d/favourite", *id)
		if err := cli.do(ctx, http.MethodPut, path, map[string]bool{"favourite": !*off}, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "theme":
		fs := flag.NewFlagSet("theme", flag.ExitOnError)
		name := fs.String("set", "", "theme name")
		_ = fs.Parse(flag.Args()[1:])
		if *name == "" {
			fmt.Fprintln(os.Stderr, "need -set")
			os.Exit(1)
		}
		if err := cli.do(ctx, http.MethodPut, "/api/v1/preferences/theme",
			map[string]string{"theme": *name}, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "alerts":
		var resp json.RawMessage
		if err := cli.do(ctx, http.MethodGet, "/api/v1/alerts", nil, &resp); err != nil {
			fail(err)
		}
		printJSON(resp)

	case "alert-add":
		fs := flag.NewFlagSet("alert-add", flag.ExitOnError)
		typ := fs.String("type", "", "alert type")
		seconds := fs.Int64("seconds", -1, "threshold in remaining seconds")
		asset := fs.String("asset", "", "badge color, packaged sound name, or custom sound id")
		jobcodes := fs.String("jobcodes", "", "comma-separated jobcode ids (default: all)")
		name := fs.String("name", "", "display label")
		_ = fs.Parse(flag.Args()[1:])
		if *typ == "" || *seconds < 0 {
			fmt.Fprintln(os.Stderr, "need -type and -seconds")
			os.Exit(1)
		}
		rule := model.AlertRule{
			Type:          model.AlertType(*typ),
			TimeInSeconds: *seconds,
			Asset:         *asset,
			DisplayName:   *name,
		}
		if *jobcodes != "" {
			for _, part := range strings.Split(*jobcodes, ",") {
				v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
				if err != nil {
					fail(fmt.Errorf("bad -jobcodes: %w", err))
				}
				rule.JobcodeIDs = append(rule.JobcodeIDs, v)
			}
		}
		var created model.AlertRule
		if err := cli.do(ctx, http.MethodPost, "/api/v1/alerts", rule, &created); err != nil {
			fail(err)
		}
		fmt.Println(created.ID)

	case "alert-rm":
		fs := flag.NewFlagSet("alert-rm", flag.ExitOnError)
		id := fs.String("id", "", "rule id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		if err := cli.do(ctx, http.MethodDelete, "/api/v1/alerts/"+*id, nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "sound-add":
		fs := flag.NewFlagSet("sound-add", flag.ExitOnError)
		name := fs.String("name", "", "sound label")
		file := fs.String("file", "", "audio file path, or - for stdin")
		_ = fs.Parse(flag.Args()[1:])
		if *name == "" || *file == "" {
			fmt.Fprintln(os.Stderr, "need -name and -file")
			os.Exit(1)
		}
		var data []byte
		if *file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(*file)
		}
		if err != nil {
			fail(err)
		}
		var resp map[string]string
		err := cli.do(ctx, http.MethodPost, "/api/v1/sounds", map[string]string{
			"name": *name,
			"data": base64.StdEncoding.EncodeToString(data),
		}, &resp)
		if err != nil {
			fail(err)
		}
		fmt.Println(resp["id"])

	default:
		usage()
	}
}
