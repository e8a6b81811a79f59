// Package auth implements the OAuth 2.0 PKCE login flow used to bootstrap
// an account credential. A short-lived listener on 127.0.0.1 receives the
// authorization-code redirect; the result is delivered over a one-shot
// channel the flow awaits, and the listener is torn down as soon as the
// code arrives or anything fails.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
)

// listenerTimeout caps how long the flow waits for the browser redirect.
const listenerTimeout = 5 * time.Minute

// allowedOrigins may make cross-origin requests against the local
// listener; every other origin gets no CORS headers.
var allowedOrigins = []string{
	"http://localhost:3005",
	"http://127.0.0.1:3005",
	"http://dashboard.fauna.com",
	"http://dashboard.fauna-dev.com",
	"http://dashboard.fauna-preview.com",
}

// LoginOptions configures the login flow.
type LoginOptions struct {
	// NoBrowser prints the URL instead of opening a browser.
	NoBrowser bool

	// Log receives user-facing progress messages.
	Log func(msg string)
}

// Flow runs one PKCE authorization-code exchange.
type Flow struct {
	cfg    *config.Config
	client *api.Client
}

// NewFlow creates a login flow against cfg's account endpoint.
func NewFlow(cfg *config.Config, client *api.Client) *Flow {
	return &Flow{cfg: cfg, client: client}
}

// callbackResult is the one-shot outcome of the local listener.
type callbackResult struct {
	code string
	err  error
}

// Run executes the flow and returns the OAuth access token. The local
// listener is closed before Run returns, on success and on every failure
// path, releasing the bound port.
func (f *Flow) Run(ctx context.Context, opts LoginOptions) (string, error) {
	logf := opts.Log
	if logf == nil {
		logf = func(string) {}
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to start callback server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d", port)

	conf := &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"create_session"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   config.NormalizeURL(f.cfg.AccountURL) + "/api/v1/oauth/authorize",
			TokenURL:  config.NormalizeURL(f.cfg.AccountURL) + "/api/v1/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	verifier := oauth2.GenerateVerifier()
	state := generateState()
	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	resultCh := make(chan callbackResult, 1)
	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           callbackHandler(state, resultCh),
	}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	// The authorize endpoint answers with a 302 to the dashboard login
	// page; that is the URL the user actually visits.
	parsed, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	dashboardURL, err := f.client.StartOAuthRequest(ctx, parsed.Query())
	if err != nil {
		return "", err
	}

	if opts.NoBrowser {
		logf(fmt.Sprintf("To login, open this URL in your browser:\n%s", dashboardURL))
	} else if err := openBrowser(dashboardURL); err != nil {
		logf(fmt.Sprintf("Couldn't open browser automatically.\nOpen this URL in your browser:\n%s", dashboardURL))
	} else {
		logf(fmt.Sprintf("Opening browser for authentication.\nIf the browser doesn't open, visit: %s", dashboardURL))
	}
	logf("Waiting for authentication in the browser...")

	var code string
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}
		code = result.code
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(listenerTimeout):
		return "", output.ErrCommand("authentication timed out")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, cleanhttp.DefaultClient())
	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", output.ErrForbidden(fmt.Sprintf("unable to get token while authorizing: %v", err))
	}
	return token.AccessToken, nil
}

// callbackHandler serves the redirect listener. Exactly one well-formed
// redirect completes the flow; the result channel is buffered so the
// first outcome wins and later requests cannot block.
func callbackHandler(expectedState string, resultCh chan<- callbackResult) http.Handler {
	deliver := func(r callbackResult) {
		select {
		case resultCh <- r:
		default:
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method != http.MethodGet {
			deliver(callbackResult{err: output.ErrCommand("invalid request method on login callback")})
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		switch r.URL.Path {
		case "/success":
			fmt.Fprint(w, successPage)
			return
		case "/":
		default:
			deliver(callbackResult{err: output.ErrCommand("invalid redirect uri")})
			http.NotFound(w, r)
			return
		}

		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			msg := errParam
			if desc := query.Get("error_description"); desc != "" {
				msg = fmt.Sprintf("%s - %s", errParam, desc)
			}
			deliver(callbackResult{err: output.ErrCommand(fmt.Sprintf("error during authentication: %s", msg))})
			fmt.Fprint(w, failurePage)
			return
		}

		code := query.Get("code")
		if code == "" {
			deliver(callbackResult{err: output.ErrCommand("invalid authorization code received")})
			fmt.Fprint(w, failurePage)
			return
		}
		if query.Get("state") != expectedState {
			deliver(callbackResult{err: output.ErrCommand("invalid state received")})
			fmt.Fprint(w, failurePage)
			return
		}

		http.Redirect(w, r, "/success", http.StatusFound)
		deliver(callbackResult{code: code})
	})
}

const successPage = `<body>
  <h1>Success</h1>
  <p>Authentication successful. You can close this window and return to the terminal.</p>
</body>`

const failurePage = `<body>
  <h1>Authentication failed</h1>
  <p>You can close this window and return to the terminal.</p>
</body>`

func originAllowed(origin string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// generateState produces the CSRF token bound to the redirect.
func generateState() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start() //nolint:gosec,noctx // G204: cmd is hardcoded per-platform; fire-and-forget
}
