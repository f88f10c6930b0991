package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/studydeck/internal/client/api"
	"github.com/atinyakov/studydeck/internal/client/credstore"
	"github.com/atinyakov/studydeck/internal/client/session"
	"github.com/atinyakov/studydeck/internal/client/transport"
	"github.com/atinyakov/studydeck/internal/config"
	"github.com/atinyakov/studydeck/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	opts       *config.ClientOptions
	jsonOutput bool

	in  io.Reader
	out io.Writer
	log *zap.Logger

	store    *credstore.Store
	provider *session.Provider
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out, log: zap.NewNop()}

	var (
		apiURL    string
		storePath string
		caFile    string
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "studydeck",
		Short: "Command-line client for StudyDeck",
		Long: `studydeck signs in to a StudyDeck server and keeps the session between runs.

Environment Variables:
  CLIENT_BASE_URL         Server URL (default: http://localhost:8080)
  CLIENT_STORE_PATH       Token file (default: <user config dir>/studydeck/auth-storage.json)
  CLIENT_STORE_SECRET     Seals the stored tokens with AES-GCM when set
  CLIENT_CA_FILE          Extra CA bundle for TLS
  CLIENT_TIMEOUT          Per-request timeout (default: 30s)
  CLIENT_REFRESH_TIMEOUT  Token refresh timeout (default: 10s)
  CLIENT_LOG_LEVEL        Diagnostics level on stderr (default: warn)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.LoadClient()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("api-url") {
				opts.BaseURL = apiURL
			}
			if flags.Changed("store") {
				opts.StorePath = storePath
			}
			if flags.Changed("ca-file") {
				opts.CAFile = caFile
			}
			if flags.Changed("log-level") {
				opts.LogLevel = logLevel
			}
			a.opts = opts
			return a.setup()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&apiURL, "api-url", "", "server URL (overrides CLIENT_BASE_URL)")
	pf.StringVar(&storePath, "store", "", "token file (overrides CLIENT_STORE_PATH)")
	pf.StringVar(&caFile, "ca-file", "", "extra CA bundle (overrides CLIENT_CA_FILE)")
	pf.StringVar(&logLevel, "log-level", "", "diagnostics level (overrides CLIENT_LOG_LEVEL)")
	pf.BoolVar(&a.jsonOutput, "json", false, "output JSON instead of human-readable text")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
	)
	return root
}

// setup wires the credential store, transport and session provider.
func (a *app) setup() error {
	lg := logger.New()
	if err := lg.InitConsole(os.Stderr, a.opts.LogLevel); err != nil {
		return err
	}
	a.log = lg.Log

	var sealer credstore.FilePersister
	if a.opts.StoreSecret != "" {
		aead, err := credstore.NewAEAD([]byte(a.opts.StoreSecret))
		if err != nil {
			return err
		}
		sealer.AEAD = aead
	}

	tokenFile := sealer
	tokenFile.Path = a.opts.StorePath
	store, err := credstore.Open(&tokenFile)
	if err != nil {
		return err
	}
	a.store = store

	cookieFile := sealer
	cookieFile.Path = cookiePath(a.opts.StorePath)
	jar, err := transport.NewPersistentJar(a.opts.BaseURL, &cookieFile, a.log)
	if err != nil {
		return err
	}

	httpClient, err := transport.NewHTTPClient(transport.HTTPOptions{
		CAFile:  a.opts.CAFile,
		Timeout: a.opts.Timeout,
		Jar:     jar,
	})
	if err != nil {
		return err
	}

	tr, err := transport.New(transport.Config{
		BaseURL:        a.opts.BaseURL,
		HTTPClient:     httpClient,
		Store:          store,
		Logger:         a.log,
		RefreshTimeout: a.opts.RefreshTimeout,
	})
	if err != nil {
		return err
	}

	a.provider = session.NewProvider(api.NewAuthAPI(tr), store, a.log)
	a.provider.Watch(tr)
	return nil
}

// cookiePath returns the refresh cookie file next to the token file.
func cookiePath(storePath string) string {
	ext := filepath.Ext(storePath)
	return strings.TrimSuffix(storePath, ext) + ".cookie" + ext
}
