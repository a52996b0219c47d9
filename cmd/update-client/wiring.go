package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mendersoftware/mender-sub000/pkg/config"
	"github.com/mendersoftware/mender-sub000/pkg/log"
	"github.com/mendersoftware/mender-sub000/pkg/runner"
	"github.com/mendersoftware/mender-sub000/pkg/serverapi"
	"github.com/mendersoftware/mender-sub000/pkg/store"
	"github.com/mendersoftware/mender-sub000/pkg/tlsutil"
	"github.com/mendersoftware/mender-sub000/pkg/transport"
)

// env bundles the components every sub-command wires from flags + config,
// following cmd/warren's pattern of building collaborators once in a small
// helper rather than scattering flag lookups through each command body.
type env struct {
	cfg     config.Config
	dataDir string
	logger  zerolog.Logger
	store   *store.BoltStore
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		if os.IsNotExist(unwrapPathErr(err)) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	return &env{
		cfg:     cfg,
		dataDir: dataDir,
		logger:  log.WithComponent("update-client"),
		store:   s,
	}, nil
}

func unwrapPathErr(err error) error {
	if pe, ok := err.(interface{ Unwrap() error }); ok {
		return pe.Unwrap()
	}
	return err
}

// newTransport builds the authenticated transport used by both the server
// API client and the resumable downloader. Bootstrap/authentication daemon
// mechanics are explicitly out of scope (spec.md §1 Non-goals); the
// transport is built with no authenticator, so requests never carry a bearer
// token, which is sufficient for servers that authenticate purely via mTLS
// or not at all.
func (e *env) newTransport() (*transport.Transport, error) {
	return transport.New(transport.Config{
		HTTPProxy:        e.cfg.HTTPProxy,
		HTTPSProxy:       e.cfg.HTTPSProxy,
		NoProxy:          e.cfg.NoProxy,
		DisableKeepAlive: e.cfg.DisableKeepAlive,
		TLS: tlsutil.Options{
			ServerCertificate:    e.cfg.ServerCertificate,
			ClientCertificate:    e.cfg.ClientCertificate,
			ClientCertificateKey: e.cfg.ClientCertificateKey,
			SkipVerify:           e.cfg.SkipVerify,
		},
	}, nil)
}

func (e *env) newServerClient(t *transport.Transport) *serverapi.Client {
	return serverapi.New(e.cfg.ServerURL, t, log.WithComponent("serverapi"))
}

func (e *env) newModuleRunner() *runner.Runner {
	return runner.New(e.cfg.ModuleTimeout(), log.WithComponent("runner"))
}

// modulesDir is where update-module executables live, per spec.md §6's
// persistent state layout (<data-dir>/modules/v3/<name>).
func (e *env) modulesDir() string {
	return filepath.Join(e.dataDir, "modules", "v3")
}

// workDir is the per-deployment scratch directory; it is the caller's
// responsibility to create and clean it (the runner/machine only write
// inside it).
func (e *env) workDir() string {
	return filepath.Join(e.dataDir, "work")
}

// resolveModule maps a set of payload types onto the single update-module
// executable responsible for all of them (spec.md §1: the core supports
// exactly one payload per artifact), discovered by directory listing under
// modulesDir per spec.md §6.
func (e *env) resolveModule(payloadTypes []string) (string, error) {
	if len(payloadTypes) == 0 {
		return "", fmt.Errorf("artifact declares no payload types")
	}
	name := payloadTypes[0]
	for _, t := range payloadTypes[1:] {
		if t != name {
			return "", fmt.Errorf("mixed payload types in a single artifact are not supported: %q vs %q", name, t)
		}
	}

	path := filepath.Join(e.modulesDir(), name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("no update module registered for payload type %q: %w", name, err)
	}
	if info.Mode()&0111 == 0 {
		return "", fmt.Errorf("update module %q is not executable", path)
	}
	return path, nil
}

// deviceType reads <data-dir>/device_type, formatted "device_type=<value>"
// per spec.md §6.
func (e *env) deviceType() (string, error) {
	data, err := os.ReadFile(filepath.Join(e.dataDir, "device_type"))
	if err != nil {
		return "", fmt.Errorf("failed to read device_type: %w", err)
	}
	const prefix = "device_type="
	s := string(data)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", fmt.Errorf("malformed device_type file")
	}
	return s[len(prefix):], nil
}
