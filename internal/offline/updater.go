package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// VersionPath is where the origin publishes its deployment version as
// {"version": "..."}.
const VersionPath = "/version.json"

// Updater periodically asks the origin for its deployment version and
// installs a new cache generation when it changes.
type Updater struct {
	mgr        *Manager
	client     *http.Client
	prefix     string
	cronEngine *cron.Cron
	spec       string
	logger     *zap.Logger
}

// NewUpdater names generations prefix + "-" + version.
func NewUpdater(mgr *Manager, prefix, spec string, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		mgr:    mgr,
		client: mgr.client,
		prefix: prefix,
		cronEngine: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		spec:   spec,
		logger: logger,
	}
}

func (u *Updater) Start() error {
	_, err := u.cronEngine.AddFunc(u.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := u.Check(ctx); err != nil {
			u.logger.Warn("cache update check failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule update check %q: %w", u.spec, err)
	}
	u.cronEngine.Start()
	u.logger.Info("cache update checks scheduled", zap.String("spec", u.spec))
	return nil
}

// Stop waits for a running check to finish.
func (u *Updater) Stop() {
	ctx := u.cronEngine.Stop()
	<-ctx.Done()
}

// Check installs a new generation if the origin version moved. It reports
// whether one was installed.
func (u *Updater) Check(ctx context.Context) (bool, error) {
	version, err := u.Version(ctx)
	if err != nil {
		return false, err
	}
	name := u.prefix + "-" + version
	if name == u.mgr.Active() || name == u.mgr.Waiting() {
		return false, nil
	}
	if err := u.mgr.Install(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// Version reads VersionPath. An origin without one is versioned by the
// hash of its shell document.
func (u *Updater) Version(ctx context.Context) (string, error) {
	body, status, err := u.get(ctx, VersionPath)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		var v struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(body, &v); err == nil && strings.TrimSpace(v.Version) != "" {
			return strings.TrimSpace(v.Version), nil
		}
	}

	body, status, err = u.get(ctx, u.mgr.shellDoc)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("shell document: status %d", status)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:6]), nil
}

func (u *Updater) get(ctx context.Context, path string) ([]byte, int, error) {
	target := u.mgr.resolve(&url.URL{Path: path})
	e, err := u.mgr.fetch(ctx, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", path, err)
	}
	return e.Body, e.Status, nil
}
