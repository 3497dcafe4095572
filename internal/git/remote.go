package git

import (
	"context"
	"errors"
	"fmt"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/tracker"
)

// AddRemote creates the remote, or rewrites its URL when it already exists.
func (s *Store) AddRemote(name, url string) (string, error) {
	cfg, err := s.repo.Config()
	if err != nil {
		return "", tracker.WrapStore("read config", err)
	}
	if rc, ok := cfg.Remotes[name]; ok {
		rc.URLs = []string{url}
		if err := s.repo.SetConfig(cfg); err != nil {
			return "", tracker.WrapStore("update remote "+name, err)
		}
		s.log.Debug("remote updated", zap.String("name", name), zap.String("url", url))
		return name, nil
	}
	if _, err := s.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		return "", tracker.WrapStore("create remote "+name, err)
	}
	s.log.Debug("remote created", zap.String("name", name), zap.String("url", url))
	return name, nil
}

// Push publishes branch to the named remote. An empty branch selects the
// branch HEAD points at. Credentials are taken from the provider chain in
// order; local remotes need none. With no applicable provider a single
// anonymous push is tried.
func (s *Store) Push(ctx context.Context, remoteName, branch string) error {
	if branch == "" {
		current, err := s.CurrentBranch()
		if err != nil {
			return err
		}
		branch = current
	}
	remote, err := s.repo.Remote(remoteName)
	if err != nil {
		return tracker.WrapStore("push "+remoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return tracker.WrapStore("push "+remoteName, fmt.Errorf("remote has no URL"))
	}
	ep, err := transport.NewEndpoint(urls[0])
	if err != nil {
		return tracker.WrapStore("push "+remoteName, err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	spec := config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	if err := spec.Validate(); err != nil {
		return tracker.WrapStore("push "+remoteName, err)
	}

	push := func(auth transport.AuthMethod) error {
		err := s.repo.PushContext(ctx, &gitlib.PushOptions{
			RemoteName: remoteName,
			RefSpecs:   []config.RefSpec{spec},
			Auth:       auth,
		})
		if errors.Is(err, gitlib.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	}

	if ep.Protocol == "file" {
		if err := push(nil); err != nil {
			return tracker.WrapStore("push "+remoteName, err)
		}
		return nil
	}

	var lastErr error
	attempts := 0
	for _, provider := range s.credentials {
		if !provider.Supports(ep.Protocol) {
			continue
		}
		methods, err := provider.Credentials(ep)
		if err != nil {
			s.log.Debug("credential provider failed", zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		for _, auth := range methods {
			attempts++
			s.log.Debug("pushing",
				zap.String("remote", remoteName),
				zap.String("branch", branch),
				zap.String("provider", provider.Name()),
			)
			err := push(auth)
			if err == nil {
				return nil
			}
			if !isAuthError(err) {
				return tracker.WrapStore("push "+remoteName, err)
			}
			lastErr = err
		}
	}
	if attempts == 0 {
		// Nothing to offer; the remote may not ask for any.
		s.log.Debug("pushing without credentials", zap.String("remote", remoteName), zap.String("branch", branch))
		err := push(nil)
		if err == nil {
			return nil
		}
		if !isAuthError(err) {
			return tracker.WrapStore("push "+remoteName, err)
		}
		return fmt.Errorf("push %s (%s): %w", remoteName, ep.Protocol, tracker.ErrNoCredentials)
	}
	return fmt.Errorf("push %s: %w: last attempt: %v", remoteName, tracker.ErrNoCredentials, lastErr)
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (s *Store) CurrentBranch() (string, error) {
	head, err := s.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", tracker.WrapStore("read HEAD", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", tracker.WrapStore("read HEAD", fmt.Errorf("HEAD is detached"))
	}
	return head.Target().Short(), nil
}
