package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

const (
	EnvUsername = "DOTRACK_GIT_USERNAME"
	EnvPassword = "DOTRACK_GIT_PASSWORD"
	EnvToken    = "DOTRACK_GIT_TOKEN"

	// TokenUsername is sent alongside a personal access token. Hosts
	// accepting tokens over basic auth ignore the value but require one.
	TokenUsername = "x-access-token"
)

// DefaultSSHKeyNames lists private key files tried under ~/.ssh, in order.
var DefaultSSHKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// CredentialProvider yields candidate authentication methods for an
// endpoint. Push tries providers in order and every method a provider
// returns before moving on.
type CredentialProvider interface {
	Name() string
	Supports(protocol string) bool
	Credentials(ep *transport.Endpoint) ([]transport.AuthMethod, error)
}

// DefaultCredentialProviders returns SSH keys under home, then a
// username/password pair, then a token, both read through lookup.
func DefaultCredentialProviders(home string, lookup LookupEnv) []CredentialProvider {
	return []CredentialProvider{
		SSHKeyProvider{Dir: filepath.Join(home, ".ssh"), Names: DefaultSSHKeyNames},
		EnvPasswordProvider{Lookup: lookup},
		EnvTokenProvider{Lookup: lookup},
	}
}

type SSHKeyProvider struct {
	Dir        string
	Names      []string
	Passphrase string
}

func (SSHKeyProvider) Name() string { return "ssh-key" }

func (SSHKeyProvider) Supports(protocol string) bool { return protocol == "ssh" }

func (p SSHKeyProvider) Credentials(ep *transport.Endpoint) ([]transport.AuthMethod, error) {
	user := ep.User
	if user == "" {
		user = "git"
	}
	var (
		methods []transport.AuthMethod
		errs    []error
	)
	for _, name := range p.Names {
		path := filepath.Join(p.Dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		keys, err := gitssh.NewPublicKeysFromFile(user, path, p.Passphrase)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		methods = append(methods, keys)
	}
	if len(methods) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return methods, nil
}

type EnvPasswordProvider struct {
	Lookup LookupEnv
}

func (EnvPasswordProvider) Name() string { return "env-password" }

func (EnvPasswordProvider) Supports(protocol string) bool { return isHTTP(protocol) }

func (p EnvPasswordProvider) Credentials(*transport.Endpoint) ([]transport.AuthMethod, error) {
	user, okUser := lookup(p.Lookup, EnvUsername)
	pass, okPass := lookup(p.Lookup, EnvPassword)
	if !okUser || !okPass {
		return nil, nil
	}
	return []transport.AuthMethod{&githttp.BasicAuth{Username: user, Password: pass}}, nil
}

type EnvTokenProvider struct {
	Lookup LookupEnv
}

func (EnvTokenProvider) Name() string { return "env-token" }

func (EnvTokenProvider) Supports(protocol string) bool { return isHTTP(protocol) }

func (p EnvTokenProvider) Credentials(*transport.Endpoint) ([]transport.AuthMethod, error) {
	token, ok := lookup(p.Lookup, EnvToken)
	if !ok {
		return nil, nil
	}
	return []transport.AuthMethod{&githttp.BasicAuth{Username: TokenUsername, Password: token}}, nil
}

func lookup(fn LookupEnv, key string) (string, bool) {
	if fn == nil {
		fn = os.LookupEnv
	}
	v, ok := fn(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func isHTTP(protocol string) bool {
	return protocol == "http" || protocol == "https"
}

// isAuthError reports whether a push failed because the remote rejected the
// offered credentials, in which case the next candidate is worth trying.
func isAuthError(err error) bool {
	if errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
