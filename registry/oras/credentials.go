package oras

import (
	"context"
	"fmt"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DockerStore returns a store backed by the docker config file and any
// credential helpers it names.
func DockerStore() (credentials.Store, error) {
	return credentials.NewStoreFromDocker(credentials.StoreOptions{})
}

// keychain resolves registry credentials. Static entries are keyed by host
// and checked first; stores follow in the order they were added, and the
// first non-empty credential wins.
type keychain struct {
	static map[string]auth.Credential
	stores []credentials.Store
}

func (k *keychain) addStatic(registry string, cred auth.Credential) {
	if k.static == nil {
		k.static = make(map[string]auth.Credential)
	}
	k.static[normalizeServerAddress(registry)] = cred
}

func (k *keychain) addStore(store credentials.Store) {
	if store != nil {
		k.stores = append(k.stores, store)
	}
}

func (k *keychain) empty() bool {
	return len(k.static) == 0 && len(k.stores) == 0
}

func (k *keychain) credential(ctx context.Context, hostport string) (auth.Credential, error) {
	host := normalizeServerAddress(hostport)
	if cred, ok := k.static[host]; ok {
		return cred, nil
	}
	for _, store := range k.stores {
		cred, err := store.Get(ctx, host)
		if err != nil {
			return auth.EmptyCredential, fmt.Errorf("credentials for %s: %w", host, err)
		}
		if cred != auth.EmptyCredential {
			return cred, nil
		}
	}
	return auth.EmptyCredential, nil
}

// normalizeServerAddress reduces a server address to host[:port].
func normalizeServerAddress(addr string) string {
	if _, rest, ok := strings.Cut(addr, "://"); ok {
		addr = rest
	}
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}
