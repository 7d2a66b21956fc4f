// Copyright 2015 The Avalon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package certstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNotExist is returned when a domain or account is not present in
// the store.
var ErrNotExist = errors.New("certstore: not found")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// sanitize replaces any character outside [A-Za-z0-9.-] with an
// underscore, so a domain name can never escape the certs directory.
func sanitize(domain string) string {
	return unsafeChars.ReplaceAllString(domain, "_")
}

// Store is a durable, file-backed certificate and account store. A
// Store owns exactly one base directory; concurrent readers are safe,
// and writes to a given domain are serialized by the filesystem rename
// itself (no in-process lock is required beyond that).
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir, creating the certs/ and
// accounts/ subdirectories if they do not already exist.
func New(baseDir string) (*Store, error) {
	s := &Store{baseDir: baseDir}
	for _, sub := range []string{"certs", "accounts"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("certstore: creating %s directory: %w", sub, err)
		}
	}
	return s, nil
}

func (s *Store) certMetaPath(domain string) string {
	return filepath.Join(s.baseDir, "certs", sanitize(domain)+".json")
}

func (s *Store) certChainPath(domain string) string {
	return filepath.Join(s.baseDir, "certs", sanitize(domain)+".crt")
}

func (s *Store) certKeyPath(domain string) string {
	return filepath.Join(s.baseDir, "certs", sanitize(domain)+".key")
}

func (s *Store) accountPath(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return filepath.Join(s.baseDir, "accounts", hex.EncodeToString(sum[:])+".json")
}

// writeAtomic writes data to path by first writing a sibling temp file
// and renaming it into place, so a crash mid-write never leaves a
// truncated or corrupt file behind. mode is applied to the temp file
// before the rename so the final file inherits the same permissions.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Put persists bundle, replacing any existing entry for the same
// domain. It writes the JSON metadata file plus sibling .crt/.key PEM
// files for consumers that expect bare PEM on disk.
func (s *Store) Put(bundle *Bundle) error {
	blob, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("certstore: marshaling bundle for %s: %w", bundle.Domain, err)
	}
	if err := writeAtomic(s.certMetaPath(bundle.Domain), blob, 0o600); err != nil {
		return fmt.Errorf("certstore: writing metadata for %s: %w", bundle.Domain, err)
	}
	if err := writeAtomic(s.certChainPath(bundle.Domain), []byte(bundle.CertChainPEM), 0o644); err != nil {
		return fmt.Errorf("certstore: writing chain for %s: %w", bundle.Domain, err)
	}
	if err := writeAtomic(s.certKeyPath(bundle.Domain), []byte(bundle.PrivateKeyPEM), 0o600); err != nil {
		return fmt.Errorf("certstore: writing key for %s: %w", bundle.Domain, err)
	}
	return nil
}

// Get loads the bundle for domain. An expired bundle is deleted and
// ErrNotExist is returned instead of the stale data.
func (s *Store) Get(domain string) (*Bundle, error) {
	blob, err := os.ReadFile(s.certMetaPath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("certstore: reading metadata for %s: %w", domain, err)
	}
	var bundle Bundle
	if err := json.Unmarshal(blob, &bundle); err != nil {
		return nil, fmt.Errorf("certstore: decoding metadata for %s: %w", domain, err)
	}
	if !bundle.Valid(time.Now()) {
		_ = s.Delete(domain)
		return nil, ErrNotExist
	}
	return &bundle, nil
}

// WritePEMPair returns the paths to the .crt and .key files for domain,
// for external consumers (e.g. other services sharing the same
// storage_path) that want bare PEM rather than the JSON bundle.
func (s *Store) WritePEMPair(bundle *Bundle) (certPath, keyPath string, err error) {
	if err := s.Put(bundle); err != nil {
		return "", "", err
	}
	return s.certChainPath(bundle.Domain), s.certKeyPath(bundle.Domain), nil
}

// Delete removes the bundle for domain from disk, including its PEM
// siblings. Missing files are not an error.
func (s *Store) Delete(domain string) error {
	for _, p := range []string{s.certMetaPath(domain), s.certChainPath(domain), s.certKeyPath(domain)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("certstore: deleting %s: %w", p, err)
		}
	}
	return nil
}

// List returns the domains currently present in the store, sorted for
// deterministic iteration (e.g. by the renewal scheduler).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "certs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("certstore: listing certs: %w", err)
	}
	var domains []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(domains)
	return domains, nil
}

// PutAccount persists acc, keyed by its contact email.
func (s *Store) PutAccount(acc *Account) error {
	blob, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return fmt.Errorf("certstore: marshaling account for %s: %w", acc.ContactEmail, err)
	}
	if err := writeAtomic(s.accountPath(acc.ContactEmail), blob, 0o600); err != nil {
		return fmt.Errorf("certstore: writing account for %s: %w", acc.ContactEmail, err)
	}
	return nil
}

// GetAccount loads the account registered for email, if any.
func (s *Store) GetAccount(email string) (*Account, error) {
	blob, err := os.ReadFile(s.accountPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("certstore: reading account for %s: %w", email, err)
	}
	var acc Account
	if err := json.Unmarshal(blob, &acc); err != nil {
		return nil, fmt.Errorf("certstore: decoding account for %s: %w", email, err)
	}
	return &acc, nil
}
