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

package acmeclient

import "sync"

// ChallengeMap is the in-memory HTTP-01 path-suffix-to-key-authorization
// map shared between the ACME client (the writer, via Present/CleanUp)
// and the request pipeline (the reader, which answers
// GET /.well-known/acme-challenge/<token> directly from this map
// without routing). Populated before requesting validation; entries
// are removed once the authorization reaches a terminal state, to
// bound map size per spec.md §3.
type ChallengeMap struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewChallengeMap returns an empty ChallengeMap.
func NewChallengeMap() *ChallengeMap {
	return &ChallengeMap{m: make(map[string]string)}
}

// Put publishes keyAuth under token.
func (c *ChallengeMap) Put(token, keyAuth string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[token] = keyAuth
}

// Lookup returns the key authorization published for token, if any.
func (c *ChallengeMap) Lookup(token string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[token]
	return v, ok
}

// Remove deletes the entry for token.
func (c *ChallengeMap) Remove(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, token)
}

// httpProvider adapts ChallengeMap to lego's challenge.Provider
// interface (Present/CleanUp), so the ACME client can hand it directly
// to client.Challenge.SetHTTP01Provider.
type httpProvider struct {
	challenges *ChallengeMap
}

// Present implements challenge.Provider: it publishes the key
// authorization so the pipeline's ACME intercept can serve it.
func (p *httpProvider) Present(domain, token, keyAuth string) error {
	p.challenges.Put(token, keyAuth)
	return nil
}

// CleanUp implements challenge.Provider: it removes the entry once the
// authorization reaches a terminal state (valid or invalid).
func (p *httpProvider) CleanUp(domain, token, keyAuth string) error {
	p.challenges.Remove(token)
	return nil
}
