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

// Package adminauth guards the admin /metrics endpoint with HTTP Basic
// credentials compared against a bcrypt hash, the same comparison
// modules/caddyhttp/caddyauth/hashes.go's BcryptHash does for Caddy's
// own basic-auth module.
package adminauth

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Guard wraps next, requiring HTTP Basic credentials for user matching
// username and a password whose bcrypt hash matches passwordHash. If
// username or passwordHash is empty, the admin endpoint is left
// unauthenticated (the operator did not configure credentials).
func Guard(next http.Handler, username string, passwordHash []byte) http.Handler {
	if username == "" || len(passwordHash) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 || !compare(passwordHash, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="avalon-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func compare(hashed []byte, plaintext string) bool {
	err := bcrypt.CompareHashAndPassword(hashed, []byte(plaintext))
	return err == nil
}

// Hash bcrypt-hashes plaintext at the default Caddy-matching cost (14),
// for an operator generating a password_hash value to put in config.
func Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), 14)
}
