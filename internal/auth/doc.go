// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential verification for credgate.
//
// # Domain Types
//
//   - Identity - the result of a successful login, built with NewIdentity
//   - Credential - a stored username/password-hash record
//   - IdentityRegistry - in-memory identities for the session layer
//
// # Services
//
//   - PBKDF2Hasher - salted PBKDF2-HMAC-SHA256 hashing and constant-time verification
//   - CredentialStore - sign-up and login against the local credential table
//   - Gateway - tries each Authenticator in order, local store first by default
//
// Login failures are uniform: callers only ever see ErrInvalidCredentials.
// Sign-up failures are specific (ErrAlreadyExists vs ErrStorageUnavailable).
package auth
