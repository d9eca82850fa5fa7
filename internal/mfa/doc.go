// Package mfa wraps TOTP secret provisioning and code verification.
//
// Secrets are base32 strings as produced by github.com/pquerna/otp; the
// provisioning URI is the otpauth:// form authenticator apps scan.
// Backup codes live in the flows package because they need storage.
package mfa
