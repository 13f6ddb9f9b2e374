package main

import "time"

// Operational limits — named constants for values that would otherwise be
// scattered across multiple source files.
const (
	// defaultPort is used when the PORT env var is unset (§6).
	defaultPort = "5000"

	// defaultAdminToken is used when ADMIN_TOKEN is unset (§6). Replace in
	// production; the default exists only so the admin surface is usable
	// out of the box in development.
	defaultAdminToken = "admin1234"

	// defaultCertValidity is the lifetime of the self-signed certificate
	// generated when the server is started with -tls.
	defaultCertValidity = 90 * 24 * time.Hour

	// defaultIdleTimeout bounds how long an HTTP connection may sit idle
	// before the server closes it.
	defaultIdleTimeout = 2 * time.Minute
)
