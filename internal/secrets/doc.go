// Package secrets redacts credentials from free-text fields before they
// are persisted. The default engine runs a small regex rule set; the
// gitleaks engine runs the full gitleaks default configuration.
package secrets
