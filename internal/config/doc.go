// Package config loads the JSON configuration of the relief agent daemon and
// applies the defaults for anything the file leaves out. Secrets such as the
// signing key or the summarizer API key are referenced by environment variable
// name and never stored in the file itself.
package config
