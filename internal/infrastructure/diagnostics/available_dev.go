//go:build !production

package diagnostics

// Available reports whether the diagnostics server is compiled in.
const Available = true
