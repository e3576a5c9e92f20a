//go:build production

package diagnostics

const Available = false
