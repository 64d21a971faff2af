//go:build windows

package config

// checkFilePermissions is a no-op on Windows; ACLs are not meaningfully
// expressed through file mode bits.
func checkFilePermissions(path string) string {
	return ""
}
