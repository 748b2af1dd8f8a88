//go:build windows

package log

const colorReset = ""

// consoles get plain text
func (l logLevel) Color() string {
	return ""
}
