//go:build !windows

package log

const colorReset = "\x1b[0m"

var levelColors = map[logLevel]string{
	debug: "\x1b[90m",
	info:  "\x1b[37;1m",
	warn:  "\x1b[33;1m",
}

func (l logLevel) Color() string {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return "\x1b[31;1m"
}
