package tracker

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// marker trackers, never contacted
const DHT = "DHT"
const NoDHT = "no-DHT"

var ErrBadTrackerURL = errors.New("bad tracker url")

// Kind is the wire protocol a tracker speaks
type Kind int

const (
	KindUnknown Kind = iota
	KindHTTP
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindUDP:
		return "udp"
	default:
		return "unknown"
	}
}

var canonRe = regexp.MustCompile(`^(http|udp)://[a-z0-9.\-\[\]:_]+:[0-9]{1,5}(/[!-~]*)?$`)

// IsMarker returns true for the DHT and no-DHT pseudo trackers
func IsMarker(u string) bool {
	return u == DHT || u == NoDHT
}

// KindOf returns the protocol of a canonical tracker url
func KindOf(u string) Kind {
	if strings.HasPrefix(u, "http://") {
		return KindHTTP
	}
	if strings.HasPrefix(u, "udp://") {
		return KindUDP
	}
	return KindUnknown
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// CanonicalURL puts a tracker url in the form every mapping uses:
// lowercase scheme and host, explicit port, udp without path, http with
// an announce path and no trailing slash. markers pass through unchanged.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if IsMarker(raw) {
		return raw, nil
	}
	if raw == "" || !isASCII(raw) {
		return "", ErrBadTrackerURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrBadTrackerURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "udp" {
		return "", ErrBadTrackerURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrBadTrackerURL
	}
	port := u.Port()
	if port == "" {
		if scheme == "udp" {
			return "", ErrBadTrackerURL
		}
		port = "80"
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", ErrBadTrackerURL
	}
	canon := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(p))
	if scheme == "http" {
		fpath := strings.TrimRight(u.EscapedPath(), "/")
		if fpath == "" {
			fpath = "/announce"
		} else if last := fpath[strings.LastIndexByte(fpath, '/')+1:]; !strings.HasPrefix(last, "announce") {
			fpath += "/announce"
		}
		canon += fpath
		if u.RawQuery != "" {
			canon += "?" + u.RawQuery
		}
	}
	if !canonRe.MatchString(canon) {
		return "", ErrBadTrackerURL
	}
	return canon, nil
}
