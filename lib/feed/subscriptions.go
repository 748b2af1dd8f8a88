package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/majestrate/swarmwatch/lib/util"
)

const (
	statusActive   = "active"
	statusInactive = "inactive"
)

// Subscription is one line of subscriptions.txt
type Subscription struct {
	URL    string
	Key    string
	Active bool
}

func (s Subscription) line() string {
	status := statusInactive
	if s.Active {
		status = statusActive
	}
	if s.Key == "" {
		return fmt.Sprintf("%s %s\r\n", status, s.URL)
	}
	return fmt.Sprintf("%s %s %s\r\n", status, s.URL, s.Key)
}

// parseSubscription parses "<status> <url>[ <key>]", ok is false for
// malformed lines
func parseSubscription(line string) (s Subscription, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 || len(parts) > 3 {
		return
	}
	switch parts[0] {
	case statusActive:
		s.Active = true
	case statusInactive:
	default:
		return
	}
	s.URL = parts[1]
	if len(parts) == 3 {
		s.Key = parts[2]
	}
	ok = true
	return
}

func readSubscriptions(fpath string) (subs map[string]Subscription, err error) {
	subs = make(map[string]Subscription)
	var data []byte
	data, err = os.ReadFile(fpath)
	if os.IsNotExist(err) {
		err = nil
		return
	}
	if err != nil {
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if s, ok := parseSubscription(sc.Text()); ok {
			subs[s.URL] = s
		}
	}
	err = sc.Err()
	return
}

func writeSubscriptions(fpath string, subs map[string]Subscription) error {
	urls := make([]string, 0, len(subs))
	for u := range subs {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	var buf bytes.Buffer
	for _, u := range urls {
		buf.WriteString(subs[u].line())
	}
	return util.WriteFileAtomic(fpath, buf.Bytes())
}
