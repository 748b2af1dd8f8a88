// Package configparser reads and writes ini style configuration files.
//
// Keys before the first section header belong to the global section whose
// name is the empty string. A section name may repeat; Sections returns
// every instance in file order.
package configparser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrSectionNotFound = errors.New("section not found")

// Configuration is an ordered list of sections
type Configuration struct {
	sections []*Section
}

// Section is an ordered set of options
type Section struct {
	name    string
	options map[string]string
	order   []string
}

func NewConfiguration() *Configuration {
	return &Configuration{}
}

func newSection(name string) *Section {
	return &Section{
		name:    name,
		options: make(map[string]string),
	}
}

// Read parses the file at fpath
func Read(fpath string) (c *Configuration, err error) {
	var f *os.File
	f, err = os.Open(fpath)
	if err != nil {
		return
	}
	defer f.Close()
	c = NewConfiguration()
	var cur *Section
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		if line[0] == '[' {
			if line[len(line)-1] != ']' {
				err = fmt.Errorf("%s:%d: bad section header", fpath, lineno)
				return
			}
			cur = c.NewSection(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		if cur == nil {
			cur = c.NewSection("")
		}
		k, v := splitOption(line)
		cur.Add(k, v)
	}
	err = sc.Err()
	return
}

func splitOption(line string) (k, v string) {
	idx := strings.IndexAny(line, "=:")
	if idx < 0 {
		return line, ""
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
}

// Save writes c to fpath
func Save(c *Configuration, fpath string) error {
	return os.WriteFile(fpath, []byte(c.String()), 0600)
}

func (c *Configuration) String() string {
	var buf bytes.Buffer
	for idx, s := range c.sections {
		if idx > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(s.String())
	}
	return buf.String()
}

// NewSection appends a new empty section
func (c *Configuration) NewSection(name string) *Section {
	s := newSection(name)
	c.sections = append(c.sections, s)
	return s
}

// Section returns the first section named name
func (c *Configuration) Section(name string) (*Section, error) {
	for _, s := range c.sections {
		if s.name == name {
			return s, nil
		}
	}
	return nil, ErrSectionNotFound
}

// Sections returns every section named name
func (c *Configuration) Sections(name string) (sects []*Section, err error) {
	for _, s := range c.sections {
		if s.name == name {
			sects = append(sects, s)
		}
	}
	if len(sects) == 0 {
		err = ErrSectionNotFound
	}
	return
}

// AllSections returns every named section
func (c *Configuration) AllSections() (sects []*Section, err error) {
	for _, s := range c.sections {
		if s.name != "" {
			sects = append(sects, s)
		}
	}
	return
}

// Find returns every section whose name matches the regular expression expr
func (c *Configuration) Find(expr string) (sects []*Section, err error) {
	var re *regexp.Regexp
	re, err = regexp.Compile(expr)
	if err == nil {
		for _, s := range c.sections {
			if re.MatchString(s.name) {
				sects = append(sects, s)
			}
		}
	}
	return
}

// Delete removes every section whose name matches expr and returns them
func (c *Configuration) Delete(expr string) (deleted []*Section, err error) {
	var re *regexp.Regexp
	re, err = regexp.Compile(expr)
	if err == nil {
		kept := c.sections[:0]
		for _, s := range c.sections {
			if re.MatchString(s.name) {
				deleted = append(deleted, s)
			} else {
				kept = append(kept, s)
			}
		}
		c.sections = kept
	}
	return
}

func (s *Section) Name() string {
	return s.name
}

// Add sets key to value and returns the previous value
func (s *Section) Add(key, value string) (old string) {
	old, ok := s.options[key]
	if !ok {
		s.order = append(s.order, key)
	}
	s.options[key] = value
	return
}

// SetValueFor is Add for an existing or new key
func (s *Section) SetValueFor(key, value string) string {
	return s.Add(key, value)
}

func (s *Section) Exists(key string) bool {
	_, ok := s.options[key]
	return ok
}

func (s *Section) ValueOf(key string) string {
	return s.options[key]
}

// Delete removes key and returns its value
func (s *Section) Delete(key string) (old string) {
	old, ok := s.options[key]
	if ok {
		delete(s.options, key)
		for idx := range s.order {
			if s.order[idx] == key {
				s.order = append(s.order[:idx], s.order[idx+1:]...)
				break
			}
		}
	}
	return
}

// Options returns a copy of all options
func (s *Section) Options() map[string]string {
	opts := make(map[string]string, len(s.options))
	for k, v := range s.options {
		opts[k] = v
	}
	return opts
}

// Get returns the value of key or fallback when key is missing
func (s *Section) Get(key, fallback string) string {
	if s == nil {
		return fallback
	}
	v, ok := s.options[key]
	if !ok {
		return fallback
	}
	return v
}

// GetInt returns the integer value of key or fallback when missing or malformed
func (s *Section) GetInt(key string, fallback int) int {
	v := s.Get(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

// GetDuration parses a duration like 15m, a plain integer is seconds
func (s *Section) GetDuration(key string, fallback time.Duration) time.Duration {
	v := s.Get(key, "")
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// GetBool returns true for 1, yes, true and on
func (s *Section) GetBool(key string, fallback bool) bool {
	switch strings.ToLower(s.Get(key, "")) {
	case "1", "yes", "true", "on":
		return true
	case "0", "no", "false", "off":
		return false
	}
	return fallback
}

func (s *Section) String() string {
	var buf bytes.Buffer
	if s.name != "" {
		fmt.Fprintf(&buf, "[%s]\n", s.name)
	}
	for _, k := range s.order {
		v := s.options[k]
		if v == "" {
			fmt.Fprintf(&buf, "%s\n", k)
		} else {
			fmt.Fprintf(&buf, "%s=%s\n", k, v)
		}
	}
	return buf.String()
}
