package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentResolves bounds how many $clienthost DNS lookups run at
// once, so a clients file with hundreds of entries doesn't open
// hundreds of simultaneous resolver connections (spec.md §4.5 step 3).
const maxConcurrentResolves = 8

// resolveCacheSize bounds how many hostname->IP lookups are remembered
// across SIGHUP reloads; a clients file is reloaded wholesale on every
// reload, and most entries don't change between reloads, so repeated
// DNS lookups for the same unchanged name are wasted work.
const resolveCacheSize = 256

// AllowList is the set of peer addresses permitted to connect to the
// scheduler service port (spec.md §4.5 step 3, §6 "Config file (clients)").
type AllowList struct {
	mu    sync.Mutex
	addrs map[string]struct{}

	resolveCache *lru.Cache[string, []string]
}

// NewAllowList seeds the list with localhost, 127.0.0.1, our own host,
// and whichever of the configured primary/secondary hosts are
// non-empty, resolving all of them concurrently. It takes no separate
// server-host name for the case where failover isn't configured.
func NewAllowList(ourHost, primary, secondary string) *AllowList {
	cache, _ := lru.New[string, []string](resolveCacheSize)
	al := &AllowList{addrs: make(map[string]struct{}), resolveCache: cache}
	al.addAll([]string{"localhost", "127.0.0.1", ourHost, primary, secondary})
	return al
}

// resolve looks up host's addresses, consulting the LRU cache first so
// a clients file reloaded on every SIGHUP doesn't re-resolve every
// unchanged name.
func (al *AllowList) resolve(host string) []string {
	if al.resolveCache != nil {
		if ips, ok := al.resolveCache.Get(host); ok {
			return ips
		}
	}
	ips, _ := net.LookupHost(host)
	if al.resolveCache != nil {
		al.resolveCache.Add(host, ips)
	}
	return ips
}

// addAll resolves every non-empty host in hosts concurrently, bounded
// by maxConcurrentResolves, and merges the results into al.addrs.
func (al *AllowList) addAll(hosts []string) {
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentResolves)
	for _, h := range hosts {
		host := h
		if host == "" {
			continue
		}
		g.Go(func() error {
			al.add(host)
			return nil
		})
	}
	_ = g.Wait()
}

func (al *AllowList) add(host string) {
	if host == "" {
		return
	}
	ips := al.resolve(host)

	al.mu.Lock()
	defer al.mu.Unlock()
	al.addrs[host] = struct{}{}
	for _, ip := range ips {
		al.addrs[ip] = struct{}{}
	}
}

// Allowed reports whether addr (a dotted IP or resolvable hostname) is
// on the allow-list.
func (al *AllowList) Allowed(addr string) bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	_, ok := al.addrs[addr]
	return ok
}

// LoadFile parses a `$clienthost <name>` directive file into al,
// per spec.md §6: `#` and blank lines are ignored, unknown `$`
// directives warn and continue, and any other non-comment line is
// fatal (returns an error — the caller decides whether that's fatal
// to the process).
func (al *AllowList) LoadFile(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open clients file: %w", err)
	}
	defer f.Close()
	return al.loadReader(f, logger)
}

func (al *AllowList) loadReader(r io.Reader, logger *slog.Logger) error {
	var hosts []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "$") {
			return fmt.Errorf("config: clients file line %d: malformed directive %q", lineNo, line)
		}

		fields := strings.Fields(line)
		directive := fields[0]
		if directive != "$clienthost" {
			logger.Warn("CLIENTS_FILE_UNKNOWN_DIRECTIVE", "line", lineNo, "directive", directive)
			continue
		}
		if len(fields) < 2 {
			return fmt.Errorf("config: clients file line %d: $clienthost requires a name", lineNo)
		}
		hosts = append(hosts, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	al.addAll(hosts)
	return nil
}
