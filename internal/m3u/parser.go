// Package m3u provides parsing functionality for M3U playlist files.
package m3u

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	// ErrPlaylistUnreadable is returned when the playlist file cannot be read.
	ErrPlaylistUnreadable = errors.New("playlist file unreadable")
)

var (
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z0-9]`)
	attributeRegexes     = map[string]*regexp.Regexp{
		"tvg-id":      attributeRegex("tvg-id"),
		"tvg-logo":    attributeRegex("tvg-logo"),
		"group-title": attributeRegex("group-title"),
		"url-tvg":     attributeRegex("url-tvg"),
		"x-tvg-url":   attributeRegex("x-tvg-url"),
	}
)

const (
	extinfPrefix = "#EXTINF"
	headerPrefix = "#EXTM3U"
)

// Channel represents a single channel entry in an M3U playlist.
type Channel struct {
	ID       string
	Name     string
	Logo     string
	Group    string
	URL      string
	Original string
}

// Playlist is the parsed form of one playlist file.
type Playlist struct {
	Channels []Channel
	// GuideURLs holds the url-tvg / x-tvg-url values found in the #EXTM3U header.
	GuideURLs []string
}

// ParseFile reads and parses the playlist at path.
func ParseFile(path string) (*Playlist, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlaylistUnreadable, err)
	}

	return Parse(data)
}

// Parse extracts channel information from M3U playlist data.
//
// Entries without a display name are dropped. Identifiers are not deduplicated.
func Parse(data []byte) (*Playlist, error) {
	playlist := &Playlist{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Index of the channel still waiting for its stream URL, -1 when none.
	pending := -1

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, headerPrefix):
			playlist.GuideURLs = append(playlist.GuideURLs, headerGuideURLs(line)...)

		case strings.HasPrefix(line, extinfPrefix):
			pending = -1

			channel, ok := parseEntry(line)
			if !ok {
				continue
			}

			playlist.Channels = append(playlist.Channels, channel)
			pending = len(playlist.Channels) - 1

		default:
			trimmed := strings.TrimSpace(line)
			if pending >= 0 && trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				playlist.Channels[pending].URL = trimmed
				pending = -1
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning M3U data: %w", err)
	}

	return playlist, nil
}

func parseEntry(line string) (Channel, bool) {
	idx := strings.LastIndex(line, ",")
	if idx < 0 {
		return Channel{}, false
	}

	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return Channel{}, false
	}

	id := extractAttribute(line, "tvg-id")
	if id == "" {
		id = DeriveID(name)
	}

	return Channel{
		ID:       id,
		Name:     name,
		Logo:     extractAttribute(line, "tvg-logo"),
		Group:    extractAttribute(line, "group-title"),
		Original: line,
	}, true
}

// DeriveID builds a fallback channel identifier from a display name by
// removing every character outside [A-Za-z0-9].
func DeriveID(name string) string {
	return nonAlphanumericRegex.ReplaceAllString(name, "")
}

func headerGuideURLs(line string) []string {
	var urls []string

	for _, attr := range []string{"url-tvg", "x-tvg-url"} {
		for _, u := range strings.Split(extractAttribute(line, attr), ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
	}

	return urls
}

func extractAttribute(line, attr string) string {
	re, ok := attributeRegexes[attr]
	if !ok {
		re = attributeRegex(attr)
	}

	matches := re.FindStringSubmatch(line)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}

func attributeRegex(attr string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?:^|[\s,])%s="([^"]*)"`, regexp.QuoteMeta(attr)))
}
