package epg

import (
	"github.com/savid/iptv-epg/internal/m3u"
	"github.com/sirupsen/logrus"
)

// FilterOptions configures Filter.
type FilterOptions struct {
	// Match defaults to SubstringMatch.
	Match     MatchFunc
	Generator GeneratorInfo
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

type localChannel struct {
	id     string
	baseID string
}

// Filter cuts the channel and programme elements relevant to the local
// channel set out of a remote guide document.
//
// A remote channel is kept once, on its first match against any local
// channel. A programme is kept only when its channel was kept, so the output
// never references an undeclared channel. Kept elements are copied verbatim:
// channels first, then programmes, each in document order.
func Filter(doc string, channels []m3u.Channel, opts FilterOptions) *Guide {
	match := opts.Match
	if match == nil {
		match = SubstringMatch
	}
	log := loggerOrDefault(opts.Logger)

	locals := make([]localChannel, 0, len(channels))
	for _, ch := range channels {
		base := BaseID(ch.ID)
		if base == "" {
			log.WithField("id", ch.ID).Debug("Skipping channel with empty base ID")
			continue
		}
		locals = append(locals, localChannel{id: ch.ID, baseID: base})
	}

	out := newDocument(opts.Generator)
	found := make(map[string]bool)
	matchedLocal := make(map[string]bool)
	remoteChannels := 0

	scanner := NewScanner(doc)
	for scanner.Scan() {
		block := scanner.Block()
		if block.Kind != ChannelBlock {
			continue
		}
		remoteChannels++

		if block.ID == "" || found[block.ID] {
			continue
		}

		for _, local := range locals {
			if !match(block.ID, local.baseID) {
				continue
			}

			found[block.ID] = true
			matchedLocal[local.id] = true
			out.line("  " + block.Text)

			log.WithFields(logrus.Fields{
				"remote": block.ID,
				"local":  local.id,
			}).Debug("Matched guide channel")
			break
		}
	}

	programmes := 0
	scanner = NewScanner(doc)
	for scanner.Scan() {
		block := scanner.Block()
		if block.Kind != ProgrammeBlock || !found[block.ID] {
			continue
		}
		out.line("  " + block.Text)
		programmes++
	}

	if unmatched := len(channels) - countMatched(channels, matchedLocal); unmatched > 0 {
		log.WithField("count", unmatched).Debug("Playlist channels have no guide match")
	}

	log.WithFields(logrus.Fields{
		"remote_channels":  remoteChannels,
		"matched_channels": len(found),
		"programmes":       programmes,
	}).Info("Filtered remote guide")

	return &Guide{
		Channels:   len(found),
		Programmes: programmes,
		Body:       out.close(),
	}
}

func countMatched(channels []m3u.Channel, matched map[string]bool) int {
	n := 0
	for _, ch := range channels {
		if matched[ch.ID] {
			n++
		}
	}
	return n
}

func loggerOrDefault(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
