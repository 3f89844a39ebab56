package data

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/savid/iptv-epg/config"
	"github.com/savid/iptv-epg/internal/epg"
	"github.com/savid/iptv-epg/internal/m3u"
	"github.com/sirupsen/logrus"
)

// State is a step of a generation run.
type State string

// Generation run states.
const (
	StateParsePlaylist     State = "parse_playlist"
	StateFetchGuide        State = "fetch_guide"
	StateFilterGuide       State = "filter_guide"
	StateEvaluateUsability State = "evaluate_usability"
	StateFallbackGenerate  State = "fallback_generate"
	StateWriteOutput       State = "write_output"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// Origin tells where the written guide came from.
type Origin string

// Guide origins.
const (
	OriginRemote   Origin = "remote"
	OriginFallback Origin = "fallback"
)

// GuideFetcher retrieves the first available remote guide.
type GuideFetcher interface {
	Fetch(ctx context.Context, sources []string) (*FetchResult, error)
}

// Result describes a finished generation run.
type Result struct {
	RunID      string
	States     []State
	Origin     Origin
	Source     string
	Channels   int
	Guide      *epg.Guide
	OutputPath string
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// Final returns the last state the run reached.
func (r *Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Generator runs the parse, fetch, filter, fallback and write pipeline.
type Generator struct {
	cfg     *config.Config
	fetcher GuideFetcher
	match   epg.MatchFunc
	logger  *logrus.Logger
	now     func() time.Time
}

// NewGenerator creates a generator. cfg is expected to be validated.
func NewGenerator(cfg *config.Config, fetcher GuideFetcher, logger *logrus.Logger) *Generator {
	match, ok := epg.MatchFuncByName(cfg.Match)
	if !ok {
		match = epg.SubstringMatch
	}

	return &Generator{
		cfg:     cfg,
		fetcher: fetcher,
		match:   match,
		logger:  logger,
		now:     time.Now,
	}
}

// Run performs one generation. Only a playlist that cannot be read, a
// cancelled context or a failed write return an error; every remote guide
// problem degrades to the placeholder guide.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), OutputPath: g.cfg.Output}
	log := g.logger.WithField("run_id", res.RunID)

	res.enter(StateParsePlaylist)
	log.WithField("playlist", g.cfg.Playlist).Info("Parsing channels from playlist")

	playlist, err := m3u.ParseFile(g.cfg.Playlist)
	if err != nil {
		res.enter(StateAborted)
		return res, fmt.Errorf("failed to parse playlist: %w", err)
	}
	res.Channels = len(playlist.Channels)
	log.WithField("channels", res.Channels).Info("Found channels")

	guide, err := g.remoteGuide(ctx, log, res, playlist)
	if err != nil {
		return res, err
	}

	if guide == nil {
		res.enter(StateFallbackGenerate)
		log.Info("Generating placeholder guide")
		guide = epg.Fallback(playlist.Channels, g.now(), epg.FallbackOptions{
			Days:      g.cfg.Days,
			SlotHours: g.cfg.SlotHours,
			Generator: g.generatorInfo(),
			Logger:    log,
		})
		res.Origin = OriginFallback
	}
	res.Guide = guide

	res.enter(StateWriteOutput)
	if err := WriteGuide(g.cfg.Output, guide.Body, g.cfg.OutputGzip); err != nil {
		return res, fmt.Errorf("failed to write guide: %w", err)
	}
	res.enter(StateDone)

	log.WithFields(logrus.Fields{
		"output":     g.cfg.Output,
		"origin":     res.Origin,
		"channels":   guide.Channels,
		"programmes": guide.Programmes,
	}).Info("EPG saved")

	return res, nil
}

// remoteGuide returns the filtered remote guide, or nil when the fallback
// guide should be written instead.
func (g *Generator) remoteGuide(ctx context.Context, log logrus.FieldLogger, res *Result, playlist *m3u.Playlist) (*epg.Guide, error) {
	res.enter(StateFetchGuide)

	fetched, err := g.fetcher.Fetch(ctx, g.sources(playlist))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("generation cancelled: %w", ctxErr)
	}
	if err != nil {
		log.WithError(err).Warn("No remote guide available")
		return nil, nil
	}

	res.enter(StateFilterGuide)
	guide := epg.Filter(fetched.Document, playlist.Channels, epg.FilterOptions{
		Match:     g.match,
		Generator: g.generatorInfo(),
		Logger:    log,
	})

	res.enter(StateEvaluateUsability)
	if guide.Programmes == 0 {
		log.WithField("source", fetched.Source).Warn("Remote guide has no programmes for playlist channels")
		return nil, nil
	}

	if g.cfg.ValidateOutput {
		if _, err := epg.Decode(bytes.NewReader(guide.Body)); err != nil {
			log.WithError(err).WithField("source", fetched.Source).Warn("Filtered guide is not well-formed")
			return nil, nil
		}
	}

	res.Origin = OriginRemote
	res.Source = fetched.Source
	return guide, nil
}

// sources lists configured sources followed by playlist header guides,
// without duplicates.
func (g *Generator) sources(playlist *m3u.Playlist) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(urls []string) {
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}

	add(g.cfg.Sources)
	if g.cfg.UsePlaylistSources {
		add(playlist.GuideURLs)
	}

	return out
}

func (g *Generator) generatorInfo() epg.GeneratorInfo {
	return epg.GeneratorInfo{Name: g.cfg.GeneratorName, URL: g.cfg.GeneratorURL}
}
