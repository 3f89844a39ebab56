package epg

import (
	"fmt"
	"time"

	"github.com/savid/iptv-epg/internal/m3u"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDays is the placeholder schedule horizon.
	DefaultDays = 7
	// DefaultSlotHours is the length of one placeholder programme.
	DefaultSlotHours = 2
)

// FallbackOptions configures Fallback.
type FallbackOptions struct {
	Days      int
	SlotHours int
	Generator GeneratorInfo
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Fallback synthesizes a placeholder guide for channels, starting at local
// midnight of now's day in now's location. Every channel gets one
// declaration and Days*24/SlotHours programmes built from its display name.
func Fallback(channels []m3u.Channel, now time.Time, opts FallbackOptions) *Guide {
	days := opts.Days
	if days <= 0 {
		days = DefaultDays
	}
	slot := opts.SlotHours
	if slot <= 0 || 24%slot != 0 {
		slot = DefaultSlotHours
	}

	out := newDocument(opts.Generator)

	for _, ch := range channels {
		out.line(fmt.Sprintf(`  <channel id="%s">`, EscapeXML(ch.ID)))
		out.line(fmt.Sprintf(`    <display-name>%s</display-name>`, EscapeXML(ch.Name)))
		if ch.Logo != "" {
			out.line(fmt.Sprintf(`    <icon src="%s" />`, EscapeXML(ch.Logo)))
		}
		out.line("  </channel>")
	}

	out.line("")

	year, month, day := now.Date()
	loc := now.Location()
	programmes := 0

	for _, ch := range channels {
		id := EscapeXML(ch.ID)
		name := EscapeXML(ch.Name)

		for d := 0; d < days; d++ {
			for hour := 0; hour < 24; hour += slot {
				start := wallClock(year, month, day+d, hour, loc)
				stop := wallClock(year, month, day+d, hour+slot, loc)

				out.line(fmt.Sprintf(`  <programme start="%s" stop="%s" channel="%s">`,
					FormatTime(start), FormatTime(stop), id))
				out.line(fmt.Sprintf(`    <title>%s Programming</title>`, name))
				out.line(fmt.Sprintf(`    <desc>Programming on %s</desc>`, name))
				out.line("  </programme>")
				programmes++
			}
		}
	}

	loggerOrDefault(opts.Logger).WithFields(logrus.Fields{
		"channels":   len(channels),
		"programmes": programmes,
		"days":       days,
	}).Debug("Generated placeholder guide")

	return &Guide{
		Channels:   len(channels),
		Programmes: programmes,
		Body:       out.close(),
	}
}

// wallClock returns the given local hour. An hour skipped by a daylight
// saving transition moves forward by the length of the gap, so 02:00 on a
// spring-forward day reads 03:00.
func wallClock(year int, month time.Month, day, hour int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, 0, 0, 0, loc)

	want := time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if got.Before(want) {
		t = t.Add(want.Sub(got))
	}
	return t
}
