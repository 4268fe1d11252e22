package router

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database
	"unicode"

	"github.com/bdobrica/glitchy/internal/glitchy/chat"
	"github.com/bdobrica/glitchy/internal/glitchy/persona"
	"github.com/bdobrica/glitchy/internal/glitchy/store"
)

var (
	// "my timezone is Europe/Berlin", "set my tz to utc": always a preference,
	// so an unknown name is reported back
	timezoneRe = regexp.MustCompile(`(?i)\b(?:my\s+(?:time\s?zone|tz)\s+is|set\s+(?:my\s+)?(?:time\s?zone|tz)\s+to)\s+(\S+)`)
	// "i'm in America/New_York": only a preference when the zone resolves
	residentZoneRe = regexp.MustCompile(`(?i)\b(?:i'?m|i\s+am|i\s+live)\s+in\s+([A-Za-z]+(?:/[A-Za-z0-9_+\-]+)+|utc|gmt)\b`)
	// "use 24h time", "i prefer 12-hour", "switch to 24 hour clock"
	timeFormatRe = regexp.MustCompile(`(?i)\b(?:use|prefer|want|switch\s+to|give\s+me)\s+(?:a\s+|the\s+)?(12|24)\s*-?\s*(?:h|hr|hrs|hour)s?\b`)
)

// detectPreferences looks for timezone and clock format statements in
// message and stores them.  It reports whether anything was recognised and
// the confirmation to send.
func (r *Router) detectPreferences(ctx context.Context, ev chat.Event, message string, log *slog.Logger) (bool, string) {
	if r.deps.Prefs == nil {
		return false, ""
	}
	p := r.deps.Persona
	pref := store.Preference{Nick: strings.ToLower(ev.Nick)}
	var notices []string

	if m := timezoneRe.FindStringSubmatch(message); m != nil {
		name := strings.TrimRight(m[1], ".,!?")
		if zone, ok := canonicalZone(name); ok {
			pref.Timezone = zone
			notices = append(notices, p.Notice(persona.NoticeTimezoneSaved, map[string]string{"timezone": zone}))
		} else {
			notices = append(notices, p.Notice(persona.NoticeTimezoneUnknown, map[string]string{"timezone": name}))
		}
	} else if m := residentZoneRe.FindStringSubmatch(message); m != nil {
		if zone, ok := canonicalZone(m[1]); ok {
			pref.Timezone = zone
			notices = append(notices, p.Notice(persona.NoticeTimezoneSaved, map[string]string{"timezone": zone}))
		}
	}

	if m := timeFormatRe.FindStringSubmatch(message); m != nil {
		pref.TimeFormat = m[1] + "h"
		notices = append(notices, p.Notice(persona.NoticeTimeFormatSaved, map[string]string{"format": pref.TimeFormat}))
	}

	if len(notices) == 0 {
		return false, ""
	}
	if pref.Timezone != "" || pref.TimeFormat != "" {
		if err := r.deps.Prefs.UpsertPreference(ctx, pref); err != nil {
			log.Warn("router: failed to store preference", "err", err)
		} else {
			log.Info("router: preference stored", "timezone", pref.Timezone, "format", pref.TimeFormat)
		}
	}
	return true, strings.Join(notices, "; ")
}

// canonicalZone resolves name to an IANA zone, fixing up letter case
// ("europe/berlin" -> "Europe/Berlin").
func canonicalZone(name string) (string, bool) {
	candidates := []string{titleZone(name), name, strings.ToUpper(name)}
	for _, c := range candidates {
		if c == "" || c == "Local" {
			continue
		}
		if _, err := time.LoadLocation(c); err == nil {
			return c, true
		}
	}
	return "", false
}

func titleZone(name string) string {
	b := []rune(strings.ToLower(name))
	upper := true
	for i, r := range b {
		if upper && unicode.IsLetter(r) {
			b[i] = unicode.ToUpper(r)
		}
		upper = r == '/' || r == '_' || r == '-'
	}
	return string(b)
}

// timeReply answers a time query in the sender's zone and clock format.
func (r *Router) timeReply(ctx context.Context, ev chat.Event) string {
	var pref store.Preference
	if r.deps.Prefs != nil {
		var err error
		pref, err = r.deps.Prefs.GetPreference(ctx, ev.Nick)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.deps.Logger.Warn("router: preference lookup failed", "nick", ev.Nick, "err", err)
		}
	}

	loc := time.UTC
	if pref.Timezone != "" {
		if l, err := time.LoadLocation(pref.Timezone); err == nil {
			loc = l
		} else {
			pref.Timezone = ""
		}
	}
	now := r.cfg.Now().In(loc)

	layout := "15:04"
	if pref.TimeFormat == store.TimeFormat12h {
		layout = "3:04 PM"
	}
	vars := map[string]string{
		"time":     now.Format(layout),
		"date":     now.Format("Mon 2 Jan 2006"),
		"timezone": pref.Timezone,
	}
	if pref.Timezone == "" {
		return r.deps.Persona.Notice(persona.NoticeTimeHint, vars)
	}
	return r.deps.Persona.Notice(persona.NoticeTimeReply, vars)
}
