package engine

import (
	"crypto/sha256"
	"encoding/binary"
)

// Session thresholds that switch the preferred persona group.
const (
	highDetectionThreshold = 2
	highVolumeThreshold    = 30
)

var (
	highDetectionOrder = []string{StrategyMobileIOS, StrategyAndroidApp, StrategyTVClient, StrategyIncognito}
	highVolumeOrder    = []string{StrategyBrowserCookies, StrategyWebDesktop, StrategyMusicClient, StrategyIncognito}
	urlPreferenceOrder = [3][]string{
		{StrategyWebDesktop, StrategyMusicClient},
		{StrategyMobileIOS, StrategyAndroidApp},
		{StrategyBrowserCookies, StrategyTVClient},
	}
)

// urlPreference maps a URL onto one of three preference groups. The result is
// stable for a given URL.
func urlPreference(target string) int {
	sum := sha256.Sum256([]byte(target))
	return int(binary.BigEndian.Uint64(sum[:8]) % 3)
}

// SelectStrategies orders a catalog for one run:
//  1. strategies in the failed set are dropped; if nothing but fallbacks
//     would remain, the failed set is cleared and all are kept;
//  2. a preference group chosen from the session state (or the URL hash)
//     goes first, the rest keep catalog order;
//  3. fallback strategies always come last, failed or not.
//
// It may clear sess.Failed and reports whether it did.
func SelectStrategies(all []Strategy, sess *SessionState, target string) (ordered []Strategy, reset bool) {
	var regular, fallback []Strategy
	for _, s := range all {
		if s.Fallback {
			fallback = append(fallback, s)
			continue
		}
		if !sess.IsFailed(s.Name) {
			regular = append(regular, s)
		}
	}
	if len(regular) == 0 {
		sess.ClearFailed()
		reset = true
		for _, s := range all {
			if !s.Fallback {
				regular = append(regular, s)
			}
		}
	}

	var prefer []string
	switch {
	case sess.BotDetections > highDetectionThreshold:
		prefer = highDetectionOrder
	case sess.Requests > highVolumeThreshold:
		prefer = highVolumeOrder
	default:
		prefer = urlPreferenceOrder[urlPreference(target)]
	}

	ordered = make([]Strategy, 0, len(regular)+len(fallback))
	used := make(map[string]bool, len(regular))
	for _, name := range prefer {
		for _, s := range regular {
			if s.Name == name && !used[name] {
				ordered = append(ordered, s)
				used[name] = true
			}
		}
	}
	for _, s := range regular {
		if !used[s.Name] {
			ordered = append(ordered, s)
			used[s.Name] = true
		}
	}
	return append(ordered, fallback...), reset
}
