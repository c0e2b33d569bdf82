package engine

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// Persona groups strategies by the client identity they imitate.
type Persona string

const (
	PersonaDesktop   Persona = "desktop"
	PersonaMobile    Persona = "mobile"
	PersonaApp       Persona = "app"
	PersonaCookies   Persona = "cookies"
	PersonaTV        Persona = "tv"
	PersonaMusic     Persona = "music"
	PersonaIncognito Persona = "incognito"
	PersonaBasic     Persona = "basic"
	PersonaFallback  Persona = "fallback"
)

// Strategy names.
const (
	StrategyWebDesktop     = "web_desktop"
	StrategyMobileIOS      = "mobile_ios"
	StrategyAndroidApp     = "android_app"
	StrategyBrowserCookies = "browser_cookies"
	StrategyTVClient       = "tv_client"
	StrategyMusicClient    = "music_client"
	StrategyIncognito      = "incognito"
	StrategyBasic          = "basic"
	StrategyFallback       = "fallback_minimal"
)

// Header is one extra request header passed to the tool, in order.
type Header struct {
	Name  string
	Value string
}

// Strategy is one parameterized extraction attempt. Values are immutable
// once built; a fresh set is generated for every run.
type Strategy struct {
	Name               string
	Persona            Persona
	UserAgent          string
	PlayerClient       string // youtube extractor player_client, empty = tool default
	PlayerSkip         string
	Format             string
	Headers            []Header
	SocketTimeout      time.Duration
	SleepRequests      time.Duration
	GeoBypass          bool
	GeoCountry         string
	CookiesBrowser     string
	Retries            int
	NoCheckCertificate bool
	Timeout            time.Duration // hard wall clock for the subprocess
	PreDelay           time.Duration
	Fallback           bool
}

// Validate rejects strategies that cannot produce a safe argument vector.
func (s Strategy) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if s.Format == "" {
		errs = append(errs, errors.New("format is empty"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if s.SocketTimeout < 0 || s.SleepRequests < 0 || s.PreDelay < 0 || s.Retries < 0 {
		errs = append(errs, errors.New("negative duration or retry count"))
	}
	for _, h := range s.Headers {
		if h.Name == "" || strings.ContainsAny(h.Name, ":\r\n") || strings.ContainsAny(h.Value, "\r\n") {
			errs = append(errs, fmt.Errorf("bad header %q", h.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("strategy %q: %w", s.Name, err)
	}
	return nil
}

// Args builds the tool argument vector. The target always follows "--" so
// it can never be parsed as an option.
func (s Strategy) Args(target, proxy string) []string {
	args := make([]string, 0, 32)
	if s.UserAgent != "" {
		args = append(args, "--user-agent", s.UserAgent)
	}
	var extractorArgs []string
	if s.PlayerClient != "" {
		extractorArgs = append(extractorArgs, "player_client="+s.PlayerClient)
	}
	if s.PlayerSkip != "" {
		extractorArgs = append(extractorArgs, "player_skip="+s.PlayerSkip)
	}
	if len(extractorArgs) > 0 {
		args = append(args, "--extractor-args", "youtube:"+strings.Join(extractorArgs, ";"))
	}
	if s.GeoBypass || s.GeoCountry != "" {
		args = append(args, "--geo-bypass")
	}
	if s.GeoCountry != "" {
		args = append(args, "--geo-bypass-country", s.GeoCountry)
	}
	if s.CookiesBrowser != "" {
		args = append(args, "--cookies-from-browser", s.CookiesBrowser)
	}
	args = append(args,
		"-f", s.Format,
		"--no-playlist",
		"--skip-download",
		"--dump-json",
		"--no-warnings",
	)
	if s.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(s.SocketTimeout.Seconds())))
	}
	if s.SleepRequests > 0 {
		args = append(args, "--sleep-requests", strconv.FormatFloat(s.SleepRequests.Seconds(), 'f', 1, 64))
	}
	if s.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(s.Retries))
	}
	if s.NoCheckCertificate {
		args = append(args, "--no-check-certificate")
	}
	for _, h := range s.Headers {
		args = append(args, "--add-header", h.Name+": "+h.Value)
	}
	if proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	return append(args, "--", target)
}

// CatalogTimings bound the random and fixed timings of generated strategies.
type CatalogTimings struct {
	PreDelayMin time.Duration
	PreDelayMax time.Duration
}

var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 OPR/107.0.0.0",
}

const (
	defaultStrategyTimeout = 120 * time.Second
	tvStrategyTimeout      = 180 * time.Second
)

func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}

func uniformSeconds(rng *rand.Rand, lo, hi int) time.Duration {
	return time.Duration(lo+rng.IntN(hi-lo+1)) * time.Second
}

// BuildStealthStrategies generates the full persona catalog for one run.
// The fallback strategy is always last.
func BuildStealthStrategies(rng *rand.Rand, sess *SessionState, t CatalogTimings) []Strategy {
	fp := sess.Fingerprint
	baseDelay := uniform(rng, time.Second, 4*time.Second)
	preDelay := func() time.Duration { return uniform(rng, t.PreDelayMin, t.PreDelayMax) }

	mobile := "?0"
	if fp.TouchSupport {
		mobile = "?1"
	}

	return []Strategy{
		{
			Name:          StrategyWebDesktop,
			Persona:       PersonaDesktop,
			UserAgent:     pick(rng, desktopUserAgents),
			PlayerSkip:    "webpage,configs",
			Format:        "bestaudio[ext=m4a][filesize<50M]/bestaudio[ext=webm][filesize<50M]/140/251/250/bestaudio[filesize<50M]",
			SocketTimeout: uniformSeconds(rng, 45, 75),
			SleepRequests: baseDelay,
			Headers: []Header{
				{"Accept-Language", fp.AcceptLanguage},
				{"Referer", "https://www.youtube.com/"},
				{"Sec-Ch-Ua-Mobile", mobile},
				{"Sec-Ch-Ua-Platform", strconv.Quote(fp.Platform)},
				{"Sec-Ch-Viewport-Width", strconv.Itoa(fp.ScreenWidth)},
				{"X-Session-Fingerprint", fp.CanvasHash},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:          StrategyMobileIOS,
			Persona:       PersonaMobile,
			UserAgent:     "Mozilla/5.0 (iPhone; CPU iPhone OS " + pick(rng, []string{"17_2_1", "17_1_2", "16_7_4"}) + " like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
			PlayerClient:  "ios,mweb",
			GeoCountry:    pick(rng, []string{"US", "GB", "CA", "AU"}),
			Format:        "140[filesize<50M]/251[filesize<50M]/250[filesize<50M]/bestaudio[filesize<50M]",
			SocketTimeout: uniformSeconds(rng, 30, 60),
			SleepRequests: baseDelay + uniform(rng, 500*time.Millisecond, 2*time.Second),
			Retries:       2,
			Headers: []Header{
				{"X-YouTube-Client-Name", "5"},
				{"X-YouTube-Client-Version", pick(rng, []string{"17.49.4", "17.48.3", "17.47.2"})},
				{"X-Device-ID", shortHash(rng, 8)},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:    StrategyAndroidApp,
			Persona: PersonaApp,
			UserAgent: fmt.Sprintf("com.google.android.youtube/%s (Linux; U; Android %s; %s) gzip",
				pick(rng, []string{"17.49.37", "17.48.36", "17.47.34"}),
				pick(rng, []string{"14", "13", "12"}),
				pick(rng, []string{"SM-G998B", "Pixel-7", "OnePlus-9"})),
			PlayerClient:  "android",
			GeoCountry:    pick(rng, []string{"ID", "SG", "MY", "TH"}),
			Format:        "140[filesize<50M]/251[filesize<50M]/best[height<=480][filesize<50M]",
			SocketTimeout: uniformSeconds(rng, 30, 60),
			SleepRequests: baseDelay + uniform(rng, 0, 1500*time.Millisecond),
			Headers: []Header{
				{"X-YouTube-Client-Name", "3"},
				{"X-YouTube-Client-Version", pick(rng, []string{"17.49.37", "17.48.36"})},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:           StrategyBrowserCookies,
			Persona:        PersonaCookies,
			UserAgent:      pick(rng, desktopUserAgents),
			CookiesBrowser: pick(rng, []string{"chrome", "firefox", "safari", "edge"}),
			PlayerSkip:     "webpage",
			GeoCountry:     pick(rng, []string{"ID", "US", "GB"}),
			Format:         "bestaudio[ext=m4a][filesize<50M]/best[height<=480][filesize<50M]/best[filesize<50M]",
			SocketTimeout:  uniformSeconds(rng, 60, 90),
			SleepRequests:  baseDelay + uniform(rng, time.Second, 3*time.Second),
			Headers: []Header{
				{"X-Browser-Session", sessionTag(sess.ID, rng)},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:    StrategyTVClient,
			Persona: PersonaTV,
			UserAgent: fmt.Sprintf("Mozilla/5.0 (SMART-TV; Linux; Tizen %s) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/%s Chrome/76.0.3809.146 TV Safari/537.36",
				pick(rng, []string{"6.0", "5.5", "4.0"}),
				pick(rng, []string{"4.0", "3.4", "2.4"})),
			PlayerClient:  "tv_embedded",
			GeoCountry:    pick(rng, []string{"US", "GB", "DE"}),
			Format:        "140[filesize<30M]/251[filesize<30M]/worst[filesize<30M]",
			SocketTimeout: uniformSeconds(rng, 45, 75),
			Headers: []Header{
				{"X-YouTube-Client-Name", "85"},
				{"X-YouTube-Client-Version", pick(rng, []string{"2.0", "1.9", "1.8"})},
				{"X-TV-Device-ID", shortHash(rng, 12)},
			},
			Timeout:  tvStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:          StrategyMusicClient,
			Persona:       PersonaMusic,
			UserAgent:     desktopUserAgents[1],
			PlayerClient:  "web_music",
			GeoCountry:    pick(rng, []string{"US", "ID", "MY"}),
			Format:        "140[filesize<50M]/251[filesize<50M]/bestaudio[acodec^=opus]/bestaudio",
			SocketTimeout: uniformSeconds(rng, 40, 70),
			SleepRequests: baseDelay + uniform(rng, 500*time.Millisecond, 2500*time.Millisecond),
			Headers: []Header{
				{"X-YouTube-Client-Name", "67"},
				{"X-YouTube-Client-Version", "1.20231204.01.00"},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		{
			Name:               StrategyIncognito,
			Persona:            PersonaIncognito,
			UserAgent:          pick(rng, desktopUserAgents),
			GeoCountry:         pick(rng, []string{"US", "CA", "AU", "NZ"}),
			Format:             "bestaudio[ext=m4a][filesize<40M]/bestaudio[ext=webm][filesize<40M]/140/251/bestaudio",
			SocketTimeout:      uniformSeconds(rng, 35, 65),
			SleepRequests:      baseDelay + uniform(rng, time.Second, 3*time.Second),
			NoCheckCertificate: true,
			Headers: []Header{
				{"Cache-Control", "no-cache"},
				{"Pragma", "no-cache"},
				{"X-Incognito-Session", shortHash(rng, 12)},
				{"Sec-Fetch-Site", "same-origin"},
			},
			Timeout:  defaultStrategyTimeout,
			PreDelay: preDelay(),
		},
		FallbackStrategy(preDelay()),
	}
}

// FallbackStrategy is the minimal last-resort attempt.
func FallbackStrategy(preDelay time.Duration) Strategy {
	return Strategy{
		Name:               StrategyFallback,
		Persona:            PersonaFallback,
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		GeoBypass:          true,
		Format:             "worst[filesize<25M]/worstaudio[filesize<25M]",
		SocketTimeout:      25 * time.Second,
		NoCheckCertificate: true,
		Retries:            1,
		Timeout:            defaultStrategyTimeout,
		PreDelay:           preDelay,
		Fallback:           true,
	}
}

// BuildBasicStrategies is the non-stealth set: one plain attempt with the
// given user agent, then the fallback.
func BuildBasicStrategies(userAgent string) []Strategy {
	return []Strategy{
		{
			Name:          StrategyBasic,
			Persona:       PersonaBasic,
			UserAgent:     userAgent,
			Format:        "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio",
			SocketTimeout: 30 * time.Second,
			Retries:       3,
			Timeout:       defaultStrategyTimeout,
		},
		FallbackStrategy(0),
	}
}

func sessionTag(sessionID string, rng *rand.Rand) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s%d", sessionID, rng.Int64()))
	return hex.EncodeToString(sum[:])[:16]
}
