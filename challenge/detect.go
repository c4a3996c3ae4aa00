// Package challenge recognises anti-bot interstitials in fetched pages and
// decides how to get past them.
//
// Detection is purely content-based: it inspects the parsed document for the
// markers challenge vendors leave behind (provider iframes, holding-page
// phrases, challenge form targets).  HTTP status classification lives with
// the fetchers; a 403 with a clean body and a 200 with a Cloudflare
// interstitial are both real cases.
package challenge

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies what is standing between us and the listing page.
type Kind int

const (
	// KindNone means the page shows no challenge markers.
	KindNone Kind = iota

	// KindInterstitial is a JavaScript holding page ("checking your
	// browser") that resolves itself once a script runs or a short wait
	// passes.
	KindInterstitial

	// KindCaptcha requires human interaction and cannot be solved here.
	KindCaptcha

	// KindBlock is an outright denial page from an anti-bot vendor.
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindInterstitial:
		return "interstitial"
	case KindCaptcha:
		return "captcha"
	case KindBlock:
		return "block"
	default:
		return "none"
	}
}

// Detection reports what was found and the signal that triggered it, for
// logging and quarantine records.
type Detection struct {
	Kind   Kind
	Signal string
}

// providerPattern matches URLs belonging to challenge and captcha vendors.
// Checked against iframe sources, form actions and script sources.
var providerPattern = regexp.MustCompile(
	`(?i)(recaptcha|hcaptcha|captcha|challenge|cloudflare|imperva|incapsula|distil|akamai|perimeterx|datadome)`)

// captchaPattern narrows a provider hit to an interactive captcha.
var captchaPattern = regexp.MustCompile(`(?i)(recaptcha|hcaptcha|captcha|turnstile)`)

// scriptPattern is stricter than providerPattern because ordinary pages load
// assets from vendor CDNs (cdnjs.cloudflare.com); a bare vendor name in a
// script source proves nothing.
var scriptPattern = regexp.MustCompile(
	`(?i)(recaptcha|hcaptcha|captcha|turnstile|challenge-platform|distil|perimeterx|datadome|imperva|incapsula)`)

// interstitialPhrases are the holding-page texts used by the common vendors.
// Matched case-insensitively against the page title and body.  The bare
// vendor names are deliberate: a listing page has no business printing
// "cloudflare" in its body, and a false positive costs one wasted
// mitigation pass, not a lost source.
var interstitialPhrases = []string{
	"just a moment",
	"checking your browser",
	"security check",
	"unusual traffic",
	"cloudflare",
	"ddos protection by",
	"one more step",
}

// captchaPhrases indicate a page that needs human interaction.
var captchaPhrases = []string{
	"prove you are human",
	"verify you are human",
	"robot check",
	"captcha",
}

// blockPhrases indicate a denial page with no path forward.
var blockPhrases = []string{
	"access denied",
	"you have been blocked",
	"request unsuccessful. incapsula incident",
}

// Detect inspects doc for challenge markers.  The checks run from most to
// least specific so a captcha iframe inside a Cloudflare interstitial is
// reported as a captcha, which is the actionable fact.
func Detect(doc *goquery.Document) Detection {
	if doc == nil {
		return Detection{Kind: KindNone}
	}

	// Vendor iframes are the strongest signal.
	if src, ok := findProviderAttr(doc, "iframe", "src"); ok {
		if captchaPattern.MatchString(src) {
			return Detection{Kind: KindCaptcha, Signal: "iframe " + src}
		}
		return Detection{Kind: KindInterstitial, Signal: "iframe " + src}
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	body := strings.ToLower(doc.Find("body").Text())

	for _, phrase := range captchaPhrases {
		if strings.Contains(title, phrase) || strings.Contains(body, phrase) {
			return Detection{Kind: KindCaptcha, Signal: "phrase " + phrase}
		}
	}
	for _, phrase := range blockPhrases {
		if strings.Contains(title, phrase) || strings.Contains(body, phrase) {
			return Detection{Kind: KindBlock, Signal: "phrase " + phrase}
		}
	}
	for _, phrase := range interstitialPhrases {
		if strings.Contains(title, phrase) || strings.Contains(body, phrase) {
			return Detection{Kind: KindInterstitial, Signal: "phrase " + phrase}
		}
	}

	// Challenge forms and scripts without any recognisable holding text.
	if action, ok := findProviderAttr(doc, "form", "action"); ok {
		return Detection{Kind: KindInterstitial, Signal: "form " + action}
	}
	if src, ok := findAttrMatching(doc, "script", "src", scriptPattern); ok {
		if captchaPattern.MatchString(src) {
			return Detection{Kind: KindCaptcha, Signal: "script " + src}
		}
		return Detection{Kind: KindInterstitial, Signal: "script " + src}
	}

	return Detection{Kind: KindNone}
}

// DetectHTML parses raw markup and runs Detect.  Parse failures count as no
// challenge; a page goquery cannot read will fail parsing anyway.
func DetectHTML(html string) Detection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detection{Kind: KindNone}
	}
	return Detect(doc)
}

func findProviderAttr(doc *goquery.Document, element, attr string) (string, bool) {
	return findAttrMatching(doc, element, attr, providerPattern)
}

func findAttrMatching(doc *goquery.Document, element, attr string, pattern *regexp.Regexp) (string, bool) {
	var hit string
	doc.Find(element).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, exists := s.Attr(attr)
		if exists && pattern.MatchString(v) {
			hit = v
			return false
		}
		return true
	})
	return hit, hit != ""
}

// Action is the mitigation the fetch path should take for a detection.
type Action int

const (
	// ActionNone: proceed with the page as-is.
	ActionNone Action = iota

	// ActionSolveInline: run the page's challenge script through the otto
	// solver and retry with the seeded cookies.  Static path only.
	ActionSolveInline

	// ActionRetryHeadless: let the browser settle and reload; headless
	// contexts usually clear interstitials on their own.
	ActionRetryHeadless

	// ActionQuarantine: stop fetching this source for the current cycle and
	// record the reason.  Captchas and hard blocks land here.
	ActionQuarantine
)

func (a Action) String() string {
	switch a {
	case ActionSolveInline:
		return "solve_inline"
	case ActionRetryHeadless:
		return "retry_headless"
	case ActionQuarantine:
		return "quarantine"
	default:
		return "none"
	}
}

// Mitigate maps a detection to the action appropriate for the fetch path
// that hit it.  headless reports whether the page came from a browser
// context.
func Mitigate(d Detection, headless bool) Action {
	switch d.Kind {
	case KindInterstitial:
		if headless {
			return ActionRetryHeadless
		}
		return ActionSolveInline
	case KindCaptcha, KindBlock:
		return ActionQuarantine
	default:
		return ActionNone
	}
}
