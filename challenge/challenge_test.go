package challenge_test

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoval/jobsift/challenge"
)

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestDetect_CleanListingPage(t *testing.T) {
	html := `<html><head><title>Jobs at Acme</title></head><body>
		<div class="job-card"><h2>Support Agent</h2></div>
	</body></html>`
	d := challenge.Detect(docFrom(t, html))
	if d.Kind != challenge.KindNone {
		t.Errorf("clean page detected as %s (%s)", d.Kind, d.Signal)
	}
}

func TestDetect_CloudflareInterstitial(t *testing.T) {
	html := `<html><head><title>Just a moment...</title></head><body>
		<p>Checking your browser before accessing jobs.example.com.</p>
	</body></html>`
	d := challenge.Detect(docFrom(t, html))
	if d.Kind != challenge.KindInterstitial {
		t.Fatalf("kind = %s, want interstitial", d.Kind)
	}
	if d.Signal == "" {
		t.Error("detection carries no signal")
	}
}

func TestDetect_CaptchaIframeBeatsInterstitialText(t *testing.T) {
	html := `<html><head><title>Just a moment...</title></head><body>
		<iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe>
	</body></html>`
	d := challenge.Detect(docFrom(t, html))
	if d.Kind != challenge.KindCaptcha {
		t.Errorf("kind = %s, want captcha (iframe outranks holding text)", d.Kind)
	}
}

func TestDetect_BlockPage(t *testing.T) {
	html := `<html><head><title>Access denied</title></head><body>
		<p>You have been blocked.</p>
	</body></html>`
	d := challenge.Detect(docFrom(t, html))
	if d.Kind != challenge.KindBlock {
		t.Errorf("kind = %s, want block", d.Kind)
	}
}

func TestDetect_ChallengeFormAction(t *testing.T) {
	html := `<html><body>
		<form action="/cdn-cgi/challenge-platform/h/g/orchestrate"><input type="hidden"></form>
	</body></html>`
	d := challenge.Detect(docFrom(t, html))
	if d.Kind != challenge.KindInterstitial {
		t.Errorf("kind = %s, want interstitial from form action", d.Kind)
	}
}

func TestDetect_PhraseList(t *testing.T) {
	cases := []struct {
		phrase string
		want   challenge.Kind
	}{
		{"unusual traffic from your network", challenge.KindInterstitial},
		{"DDoS protection by StackPath", challenge.KindInterstitial},
		{"Robot check", challenge.KindCaptcha},
		{"please complete the CAPTCHA below", challenge.KindCaptcha},
		{"You have been blocked.", challenge.KindBlock},
	}
	for _, c := range cases {
		html := "<html><head><title>Jobs</title></head><body><p>" + c.phrase + "</p></body></html>"
		d := challenge.Detect(docFrom(t, html))
		if d.Kind != c.want {
			t.Errorf("phrase %q detected as %s, want %s", c.phrase, d.Kind, c.want)
		}
	}
}

func TestMitigate(t *testing.T) {
	cases := []struct {
		kind     challenge.Kind
		headless bool
		want     challenge.Action
	}{
		{challenge.KindNone, false, challenge.ActionNone},
		{challenge.KindInterstitial, false, challenge.ActionSolveInline},
		{challenge.KindInterstitial, true, challenge.ActionRetryHeadless},
		{challenge.KindCaptcha, false, challenge.ActionQuarantine},
		{challenge.KindCaptcha, true, challenge.ActionQuarantine},
		{challenge.KindBlock, false, challenge.ActionQuarantine},
	}
	for _, c := range cases {
		got := challenge.Mitigate(challenge.Detection{Kind: c.kind}, c.headless)
		if got != c.want {
			t.Errorf("Mitigate(%s, headless=%v) = %s, want %s", c.kind, c.headless, got, c.want)
		}
	}
}

func TestSolver_Arithmetic(t *testing.T) {
	s, err := challenge.NewOttoSolver("", "https://jobs.example.com/")
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Eval("2 + 2 * 3")
	if err != nil {
		t.Fatal(err)
	}
	if result != "8" {
		t.Errorf("got %q, want 8", result)
	}
}

func TestSolver_LocationSeededFromPageURL(t *testing.T) {
	s, err := challenge.NewOttoSolver("agent/1.0", "https://jobs.example.com/listings")
	if err != nil {
		t.Fatal(err)
	}
	host, err := s.Eval("location.hostname")
	if err != nil {
		t.Fatal(err)
	}
	if host != "jobs.example.com" {
		t.Errorf("location.hostname = %q", host)
	}
	ua, err := s.Eval("navigator.userAgent")
	if err != nil {
		t.Fatal(err)
	}
	if ua != "agent/1.0" {
		t.Errorf("navigator.userAgent = %q", ua)
	}
}

func TestSolveInterstitial_CookieSeedingChallenge(t *testing.T) {
	// The classic shape: compute a token, write it to document.cookie.
	html := `<html><head><title>Just a moment...</title></head><body>
	<script>
	  var a = 12, b = 30;
	  document.cookie = "clearance=" + (a * b + location.hostname.length);
	</script>
	</body></html>`
	cookie, err := challenge.SolveInterstitial(docFrom(t, html), "https://jobs.example.com/", "")
	if err != nil {
		t.Fatal(err)
	}
	if cookie != "clearance=376" {
		t.Errorf("cookie = %q, want clearance=376", cookie)
	}
}

func TestSolveInterstitial_ToleratesBrokenSideScripts(t *testing.T) {
	html := `<html><body>
	<script src="https://challenges.cloudflare.com/turnstile/v0/api.js"></script>
	<script>window.__cf$cv$params.undefined.boom();</script>
	<script>document.cookie = "tok=ok";</script>
	</body></html>`
	cookie, err := challenge.SolveInterstitial(docFrom(t, html), "https://jobs.example.com/", "")
	if err != nil {
		t.Fatal(err)
	}
	if cookie != "tok=ok" {
		t.Errorf("cookie = %q, want tok=ok", cookie)
	}
}

func TestSolveInterstitial_NoCookieIsAnError(t *testing.T) {
	html := `<html><body><script>var x = 1;</script></body></html>`
	if _, err := challenge.SolveInterstitial(docFrom(t, html), "https://jobs.example.com/", ""); err == nil {
		t.Fatal("expected error when no cookie is seeded")
	}
}
