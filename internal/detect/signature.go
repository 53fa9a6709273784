package detect

import "regexp"

// signature is one row of an ordered matching table. Tables are scanned top
// to bottom and the first matching row wins.
//
// RE2 has no lookahead, so rows like `bot(?!\s*\d)` carry a notFollowedBy
// guard instead: the row matches when at least one occurrence of re is not
// followed by text matching the guard.
type signature struct {
	re            *regexp.Regexp
	notFollowedBy *regexp.Regexp
	label         string
}

func sig(pattern, label string) signature {
	return signature{re: regexp.MustCompile("(?i)" + pattern), label: label}
}

func sigUnless(pattern, guard, label string) signature {
	return signature{
		re:            regexp.MustCompile("(?i)" + pattern),
		notFollowedBy: regexp.MustCompile("(?i)^(?:" + guard + ")"),
		label:         label,
	}
}

func (s signature) match(ua string) bool {
	if s.notFollowedBy == nil {
		return s.re.MatchString(ua)
	}
	for _, loc := range s.re.FindAllStringIndex(ua, -1) {
		if !s.notFollowedBy.MatchString(ua[loc[1]:]) {
			return true
		}
	}
	return false
}

func firstMatch(table []signature, ua string) (signature, bool) {
	for _, s := range table {
		if s.match(ua) {
			return s, true
		}
	}
	return signature{}, false
}

// Automation tools, grouped by family. Order is load-bearing.
var botSignatures = []signature{
	// headless browsers and automation frameworks
	sig(`headless`, "Headless Browser"),
	sig(`puppeteer`, "Puppeteer"),
	sig(`playwright`, "Playwright"),
	sig(`selenium`, "Selenium"),
	sig(`webdriver`, "WebDriver"),
	sig(`phantomjs`, "PhantomJS"),
	sig(`nightmare`, "Nightmare.js"),

	// scripting language clients
	sig(`python-requests`, "Python Requests"),
	sig(`python-urllib`, "Python urllib"),
	sig(`python`, "Python Script"),
	sig(`java/`, "Java HTTP Client"),
	sig(`node-fetch`, "Node Fetch"),
	sig(`axios`, "Axios"),
	sig(`got/`, "Got HTTP Client"),
	sig(`node\.js`, "Node.js"),
	sig(`go-http-client`, "Go HTTP Client"),
	sig(`ruby`, "Ruby Script"),
	sig(`perl`, "Perl Script"),
	sig(`php/`, "PHP Script"),

	// CLI fetchers
	sig(`curl`, "cURL"),
	sig(`wget`, "wget"),
	sig(`httpie`, "HTTPie"),
	sig(`lynx`, "Lynx"),
	sig(`libwww`, "libwww"),

	// SEO crawlers
	sig(`ahrefs`, "Ahrefs Bot"),
	sig(`semrush`, "Semrush Bot"),
	sig(`moz\s*bot`, "Moz Bot"),
	sig(`majestic`, "Majestic Bot"),
	sig(`screaming\s*frog`, "Screaming Frog"),
	sig(`sistrix`, "Sistrix Bot"),
	sig(`dotbot`, "DotBot"),
	sig(`rogerbot`, "RogerBot"),

	// generic tokens
	sigUnless(`bot`, `\s*\d`, "Generic Bot"),
	sig(`crawler`, "Crawler"),
	sig(`spider`, "Spider"),
	sig(`scraper`, "Scraper"),
	sig(`slurp`, "Yahoo Slurp"),
	sig(`archive\.org`, "Archive.org Bot"),
	sig(`ia_archiver`, "Alexa Crawler"),

	// ad-intelligence and spy tools
	sig(`adplexity`, "AdPlexity"),
	sig(`bigspy`, "BigSpy"),
	sig(`poweradspy`, "PowerAdSpy"),
	sig(`dropispy`, "Dropispy"),
	sig(`anstrex`, "Anstrex"),
	sig(`adspy`, "AdSpy Tool"),
	sig(`spyfu`, "SpyFu"),

	// ad review crawlers
	sig(`facebookexternalhit`, "Facebook External Hit"),
	sig(`facebot`, "Facebook Bot"),

	// other automation
	sig(`httrack`, "HTTrack"),
	sig(`nutch`, "Apache Nutch"),
	sig(`scrapy`, "Scrapy"),
	sig(`mechanize`, "Mechanize"),
	sig(`cfnetwork`, "CFNetwork Bot"),
	sig(`apache-httpclient`, "Apache HTTP Client"),
	sig(`okhttp`, "OkHttp"),
	sig(`restsharp`, "RestSharp"),
}

// Suspicious but not definitively automated.
var suspiciousSignatures = []signature{
	sig(`^$`, "Empty User-Agent"),
	sig(`^mozilla/5\.0$`, "Minimal Mozilla UA"),
	sig(`^mozilla/4\.0$`, "Outdated Mozilla UA"),
}

var (
	browserEngineToken = regexp.MustCompile(`(?i)chrome|firefox|safari|edge|opera|msie|trident`)
	mobileOSToken      = regexp.MustCompile(`(?i)mobile|android|iphone|ipad|ipod`)
	genericMobileToken = regexp.MustCompile(`(?i)mobile`)
)

// Social apps embed desktop tokens in their UA strings; these rows run
// before any other device table.
var inAppDeviceSignatures = []signature{
	sig(`FBAN`, "Facebook App"),
	sig(`FBAV`, "Facebook App Version"),
	sig(`Instagram`, "Instagram"),
	sig(`FB_IAB`, "Facebook In-App Browser"),
	sig(`Messenger`, "Messenger"),
	sig(`FBIOS`, "Facebook iOS"),
	sig(`Line/`, "LINE"),
	sig(`Twitter`, "Twitter"),
	sig(`LinkedInApp`, "LinkedIn"),
	sig(`Snapchat`, "Snapchat"),
	sig(`Pinterest`, "Pinterest"),
	sig(`TikTok`, "TikTok"),
	sig(`WhatsApp`, "WhatsApp"),
}

var tabletSignatures = []signature{
	sig(`ipad`, "iPad"),
	sigUnless(`android`, `.*mobile`, "Android Tablet"),
	sig(`tablet`, "Tablet"),
	sig(`kindle`, "Kindle"),
	sig(`silk`, "Silk"),
	sig(`playbook`, "PlayBook"),
	sig(`nexus 7`, "Nexus 7"),
	sig(`nexus 9`, "Nexus 9"),
	sig(`nexus 10`, "Nexus 10"),
	sig(`galaxy tab`, "Galaxy Tab"),
	sig(`sm-t\d+`, "Samsung Tablet"),
	sig(`gt-p\d+`, "Samsung Tablet (Legacy)"),
}

var mobileSignatures = []signature{
	sig(`android.*mobile`, "Android Phone"),
	sig(`iphone`, "iPhone"),
	sig(`ipod`, "iPod"),
	sig(`blackberry`, "BlackBerry"),
	sig(`windows phone`, "Windows Phone"),
	sig(`opera mini`, "Opera Mini"),
	sig(`opera mobi`, "Opera Mobile"),
	sig(`iemobile`, "IE Mobile"),
	sig(`mobile safari`, "Mobile Safari"),
	sig(`webos`, "webOS"),
	sig(`fennec`, "Fennec"),
	sig(`netfront`, "NetFront"),
	sig(`symbian`, "Symbian"),
	sig(`samsung.*mobile`, "Samsung Mobile"),
	sig(`lg.*mobile`, "LG Mobile"),
	sig(`htc.*mobile`, "HTC Mobile"),
	sig(`mot.*mobile`, "Motorola Mobile"),
	sig(`nokia`, "Nokia"),
	sig(`palm`, "Palm"),
	sig(`kindle`, "Kindle"),
	sig(`silk.*mobile`, "Silk Mobile"),
	sig(`blazer`, "Blazer"),
	sig(`bolt`, "Bolt"),
	sig(`doris`, "Doris"),
	sig(`gobrowser`, "GoBrowser"),
	sig(`iris`, "Iris"),
	sig(`maemo`, "Maemo"),
	sig(`minimo`, "Minimo"),
	sig(`mmp`, "MMP"),
	sig(`obigo`, "Obigo"),
	sig(`pocket`, "Pocket"),
	sig(`polaris`, "Polaris"),
	sig(`psp`, "PSP"),
	sig(`semc-browser`, "SEMC Browser"),
	sig(`skyfire`, "Skyfire"),
	sig(`teashark`, "TeaShark"),
	sig(`teleca`, "Teleca"),
	sig(`ucweb`, "UCWeb"),
	sig(`up\.browser`, "UP.Browser"),
	sig(`up\.link`, "UP.Link"),
	sig(`vodafone`, "Vodafone"),
	sig(`wap1\.`, "WAP 1"),
	sig(`wap2\.`, "WAP 2"),
}

var desktopSignatures = []signature{
	sig(`windows nt`, "Windows"),
	sig(`macintosh`, "Macintosh"),
	sig(`mac os x`, "macOS"),
	sigUnless(`linux`, `.*android`, "Linux"),
	sig(`cros`, "Chrome OS"),
	sig(`x11`, "X11"),
}

// Meta in-app browsers accepted as evidence of an ad click.
var originInAppSignatures = []signature{
	sig(`FBAN`, "Facebook App (Android)"),
	sig(`FBAV`, "Facebook App Version"),
	sig(`FB_IAB`, "Facebook In-App Browser"),
	sig(`FBIOS`, "Facebook iOS"),
	sig(`FBSN`, "Facebook Browser"),
	sig(`FBBV`, "Facebook Build Version"),
	sig(`FBSS`, "Facebook Browser SS"),
	sig(`Instagram`, "Instagram App"),
	sig(`Messenger`, "Messenger App"),
	sig(`FBMD`, "Messenger Device"),
	sig(`WhatsApp`, "WhatsApp"),
}
