package fetch

import (
	"net/url"
	"strings"
)

// Platform is a known job board / applicant tracking system.
type Platform string

const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformAshby      Platform = "ashby"
	PlatformUnknown    Platform = "unknown"
)

var platformHosts = []struct {
	platform Platform
	suffixes []string
}{
	{PlatformGreenhouse, []string{"greenhouse.io"}},
	{PlatformLever, []string{"lever.co"}},
	{PlatformWorkday, []string{"workday.com", "myworkdayjobs.com"}},
	{PlatformAshby, []string{"ashbyhq.com"}},
}

// DetectPlatform identifies the job board from the URL host.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	for _, p := range platformHosts {
		for _, suffix := range p.suffixes {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return p.platform
			}
		}
	}
	return PlatformUnknown
}

// PlatformContentSelectors returns the description selectors for a platform,
// most specific first. Unknown platforms get JobPostingSelectors.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformGreenhouse:
		return []string{".job__description.body", ".job__description", "#content", ".job-post-container"}
	case PlatformLever:
		return []string{".posting-page", ".section-wrapper.page-full-width", ".posting-description", ".content"}
	case PlatformWorkday:
		return []string{"[data-automation-id='jobDescription']", ".job-description"}
	case PlatformAshby:
		return []string{".ashby-job-posting-left-pane", "._descriptionText_oj0x8_198", "main"}
	default:
		return JobPostingSelectors()
	}
}

// PlatformNoiseSelectors returns elements to strip before extraction:
// application forms, EEO disclosures, share widgets and cookie notices.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		"#application-form",
		".application-form",
		".apply-button-container",
		".eeo-statement",
		".eeo-section",
		".voluntary-disclosure",
		".legal-disclosure",
		".social-share",
		".share-buttons",
		".cookie-consent",
		".gdpr-notice",
	}

	switch platform {
	case PlatformGreenhouse:
		return append(common, ".application--wrapper", ".voluntary-self-id", "#usa_self_id_section")
	case PlatformLever:
		return append(common, ".apply-section", ".posting-apply")
	case PlatformWorkday:
		return append(common, "[data-automation-id='applyButton']")
	case PlatformAshby:
		return append(common, ".ashby-application-form-container")
	default:
		return common
	}
}
