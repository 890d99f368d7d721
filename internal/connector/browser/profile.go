package browser

import "regexp"

// Step is one navigation hop inside a section. Path, when set, is resolved
// against the credential's base URL; otherwise the first matching link text is followed.
type Step struct {
	Path  string
	Links []string
}

// Section describes how to reach and read one record category.
type Section struct {
	Name      string // used in error messages, e.g. "Labs"
	DetailKey string // summary details key and importer key, e.g. "labResults"
	Steps     []Step
	// Reports, when set, selects per-report links on the section page; each
	// report is opened and its tables read. Otherwise the section page's tables are read.
	Reports *regexp.Regexp
	Rows    *regexp.Regexp // keep only rows matching
	Exclude *regexp.Regexp // drop rows matching
}

// Profile is the portal-specific data the connector runs with.
type Profile struct {
	PortalType    string
	ConnectorName string
	// AuthHost marks the authenticated area by host when the login lives on a separate SSO host.
	AuthHost    string
	AuthText    *regexp.Regexp
	Sections    []Section
	MFASteps    []string
	Remediation []string
}

var monthDay = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December) \d{1,2}`)

// CareSpace is the Flatiron-backed CareSpace portal.
func CareSpace() *Profile {
	return &Profile{
		PortalType:    "carespace",
		ConnectorName: "CareSpace Portal (Browser Automation)",
		AuthHost:      "carespaceportal.com",
		AuthText:      regexp.MustCompile(`(?i)dashboard|welcome|log ?out|sign ?out|my records|health records|\blabs\b|appointments`),
		Sections: []Section{
			{
				Name: "Labs", DetailKey: "labResults",
				Steps:   []Step{{Links: []string{"Labs"}}, {Links: []string{"Lab Reports"}}},
				Reports: monthDay,
			},
			{
				Name: "Imaging", DetailKey: "imagingReports",
				Steps: []Step{{Links: []string{"Resources"}}},
				Rows:  regexp.MustCompile(`(?i)imaging|radiology|scan|\bCT\b|MRI|PET|X-ray`),
			},
			{
				Name: "Pathology", DetailKey: "pathologyReports",
				Steps: []Step{{Links: []string{"Health"}}},
				Rows:  regexp.MustCompile(`(?i)pathology|biopsy|tissue`),
			},
			{
				Name: "Clinical notes", DetailKey: "clinicalNotes",
				Steps:   []Step{{Links: []string{"Health"}}},
				Rows:    regexp.MustCompile(`(?i)note|report|summary|consult`),
				Exclude: regexp.MustCompile(`(?i)nurse note|nursing`),
			},
			{
				Name: "Medications", DetailKey: "medications",
				Steps: []Step{{Links: []string{"Health"}}, {Links: []string{"Medications", "Active Medications", "Prescriptions"}}},
				Rows:  regexp.MustCompile(`(?i)\w`),
			},
		},
		MFASteps: []string{
			"CareSpace requires MFA code",
			"Option 1: Enter TOTP secret in credential settings",
			"Option 2: Complete MFA manually, then re-sync",
		},
		Remediation: []string{
			"Check that portal URL is correct",
			"Verify credentials are still valid",
			"Portal layout may have changed (need manual inspection)",
			"Check server logs for detailed error",
		},
	}
}

// Generic covers portals without a dedicated profile.
func Generic() *Profile {
	return &Profile{
		PortalType:    "generic",
		ConnectorName: "Generic Portal (Browser Automation)",
		Sections: []Section{
			{Name: "Labs", DetailKey: "labResults", Steps: []Step{{Links: []string{"Lab Results", "Test Results", "Labs", "Results"}}}},
			{Name: "Imaging", DetailKey: "imagingReports", Steps: []Step{{Links: []string{"Imaging", "Radiology"}}}},
			{Name: "Pathology", DetailKey: "pathologyReports", Steps: []Step{{Links: []string{"Pathology"}}}},
			{
				Name: "Clinical notes", DetailKey: "clinicalNotes",
				Steps:   []Step{{Links: []string{"Visit Notes", "Clinical Notes", "Documents", "Notes"}}},
				Exclude: regexp.MustCompile(`(?i)nurse note|nursing`),
			},
			{Name: "Medications", DetailKey: "medications", Steps: []Step{{Links: []string{"Medications", "Prescriptions"}}}},
		},
		MFASteps: []string{
			"The portal requires a second factor",
			"Complete MFA manually in a browser, then re-sync",
		},
		Remediation: []string{
			"Check that portal URL is correct",
			"Verify credentials are still valid",
			"Check server logs for detailed error",
		},
	}
}

// SectionKeys lists every details key the built-in profiles report.
func SectionKeys() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range []*Profile{CareSpace(), Generic()} {
		for _, s := range p.Sections {
			if !seen[s.DetailKey] {
				seen[s.DetailKey] = true
				out = append(out, s.DetailKey)
			}
		}
	}
	return out
}
