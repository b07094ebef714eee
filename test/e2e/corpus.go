// Package e2e runs the ingest and answer pipeline over a small handbook corpus written
// to disk in every supported format.
package e2e

import (
	"fmt"
	"strings"
)

// Document is one handbook page. Signature is a phrase that appears in no other page.
type Document struct {
	Name      string
	Title     string
	Signature string
	Content   string
}

// QueryCase is a question whose best evidence must come from Expected.
type QueryCase struct {
	Question string
	Expected string
}

// Corpus holds handbook pages and the questions asked about them.
type Corpus struct {
	Documents []Document
	Cases     []QueryCase
}

var pages = []struct {
	name, title, signature, body string
}{
	{"vacation", "Vacation Policy", "vacation days accrue monthly",
		"Full-time staff earn twenty paid days each year and unused balance carries over until March."},
	{"parental", "Parental Leave", "parental leave sixteen weeks",
		"Birth and adoptive parents receive full salary during leave and may return part-time for one month."},
	{"refunds", "Customer Refunds", "refund requests within thirty days",
		"Refunds go back to the original payment method once the returned item is inspected."},
	{"shipping", "Shipping Rates", "express shipping overnight courier",
		"Orders above fifty euros ship free by ground; remote islands add a surcharge."},
	{"expenses", "Expense Reports", "expense receipts reimbursed biweekly",
		"Meals while travelling are capped per diem and alcohol is never reimbursable."},
	{"laptops", "Laptop Refresh", "laptop replacement every three years",
		"Engineers may choose between two approved models and must wipe the old disk before returning it."},
	{"security", "Password Rules", "password rotation hardware keys",
		"Every account requires multi-factor login and shared credentials are forbidden."},
	{"oncall", "On-Call Rotation", "pager rotation weekly handoff",
		"The outgoing engineer writes a handoff note listing open incidents and silenced alerts."},
	{"incidents", "Incident Reviews", "blameless postmortem timeline",
		"Reviews are published within five business days and list follow-up owners."},
	{"hiring", "Hiring Process", "interview loop scorecard",
		"Candidates meet four interviewers and feedback is submitted before any debrief."},
	{"onboarding", "Onboarding", "onboarding buddy first week",
		"New hires get accounts on day one and ship a small change before Friday."},
	{"remote", "Remote Work", "remote stipend home office",
		"Employees working from home can claim a yearly allowance for a desk and chair."},
	{"travel", "Business Travel", "economy flights booking portal",
		"Trips longer than six hours may be booked in premium economy with manager approval."},
	{"benefits", "Health Benefits", "dental vision insurance enrollment",
		"Coverage starts on the first of the month after joining and includes dependents."},
	{"pension", "Pension Plan", "pension matching contribution",
		"The company matches up to five percent of salary and contributions vest immediately."},
	{"training", "Learning Budget", "conference tickets learning budget",
		"Each person may spend up to two thousand euros per year on courses and books."},
	{"offboarding", "Offboarding", "exit interview equipment return",
		"Departing staff hand back badges and devices on their final day."},
	{"privacy", "Customer Data", "personal data retention deletion",
		"Support tickets containing identity documents are purged after ninety days."},
	{"vendors", "Vendor Approval", "vendor contract procurement review",
		"Any purchase above ten thousand euros needs a second quote and legal sign-off."},
	{"office", "Office Access", "badge access visitor registration",
		"Guests sign in at reception and must be escorted beyond the lobby."},
}

// BuildCorpus returns one document and one question per handbook page.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for _, p := range pages {
		c.Documents = append(c.Documents, Document{
			Name:      p.name,
			Title:     p.title,
			Signature: p.signature,
			Content:   fmt.Sprintf("%s. %s. %s Remember: %s.", p.title, capitalize(p.signature), p.body, p.signature),
		})
		c.Cases = append(c.Cases, QueryCase{Question: p.signature, Expected: p.name})
	}
	return c
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
