// Package e2e provides end-to-end tests with a document corpus and question
// test cases covering the full upload-to-answer flow.
package e2e

import (
	"fmt"
	"strings"
)

// CorpusDocument is a document entry in the E2E corpus (id, title, content).
type CorpusDocument struct {
	ID      string
	Title   string
	Content string
}

// QuestionCase defines a question and the document ID(s) that must appear
// among the retrieved sources. At least one of ExpectedDocIDs must be cited.
type QuestionCase struct {
	Question       string
	ExpectedDocIDs []string
	Description    string
}

// Corpus holds documents and question test cases for E2E tests.
type Corpus struct {
	Documents      []CorpusDocument
	Questions      []QuestionCase
	TotalDocs      int
	TotalQuestions int
}

// BuildCorpus returns a corpus of documents with varied content and question
// test cases. Each document has a unique signature phrase so questions can
// assert the correct document is retrieved.
func BuildCorpus() *Corpus {
	docs := buildDocuments()
	questions := buildQuestionCases(docs)
	return &Corpus{
		Documents:      docs,
		Questions:      questions,
		TotalDocs:      len(docs),
		TotalQuestions: len(questions),
	}
}

func buildDocuments() []CorpusDocument {
	topics := []struct {
		title   string
		content string
	}{
		{"VPN Access Guide", "VPN access requires the corporate certificate. Install the certificate from the device portal, then connect with your directory credentials. VPN access is mandatory for remote database work."},
		{"Expense Policy", "Expense reimbursement claims must be filed within thirty days. Attach receipts for every expense above twenty euros. Expense reimbursement for travel requires manager approval."},
		{"Onboarding Checklist", "New hire onboarding covers laptop setup, account provisioning, and the security training. Onboarding buddies are assigned for the first month."},
		{"Incident Runbook", "When an incident is declared, page the on-call engineer and open a tracking channel. The incident commander coordinates mitigation and writes the timeline."},
		{"Release Process", "Releases ship every Tuesday from the main branch. The release captain tags the build, runs the smoke suite, and posts the changelog."},
		{"Backup Schedule", "Database backups run nightly at 02:00 UTC and are retained for ninety days. Backup restore drills happen quarterly."},
		{"Holiday Calendar", "The holiday calendar lists company-wide days off. Regional public holidays are added per office. Holiday requests above two weeks need director sign-off."},
		{"Code Review Standards", "Every change needs one approving review before merge. Code review feedback should be actionable and kind. Large changes should be split into reviewable pieces."},
		{"Security Training", "Annual security training covers phishing, password hygiene, and data classification. Completion is tracked and required for production access."},
		{"Travel Booking", "Book business travel through the approved travel portal. Economy class applies to flights under six hours. Travel booking outside the portal is not reimbursed."},
		{"Meeting Rooms", "Meeting rooms are booked through the room panel or calendar. Rooms release automatically after ten minutes without check-in."},
		{"Laptop Refresh", "Laptops are refreshed on a three-year cycle. Refresh eligibility is shown in the device portal. Damaged laptops are replaced immediately."},
		{"Printer Setup", "Printers use the follow-me queue: print from any device and release the job at a printer with your badge."},
		{"Parking Permits", "Parking permits are issued per quarter by the facilities team. Electric vehicle charging bays are bookable by the half day."},
		{"Kubernetes Deployment", "Services deploy to the Kubernetes cluster via the delivery pipeline. Kubernetes deployment manifests live next to the service code. Rollbacks use the previous replica set."},
		{"PostgreSQL Conventions", "PostgreSQL is the default relational database. PostgreSQL schema migrations are reviewed like code and must be reversible."},
		{"Redis Caching", "Redis is used for session caching and rate limiting. Redis cache keys carry a service prefix and an explicit TTL."},
		{"Kafka Topics", "Kafka topics follow the team.domain.event naming scheme. Kafka retention defaults to seven days unless the data owner extends it."},
		{"Terraform Modules", "Infrastructure is managed with Terraform modules. Terraform state lives in the shared backend; never apply from a laptop against production."},
		{"Prometheus Alerts", "Prometheus alerts page only on user-visible symptoms. Prometheus alert rules need a linked runbook and an owning team."},
		{"API Versioning Policy", "Public APIs are versioned in the URL path. API versioning requires supporting the previous version for twelve months after deprecation."},
		{"Logging Guidelines", "Logs are structured JSON with a request identifier. Logging secrets or personal data is prohibited; scrubbing runs at the collector."},
		{"Feature Flag Usage", "Feature flags gate risky changes and enable gradual rollout. Stale feature flags are removed within one quarter of full rollout."},
		{"Error Budget Policy", "Each service has an error budget derived from its availability target. When the error budget is exhausted, feature work pauses for reliability work."},
		{"Data Retention", "Customer data retention defaults to two years after contract end. Retention exceptions require legal approval and an expiry date."},
		{"Access Requests", "Production access requests go through the access portal with a stated reason. Access grants expire after ninety days and are audited monthly."},
		{"Password Manager", "The company password manager is mandatory for shared credentials. Personal vaults are free for all employees."},
		{"Phishing Reports", "Report suspected phishing with the report button in the mail client. The security team triages phishing reports within one business day."},
		{"Remote Work Policy", "Remote work is supported from any country where the company has an entity. Remote work abroad beyond four weeks needs HR approval."},
		{"Performance Reviews", "Performance reviews run twice a year with peer feedback. Review packets include self-assessment, peer input, and manager summary."},
		{"Learning Budget", "Every employee has an annual learning budget for books, courses, and conferences. Unused learning budget does not roll over."},
		{"Referral Program", "Employee referrals earn a bonus paid after the new hire's probation. Referral candidates are flagged in the hiring tool."},
		{"Oncall Compensation", "On-call shifts are compensated per scheduled hour plus an incident uplift. Swaps are arranged in the scheduling tool."},
		{"Design Doc Template", "Significant changes start with a design doc covering goals, alternatives, and rollout. Design docs are reviewed asynchronously with a decision deadline."},
		{"Postmortem Process", "Postmortems are blameless and due within five working days of an incident. Action items get owners and due dates tracked to completion."},
		{"Style Guide Go", "Go code follows the standard formatting tools and the internal style guide. Exported symbols need doc comments; errors are wrapped with context."},
	}

	out := make([]CorpusDocument, 0, len(topics))
	for i, t := range topics {
		id := fmt.Sprintf("e2e-doc-%03d", i+1)
		out = append(out, CorpusDocument{
			ID:      id,
			Title:   t.title,
			Content: t.content,
		})
	}
	return out
}

func buildQuestionCases(docs []CorpusDocument) []QuestionCase {
	if len(docs) == 0 {
		return nil
	}
	// Each question shares distinctive vocabulary with exactly one document.
	questions := []struct {
		question string
		phrase   string
	}{
		{"how do I get VPN access for remote work", "VPN access"},
		{"what is the deadline for expense reimbursement claims", "Expense reimbursement"},
		{"what does new hire onboarding cover", "onboarding"},
		{"who coordinates mitigation during an incident", "incident commander"},
		{"when do releases ship", "Releases ship"},
		{"how long are database backups retained", "backups"},
		{"how are code review standards enforced", "Code review"},
		{"is security training required for production access", "Annual security training"},
		{"how should I book business travel", "business travel"},
		{"how are Kubernetes deployment rollbacks done", "Kubernetes deployment"},
		{"are PostgreSQL schema migrations reviewed", "PostgreSQL schema migrations"},
		{"what TTL do Redis cache keys use", "Redis cache keys"},
		{"how are Kafka topics named", "Kafka topics"},
		{"where does Terraform state live", "Terraform state"},
		{"what do Prometheus alert rules require", "Prometheus alert"},
		{"how long must a deprecated API version be supported", "versioning"},
		{"can I log personal data", "Logging"},
		{"when are stale feature flags removed", "feature flags"},
		{"what happens when the error budget is exhausted", "error budget"},
		{"how long is customer data retained", "data retention"},
		{"when do production access grants expire", "Access grants"},
		{"how do I report suspected phishing", "phishing reports"},
		{"can I work remotely from abroad", "Remote work abroad"},
		{"how often do performance reviews run", "Performance reviews"},
		{"does the learning budget roll over", "learning budget"},
		{"when are postmortems due", "Postmortems"},
	}
	var cases []QuestionCase
	for _, q := range questions {
		for _, d := range docs {
			if containsPhrase(d, q.phrase) {
				cases = append(cases, QuestionCase{
					Question:       q.question,
					ExpectedDocIDs: []string{d.ID},
					Description:    fmt.Sprintf("question %q should cite doc %s", q.question, d.ID),
				})
				break
			}
		}
	}
	return cases
}

func containsPhrase(d CorpusDocument, phrase string) bool {
	return strings.Contains(d.Title, phrase) || strings.Contains(d.Content, phrase)
}

// Texts returns the raw document contents, used to fit the local vectorizer.
func (c *Corpus) Texts() []string {
	out := make([]string, len(c.Documents))
	for i := range c.Documents {
		out[i] = c.Documents[i].Content
	}
	return out
}
