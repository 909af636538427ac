package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"compintel/internal/articles"
	"compintel/internal/services"
	"compintel/internal/services/llm"
)

func acmeBatch() Batch {
	return Batch{
		Unit:  "Acme",
		Index: 1,
		Articles: []articles.SourceArticle{
			{RowID: 2, Competitor: "Acme", Title: "Acme opens new office 24.02.01", URL: "https://news/1"},
			{RowID: 3, Competitor: "Acme", Title: "Acme and BetaCo co-develop a diabetes app 24.03.05", URL: "https://news/2"},
			{RowID: 4, Competitor: "Acme", Title: "Quarterly results", URL: "https://news/3"},
		},
	}
}

func TestReconcileFiltersSelfAndEmptyPartners(t *testing.T) {
	reply := OutputHeader + "\n" +
		"1,,Acme,Acme,제휴,Acme opens new office,\n" +
		"2,,Acme,,협약,Quarterly results,\n" +
		"3,,Acme, acme ,제휴,Quarterly results,\n" +
		"4,,Acme,BetaCo,co-development,Acme and BetaCo co-develop a diabetes app,\n"
	out := Reconcile(reply, nil, acmeBatch())
	if out.Status != articles.StatusDone {
		t.Fatalf("expected DONE, got %s (%v)", out.Status.Label(), out.Err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v", out.Records)
	}
	rec := out.Records[0]
	if rec.Partner != "BetaCo" || rec.PartnershipType != "co-development" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.SourceURL != "https://news/2" || rec.Date != "24.03.05" {
		t.Fatalf("expected matched url and date, got %+v", rec)
	}
	if rec.SourceTitle != "Acme and BetaCo co-develop a diabetes app" {
		t.Fatalf("expected date-stripped title, got %q", rec.SourceTitle)
	}
}

func TestReconcilePrefixContainment(t *testing.T) {
	batch := Batch{
		Unit: "Acme",
		Articles: []articles.SourceArticle{
			{Competitor: "Acme", Title: "Acme signs supply agreement with Gamma Pharma for the Korean market - 2024-05-02", URL: "https://news/g"},
		},
	}
	// The model kept the first 30 runes but rewrote the tail.
	asserted := "Acme signs supply agreement wi(th) Gamma, rewritten"
	reply := fmt.Sprintf("%s\n1,,Acme,Gamma Pharma,공급 계약,%q,\n", OutputHeader, asserted)
	out := Reconcile(reply, nil, batch)
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v (%v)", out.Records, out.Err)
	}
	rec := out.Records[0]
	if rec.SourceURL != "https://news/g" || rec.Date != "24.05.02" {
		t.Fatalf("prefix match failed: %+v", rec)
	}
	if rec.SourceTitle != "Acme signs supply agreement with Gamma Pharma for the Korean market" {
		t.Fatalf("unexpected title %q", rec.SourceTitle)
	}
}

func TestReconcileShortTitlesNeedFullContainment(t *testing.T) {
	batch := Batch{Unit: "Acme", Articles: []articles.SourceArticle{{Title: "Acme news A", URL: "https://a"}}}
	reply := OutputHeader + "\n1,,Acme,Delta,제휴,Acme news B,\n"
	out := Reconcile(reply, nil, batch)
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v", out.Records)
	}
	if out.Records[0].SourceURL != "" || out.Records[0].SourceTitle != "Acme news B" {
		t.Fatalf("unmatched title must be kept verbatim with a blank URL: %+v", out.Records[0])
	}
}

func TestReconcileStatuses(t *testing.T) {
	batch := acmeBatch()
	callErr := fmt.Errorf("llm call: failed after 6 attempts: %w", llm.ErrCallFailed)

	cases := []struct {
		name   string
		text   string
		err    error
		status articles.Status
	}{
		{"call failure", "", callErr, articles.StatusError},
		{"empty", "   \n", nil, articles.StatusSkip},
		{"empty fence", "```csv\n```", nil, articles.StatusSkip},
		{"header only", OutputHeader, nil, articles.StatusDone},
		{"fenced", "```csv\n" + OutputHeader + "\n1,,Acme,BetaCo,제휴,x,\n```", nil, articles.StatusDone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Reconcile(tc.text, tc.err, batch)
			if out.Status != tc.status {
				t.Fatalf("status = %s, want %s", out.Status.Label(), tc.status.Label())
			}
			if tc.status != articles.StatusDone && len(out.Records) != 0 {
				t.Fatalf("expected no records, got %+v", out.Records)
			}
		})
	}

	failed := Reconcile("", callErr, batch)
	if !errors.Is(failed.Err, llm.ErrCallFailed) {
		t.Fatalf("call error should be preserved, got %v", failed.Err)
	}
	skipped := Reconcile("```\n```", nil, batch)
	if !errors.Is(skipped.Err, services.ErrEmptyOutput) || services.FailureStatus(skipped.Err) != articles.StatusSkip {
		t.Fatalf("empty reply should carry ErrEmptyOutput, got %v", skipped.Err)
	}
	if done := Reconcile(OutputHeader, nil, batch); done.Err != nil {
		t.Fatalf("DONE outcome carries no error, got %v", done.Err)
	}
}

func TestReconcileEnglishHeaderReorderedAndShort(t *testing.T) {
	batch := acmeBatch()
	batch.Business = "웰다"
	reply := "partner,source_title,partnership_type\n" +
		"BetaCo,Acme and BetaCo co-develop a diabetes app,제휴\n"
	out := Reconcile(reply, nil, batch)
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v (%v)", out.Records, out.Err)
	}
	rec := out.Records[0]
	if rec.Partner != "BetaCo" || rec.PartnershipType != "제휴" || rec.SourceURL != "https://news/2" {
		t.Fatalf("aliases not applied: %+v", rec)
	}
	if rec.BusinessUnit != "웰다" {
		t.Fatalf("configured business unit must win, got %q", rec.BusinessUnit)
	}
	if len(out.Warnings) == 0 || !strings.Contains(out.Warnings[0], "3 columns") {
		t.Fatalf("expected short header warning, got %v", out.Warnings)
	}
}

func TestReconcileQuotedCommasAndModelBusinessUnit(t *testing.T) {
	reply := OutputHeader + "\n" +
		`1,"헬스케어, 디지털",Acme,"Beta, Inc.",공동 개발,"Quarterly results",` + "\n"
	out := Reconcile(reply, nil, acmeBatch())
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v", out.Records)
	}
	rec := out.Records[0]
	if rec.Partner != "Beta, Inc." || rec.BusinessUnit != "헬스케어, 디지털" {
		t.Fatalf("quoted fields mis-parsed: %+v", rec)
	}
	if rec.Date != "" || rec.SourceURL != "https://news/3" {
		t.Fatalf("unexpected date or url: %+v", rec)
	}
}

func TestReconcileUsesMatchedArticleCompetitor(t *testing.T) {
	batch := Batch{
		Unit:     "글루어트",
		Articles: []articles.SourceArticle{{Competitor: "글루어트(닥터다이어리)", Title: "닥터다이어리, 병원과 협약", URL: "u"}},
	}
	reply := OutputHeader + "\n1,,글루어트,서울병원,협약,닥터다이어리 병원과 협약,\n"
	out := Reconcile(reply, nil, batch)
	if len(out.Records) != 1 {
		t.Fatalf("expected one record, got %+v", out.Records)
	}
	if out.Records[0].Competitor != "글루어트" {
		// no title match: batch unit is used
		t.Fatalf("unexpected competitor %q", out.Records[0].Competitor)
	}

	reply = OutputHeader + "\n1,,글루어트,서울병원,협약,\"닥터다이어리, 병원과 협약\",\n"
	out = Reconcile(reply, nil, batch)
	if out.Records[0].Competitor != "글루어트(닥터다이어리)" {
		t.Fatalf("matched article competitor should win, got %q", out.Records[0].Competitor)
	}
}
