package articles

import "testing"

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw    string
		want   Status
		wantOK bool
	}{
		{"", StatusUnprocessed, true},
		{"done", StatusDone, true},
		{" ERROR ", StatusError, true},
		{"Skip", StatusSkip, true},
		{"pending", StatusUnprocessed, false},
	}
	for _, tc := range cases {
		got, ok := ParseStatus(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("ParseStatus(%q) = %q,%v want %q,%v", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestRetryable(t *testing.T) {
	if StatusDone.Retryable() {
		t.Fatal("DONE rows must not be retried")
	}
	for _, status := range []Status{StatusUnprocessed, StatusError, StatusSkip} {
		if !status.Retryable() {
			t.Fatalf("expected %s to be retryable", status.Label())
		}
	}
}

func TestRecordRowMatchesHeader(t *testing.T) {
	rec := Record{BusinessUnit: "웰다", Competitor: "Acme", Partner: "BetaCo", Date: "24.03.05"}
	row := rec.Row()
	if len(row) != len(RecordHeader) {
		t.Fatalf("row has %d cells, header has %d", len(row), len(RecordHeader))
	}
	if row[2] != "BetaCo" || row[6] != "24.03.05" {
		t.Fatalf("unexpected row layout: %v", row)
	}
}
