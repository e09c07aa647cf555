package entity_test

import (
	"encoding/json"
	"strings"
	"testing"

	"acp-broker/internal/entity"
)

func TestRequirements_UnmarshalAliases(t *testing.T) {
	cases := map[string]string{
		`{"username":"elonmusk","request_type":"twitter_analysis"}`:             "elonmusk",
		`{"account":"@vitalik","request_type":"twitter_analysis"}`:              "vitalik",
		`{"twitter_username":" cz_binance ","request_type":"twitter_analysis"}`: "cz_binance",
		`{"user":"@","request_type":"twitter_analysis"}`:                        "",
	}
	for in, want := range cases {
		var r entity.Requirements
		if err := json.Unmarshal([]byte(in), &r); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if r.Username != want {
			t.Fatalf("input %s: expected username=%q, got %q", in, want, r.Username)
		}
	}
}

func TestRequirements_Validate(t *testing.T) {
	ok := entity.Requirements{Username: "elonmusk", RequestType: entity.RequestTypeTwitterAnalysis}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	missing := entity.Requirements{RequestType: entity.RequestTypeTwitterAnalysis}
	err := missing.Validate()
	if err == nil || !strings.Contains(err.Error(), "username is required") {
		t.Fatalf("expected username is required, got %v", err)
	}

	wrongType := entity.Requirements{Username: "elonmusk", RequestType: "price_feed"}
	err = wrongType.Validate()
	if err == nil || !strings.Contains(err.Error(), "request_type") {
		t.Fatalf("expected request_type error, got %v", err)
	}

	tooLong := entity.Requirements{Username: "this_handle_is_way_too_long", RequestType: entity.RequestTypeTwitterAnalysis}
	if err := tooLong.Validate(); err == nil {
		t.Fatalf("expected error for long handle")
	}
}

func TestPhase_Ordering(t *testing.T) {
	order := []entity.Phase{
		entity.PhaseRequested, entity.PhaseNegotiating, entity.PhasePaid,
		entity.PhaseDelivered, entity.PhaseEvaluated, entity.PhaseCompleted,
	}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("expected %s after %s", order[i], order[i-1])
		}
	}
	if !entity.PhaseRejected.Terminal() || !entity.PhaseExpired.Terminal() || entity.PhasePaid.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
	if entity.Phase("bogus").Valid() {
		t.Fatalf("expected bogus phase to be invalid")
	}
}
