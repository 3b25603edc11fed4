package models

import (
	"strings"
	"testing"
)

func TestPriceSizeWireForm(t *testing.T) {
	var ps PriceSize
	if err := json.Unmarshal([]byte(`[1.5,220.75]`), &ps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ps.Price != 1.5 || ps.Size != 220.75 {
		t.Fatalf("ps = %+v", ps)
	}
	b, err := json.Marshal(ps)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `[1.5,220.75]` {
		t.Fatalf("marshal = %s", b)
	}
	if err := json.Unmarshal([]byte(`[1.5]`), &ps); err == nil {
		t.Fatalf("expected error for short pair")
	}
}

func TestLevelPriceSizeWireForm(t *testing.T) {
	var lps LevelPriceSize
	if err := json.Unmarshal([]byte(`[0,1.5,10]`), &lps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if lps.Level != 0 || lps.Price != 1.5 || lps.Size != 10 {
		t.Fatalf("lps = %+v", lps)
	}
	if err := json.Unmarshal([]byte(`[0,1.5]`), &lps); err == nil {
		t.Fatalf("expected error for short triple")
	}
}

func TestChangeMessageUnmarshal(t *testing.T) {
	line := `{"op":"mcm","id":2,"clk":"abc","pt":100,"ct":"SUB_IMAGE","segmentType":"SEG_START","mc":[{"id":"1.100","img":true,"rc":[{"id":7,"batb":[[0,1.5,10]],"atb":[[1.5,10]]}]}]}`
	var msg ChangeMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Op != OpMarketChange || msg.Ct != CtSubImage || msg.SegmentType != SegStart {
		t.Fatalf("envelope = %+v", msg)
	}
	rc := msg.MarketChanges[0].RunnerChanges[0]
	if rc.BestAvailableToBack[0].Price != 1.5 || rc.AvailableToBack[0].Size != 10 {
		t.Fatalf("rc = %+v", rc)
	}
}

func TestUnknownTokensDoNotFail(t *testing.T) {
	var msg ChangeMessage
	if err := json.Unmarshal([]byte(`{"op":"somethingNew","ct":"FUTURE_KIND"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Op != OpUnknown {
		t.Fatalf("op = %v, want unknown", msg.Op)
	}
	if msg.Ct != CtUpdate {
		t.Fatalf("ct = %v, want update fallback", msg.Ct)
	}
}

func TestMarshalControlOmitsClocksWhenEmpty(t *testing.T) {
	sub := &MarketSubscriptionMessage{
		Op: "marketSubscription", ID: 3,
		MarketFilter:     &MarketFilter{MarketIDs: []string{"1.100"}},
		MarketDataFilter: &MarketDataFilter{LadderLevels: 3, Fields: []string{FieldBestOffers}},
	}
	b, err := MarshalControl(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "clk") {
		t.Fatalf("fresh subscription should omit clocks: %s", s)
	}
	if !strings.Contains(s, `"ladderLevels":3`) {
		t.Fatalf("missing ladder levels: %s", s)
	}

	sub.Clk, sub.InitialClk = "c1", "i1"
	b, err = MarshalControl(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"clk":"c1"`) || !strings.Contains(string(b), `"initialClk":"i1"`) {
		t.Fatalf("resume subscription should carry clocks: %s", b)
	}
}

func TestHeartbeatDetection(t *testing.T) {
	hb := &ChangeMessage{Op: OpMarketChange, Ct: CtHeartbeat}
	if !hb.IsHeartbeat() {
		t.Fatalf("heartbeat not detected")
	}
	if (&ChangeMessage{Op: OpMarketChange}).IsHeartbeat() {
		t.Fatalf("plain update misdetected as heartbeat")
	}
}
