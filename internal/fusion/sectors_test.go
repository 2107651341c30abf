package fusion

import (
	"testing"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

func testMerger() *SectorMerger {
	return &SectorMerger{
		logger: logger.NewNop(),
		firPrefixes: map[string]string{
			"EDGG":     "EDGG",
			"EDGG_DKB": "EDGG",
			"LON":      "EGTT",
		},
		traconPrefixes: map[string]string{
			"NY":  "NY",
			"EDF": "EDDF-APP",
		},
	}
}

func TestBuildPrefixTable(t *testing.T) {
	boundaries := []refdata.Boundary{
		{ID: "EGTT", Prefix: "LON-LTC"},
		{ID: "EDGG", Prefix: ""},
	}

	table := buildPrefixTable(boundaries)

	if table["LON"] != "EGTT" || table["LTC"] != "EGTT" {
		t.Errorf("dash-delimited prefixes not split: %v", table)
	}
	// Empty registered prefix maps the boundary's own id to itself
	if table["EDGG"] != "EDGG" {
		t.Errorf("empty prefix should self-map, got %v", table)
	}
}

func TestMergeFacilityRouting(t *testing.T) {
	merger := testMerger()

	sessions := []*ControllerRecord{
		{Callsign: "EDGG_DKB_CTR", Facility: feed.FacilityEnroute},
		{Callsign: "EDGG_CTR", Facility: feed.FacilityEnroute},
		{Callsign: "NY_APP", Facility: feed.FacilityApproach},
		{Callsign: "EDDF_TWR", Facility: feed.FacilityTower},
		{Callsign: "EDDF_GND", Facility: feed.FacilityGround},
		{Callsign: "EDDF_ATIS", Facility: feed.FacilityTower, AtisCode: "K"},
	}

	merged := merger.Merge(sessions)

	fir, ok := merged["fir_EDGG"]
	if !ok || len(fir.Sessions) != 2 {
		t.Fatalf("fir_EDGG should hold both enroute sessions, got %+v", merged)
	}
	if fir.Kind != "fir" || fir.Prefix != "EDGG" {
		t.Errorf("fir group metadata = %s/%s", fir.Kind, fir.Prefix)
	}

	tracon, ok := merged["tracon_NY"]
	if !ok || len(tracon.Sessions) != 1 {
		t.Fatalf("tracon_NY missing, got %+v", merged)
	}

	airport, ok := merged["airport_EDDF"]
	if !ok || len(airport.Sessions) != 3 {
		t.Fatalf("airport_EDDF should hold tower, ground and ATIS, got %+v", merged)
	}
}

// Longest underscore-delimited prefix wins: EDGG_DKB_CTR must land in the
// sector registered as EDGG_DKB before falling back to EDGG.
func TestMergeLongestPrefixFirst(t *testing.T) {
	merger := testMerger()
	merger.firPrefixes["EDGG_DKB"] = "EDGG-DKB"

	merged := merger.Merge([]*ControllerRecord{
		{Callsign: "EDGG_DKB_CTR", Facility: feed.FacilityEnroute},
	})

	if _, ok := merged["fir_EDGG-DKB"]; !ok {
		t.Fatalf("longest prefix not preferred, got %+v", merged)
	}
}

func TestMergeDropsUnmatchedSectorSessions(t *testing.T) {
	merger := testMerger()

	merged := merger.Merge([]*ControllerRecord{
		{Callsign: "ZZZZ_CTR", Facility: feed.FacilityEnroute},
		{Callsign: "QQQ_APP", Facility: feed.FacilityApproach},
	})

	if len(merged) != 0 {
		t.Errorf("unmatched sector sessions must be dropped, got %+v", merged)
	}
}

// Every surviving session appears in exactly one group.
func TestMergeMembershipIsPartition(t *testing.T) {
	merger := testMerger()

	sessions := []*ControllerRecord{
		{Callsign: "EDGG_CTR", Facility: feed.FacilityEnroute},
		{Callsign: "LON_SC_CTR", Facility: feed.FacilityEnroute},
		{Callsign: "NY_APP", Facility: feed.FacilityApproach},
		{Callsign: "EGLL_TWR", Facility: feed.FacilityTower},
		{Callsign: "EGLL_DEL", Facility: feed.FacilityDelivery},
	}

	merged := merger.Merge(sessions)

	seen := map[string]int{}
	for _, group := range merged {
		for _, session := range group.Sessions {
			seen[session.Callsign]++
		}
	}
	for callsign, count := range seen {
		if count != 1 {
			t.Errorf("session %s appears in %d groups", callsign, count)
		}
	}
	if len(seen) != len(sessions) {
		t.Errorf("%d of %d sessions survived the merge", len(seen), len(sessions))
	}
}
