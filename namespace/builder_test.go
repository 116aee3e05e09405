package namespace

import "testing"

func TestBuilder(t *testing.T) {
	station := "vessels.urn:mrn:signalk:aprs:N0CALL"
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"self position", New("aprsgate", "").MQTTSelfTopic("navigation.position"), "aprsgate/vessels/self/navigation/position"},
		{"self state with selector", New("aprsgate", "boat").MQTTSelfTopic("navigation.state"), "aprsgate/boat/vessels/self/navigation/state"},
		{"station value", New("aprsgate", "").MQTTValueTopic(station, "environment.outside.temperature"), "aprsgate/vessels/urn:mrn:signalk:aprs:N0CALL/environment/outside/temperature"},
		{"delta topic", New("aprsgate", "").MQTTDeltaTopic(station), "aprsgate/deltas/" + station},
		{"mqtt health", New("aprsgate", "").MQTTHealthTopic("direwolf"), "aprsgate/tncs/direwolf/health"},
		{"mqtt status", New("aprsgate", "x").MQTTStatusTopic(), "aprsgate/x/status"},
		{"valkey deltas", New("aprsgate", "").ValkeyDeltaChannel(), "aprsgate:deltas"},
		{"valkey station", New("aprsgate", "boat").ValkeyStationKey("N0CALL"), "aprsgate:boat:stations:N0CALL"},
		{"valkey station pattern", New("aprsgate", "").ValkeyStationPattern(), "aprsgate:stations:*"},
		{"valkey health", New("aprsgate", "").ValkeyHealthKey("direwolf"), "aprsgate:tncs:direwolf:health"},
		{"valkey status", New("aprsgate", "").ValkeyStatusKey(), "aprsgate:status"},
		{"kafka deltas", New("aprsgate", "boat").KafkaDeltaTopic(), "aprsgate-boat"},
		{"kafka health", New("aprsgate", "").KafkaHealthTopic(), "aprsgate.health"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}
