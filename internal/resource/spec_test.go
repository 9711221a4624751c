package resource

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"Topic:orders", false},
		{"topic:orders-*", false},
		{"Group:consumers-*", false},
		{"Cluster:kafka-cluster", false},
		{"TransactionalId:tx-*", false},
		{"DelegationToken:tok-1", false},
		{"transactional_id:tx-1", false},
		{"kafka-cluster:prod,Topic:orders", false},
		{"kafka-cluster:prod-*,Topic:orders-*", false},
		{"Topic:orders,kafka-cluster:prod", false},

		{"", true},
		{"orders", true},
		{"Unknown:orders", true},
		{"kafka-cluster:prod", true}, // no resource part
		{"Topic:a,Topic:b", true},
		{"Topic:a,Group:b", true},
		{"kafka-cluster:a,kafka-cluster:b,Topic:c", true},
	}

	for _, tt := range tests {
		_, err := Parse(tt.pattern)
		if tt.wantErr && err == nil {
			t.Errorf("Parse(%q) expected error, got nil", tt.pattern)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.pattern, err)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		cluster string
		typ     string
		res     string
		want    bool
	}{
		{"prefix topic with cluster prefix", "kafka-cluster:prod*,Topic:orders-*", "prod-east", "TOPIC", "orders-42", true},
		{"wrong cluster", "kafka-cluster:prod*,Topic:orders-*", "dev", "TOPIC", "orders-42", false},
		{"wrong type", "kafka-cluster:prod*,Topic:orders-*", "prod-east", "GROUP", "orders-42", false},
		{"missing cluster", "kafka-cluster:prod*,Topic:orders-*", "", "TOPIC", "orders-42", false},

		{"exact name", "Topic:orders", "", "TOPIC", "orders", true},
		{"exact name mismatch", "Topic:orders", "", "TOPIC", "orders-42", false},
		{"prefix name", "Topic:orders-*", "", "TOPIC", "orders-42", true},
		{"prefix matches empty remainder", "Topic:orders-*", "", "TOPIC", "orders-", true},
		{"no cluster clause ignores cluster", "Topic:orders", "whatever", "TOPIC", "orders", true},
		{"exact cluster", "kafka-cluster:prod,Topic:orders", "prod", "TOPIC", "orders", true},
		{"exact cluster mismatch", "kafka-cluster:prod,Topic:orders", "prod-east", "TOPIC", "orders", false},

		{"empty type", "Topic:orders", "", "", "orders", false},
		{"empty name", "Topic:orders", "", "TOPIC", "", false},
		{"lowercase type does not match", "Topic:orders", "", "Topic", "orders", false},

		{"transactional id enum name", "TransactionalId:tx-*", "", "TRANSACTIONAL_ID", "tx-1", true},
		{"delegation token enum name", "DelegationToken:tok", "", "DELEGATION_TOKEN", "tok", true},
		{"group", "Group:g1", "", "GROUP", "g1", true},
		{"cluster resource", "Cluster:kafka-cluster", "", "CLUSTER", "kafka-cluster", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse(tt.pattern)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.pattern, err)
			}
			if got := spec.Match(tt.cluster, tt.typ, tt.res); got != tt.want {
				t.Errorf("Match(%q, %q, %q) = %v, want %v", tt.cluster, tt.typ, tt.res, got, tt.want)
			}
		})
	}
}

// The canonical form is a fixed point: parsing it and rendering it again
// changes nothing.
func TestCanonicalRoundTrip(t *testing.T) {
	patterns := []string{
		"Topic:orders",
		"topic:orders-*",
		"kafka-cluster:prod,Topic:orders",
		"kafka-cluster:prod-*,group:consumers-*",
		"TransactionalId:tx-*",
		"delegationtoken:tok",
		"Cluster:kafka-cluster",
	}

	for _, pattern := range patterns {
		first, err := Parse(pattern)
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", pattern, err)
		}
		canonical := first.String()

		second, err := Parse(canonical)
		if err != nil {
			t.Fatalf("Parse(%q) (canonical of %q) unexpected error: %v", canonical, pattern, err)
		}
		if second.String() != canonical {
			t.Errorf("round-trip of %q: %q != %q", pattern, second.String(), canonical)
		}
	}
}
