package resource

import (
	"fmt"
	"strings"
)

// Type enumerates the broker resource kinds a pattern can target.
type Type int

const (
	TypeUnknown Type = iota
	TypeTopic
	TypeGroup
	TypeCluster
	TypeTransactionalID
	TypeDelegationToken
)

// String returns the uppercase enum name, which is also the form Match
// compares the type argument against.
func (t Type) String() string {
	switch t {
	case TypeTopic:
		return "TOPIC"
	case TypeGroup:
		return "GROUP"
	case TypeCluster:
		return "CLUSTER"
	case TypeTransactionalID:
		return "TRANSACTIONAL_ID"
	case TypeDelegationToken:
		return "DELEGATION_TOKEN"
	default:
		return "UNKNOWN"
	}
}

// clusterSegment is the reserved segment type for the optional cluster clause.
const clusterSegment = "kafka-cluster"

func typeFromSegment(segment string) (Type, bool) {
	// accept both the compact form ("transactionalid") and the canonical
	// enum form ("transactional_id") emitted by Spec.String
	switch strings.ReplaceAll(segment, "_", "") {
	case "topic":
		return TypeTopic, true
	case "group":
		return TypeGroup, true
	case "cluster":
		return TypeCluster, true
	case "transactionalid":
		return TypeTransactionalID, true
	case "delegationtoken":
		return TypeDelegationToken, true
	default:
		return TypeUnknown, false
	}
}

// Spec is a parsed resource pattern: at most one cluster clause and exactly
// one resource clause, each either an exact name or a name prefix (trailing
// '*' in the pattern).
type Spec struct {
	clusterName       string
	clusterStartsWith bool
	hasCluster        bool

	resourceType       Type
	resourceName       string
	resourceStartsWith bool
}

func (s *Spec) ResourceType() Type       { return s.resourceType }
func (s *Spec) ResourceName() string     { return s.resourceName }
func (s *Spec) ResourceStartsWith() bool { return s.resourceStartsWith }
func (s *Spec) ClusterName() string      { return s.clusterName }
func (s *Spec) ClusterStartsWith() bool  { return s.clusterStartsWith }
func (s *Spec) HasCluster() bool         { return s.hasCluster }

// Parse parses a pattern such as "kafka-cluster:prod-*,Topic:orders-*".
// Segment types are case-insensitive.
func Parse(pattern string) (*Spec, error) {
	spec := &Spec{}
	hasResource := false

	for _, part := range strings.Split(pattern, ",") {
		segment, pat, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("parsing resource pattern %q: part %q does not follow the TYPE:NAME form", pattern, part)
		}

		segment = strings.ToLower(segment)
		if segment == clusterSegment {
			if spec.hasCluster {
				return nil, fmt.Errorf("parsing resource pattern %q: cluster part specified multiple times", pattern)
			}
			spec.hasCluster = true
			spec.clusterName, spec.clusterStartsWith = cutWildcard(pat)
			continue
		}

		if hasResource {
			return nil, fmt.Errorf("parsing resource pattern %q: resource part specified multiple times", pattern)
		}

		resourceType, ok := typeFromSegment(segment)
		if !ok {
			return nil, fmt.Errorf("parsing resource pattern %q: unsupported segment type %q", pattern, segment)
		}

		hasResource = true
		spec.resourceType = resourceType
		spec.resourceName, spec.resourceStartsWith = cutWildcard(pat)
	}

	if !hasResource {
		return nil, fmt.Errorf("parsing resource pattern %q: missing resource part", pattern)
	}
	return spec, nil
}

func cutWildcard(pat string) (name string, startsWith bool) {
	if strings.HasSuffix(pat, "*") {
		return pat[:len(pat)-1], true
	}
	return pat, false
}

// Match reports whether a specific resource is covered by this spec.
//
// If a cluster clause is present the cluster must match, otherwise the
// cluster argument is ignored. Type and name are always matched; the type is
// compared against the uppercase enum name (e.g. "TOPIC"). An empty type or
// name never matches, and neither does an empty cluster when a cluster
// clause is present.
func (s *Spec) Match(cluster, resourceType, name string) bool {
	if s.hasCluster {
		if cluster == "" {
			return false
		}
		if s.clusterStartsWith {
			if !strings.HasPrefix(cluster, s.clusterName) {
				return false
			}
		} else if cluster != s.clusterName {
			return false
		}
	}

	if resourceType == "" || name == "" {
		return false
	}
	if s.resourceType == TypeUnknown || resourceType != s.resourceType.String() {
		return false
	}

	if s.resourceStartsWith {
		return strings.HasPrefix(name, s.resourceName)
	}
	return name == s.resourceName
}

// String renders the canonical pattern form, which Parse accepts back.
func (s *Spec) String() string {
	var b strings.Builder
	if s.hasCluster {
		b.WriteString(clusterSegment)
		b.WriteString(":")
		b.WriteString(s.clusterName)
		if s.clusterStartsWith {
			b.WriteString("*")
		}
		b.WriteString(",")
	}
	b.WriteString(s.resourceType.String())
	b.WriteString(":")
	b.WriteString(s.resourceName)
	if s.resourceStartsWith {
		b.WriteString("*")
	}
	return b.String()
}
