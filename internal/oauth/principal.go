package oauth

// PrincipalTypeUser is the principal type brokers assign to authenticated
// client identities.
const PrincipalTypeUser = "User"

// MechanismOAuthBearer is the SASL mechanism name for bearer-token
// authentication.
const MechanismOAuthBearer = "OAUTHBEARER"

// Principal is the (type, name) identity used for authorization decisions.
//
// Equality and map keys are defined over (Type, Name) only: a principal
// carrying a session token is interchangeable with a same-name principal
// without one.
type Principal struct {
	Type string
	Name string

	// Token is the session token the principal was built from, if the
	// session authenticated via OAUTHBEARER. It does not participate in
	// equality.
	Token TokenPayload
}

func (p Principal) Equal(other Principal) bool {
	return p.Type == other.Type && p.Name == other.Name
}

// Key returns the map/set key for this principal.
func (p Principal) Key() string {
	return p.Type + ":" + p.Name
}

func (p Principal) String() string {
	return p.Key()
}

// AuthContext carries the outcome of session authentication, as supplied by
// the host when a principal is built.
type AuthContext struct {
	// Mechanism is the SASL mechanism the session authenticated with.
	Mechanism string

	// PrincipalType and Name identify the authenticated identity.
	PrincipalType string
	Name          string

	// Token is the validated bearer token, present when Mechanism is
	// OAUTHBEARER.
	Token TokenPayload
}

// PrincipalBuilder turns an authentication context into a principal.
// Hosts may supply their own; BuildPrincipal is the default.
type PrincipalBuilder func(ctx AuthContext) Principal

// BuildPrincipal returns the token-carrying principal for OAUTHBEARER
// sessions and a plain principal otherwise.
func BuildPrincipal(ctx AuthContext) Principal {
	principalType := ctx.PrincipalType
	if principalType == "" {
		principalType = PrincipalTypeUser
	}
	p := Principal{Type: principalType, Name: ctx.Name}
	if ctx.Mechanism == MechanismOAuthBearer {
		p.Token = ctx.Token
	}
	return p
}
