package auth

import "sort"

// ToolPermission is one catalog entry: the gates a principal must pass to
// invoke the tool.
type ToolPermission struct {
	Name           string         `json:"name"`
	RequiredScopes []string       `json:"required_scopes"`
	RequiredRoles  []string       `json:"required_roles"`
	Conditions     map[string]any `json:"conditions"`
	Description    string         `json:"description"`
}

// Catalog is the process-wide, read-only tool permission registry.
type Catalog struct {
	entries map[string]ToolPermission
	order   []string
}

// NewCatalog builds a catalog from explicit entries.
func NewCatalog(entries ...ToolPermission) *Catalog {
	c := &Catalog{entries: make(map[string]ToolPermission, len(entries))}
	for _, e := range entries {
		if _, exists := c.entries[e.Name]; !exists {
			c.order = append(c.order, e.Name)
		}
		c.entries[e.Name] = e
	}
	return c
}

// Get returns the entry for the named tool.
func (c *Catalog) Get(name string) (ToolPermission, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Names returns the tool names in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// DefaultCatalog returns the banking tool catalog with its permission gates.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ToolPermission{
			Name:           "get_account_balance",
			RequiredScopes: []string{"banking:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions: map[string]any{
				"verified": true,
				"region":   []string{"domestic", "international"},
			},
			Description: "Get account balance for checking/savings accounts",
		},
		ToolPermission{
			Name:           "get_transaction_history",
			RequiredScopes: []string{"banking:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"basic", "premium", "director"},
			},
			Description: "Get recent transaction history",
		},
		ToolPermission{
			Name:           "transfer_funds",
			RequiredScopes: []string{"banking:write", "transfers:create"},
			RequiredRoles:  []string{"customer", "advisor"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"premium", "director"},
				"region":          []string{"domestic"},
			},
			Description: "Transfer funds between accounts",
		},
		ToolPermission{
			Name:           "get_portfolio_balance",
			RequiredScopes: []string{"investments:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"premium", "director"},
			},
			Description: "Get investment portfolio balance and allocation",
		},
		ToolPermission{
			Name:           "place_trade_order",
			RequiredScopes: []string{"investments:write", "trading:execute"},
			RequiredRoles:  []string{"customer", "advisor"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"director"},
				"region":          []string{"domestic"},
			},
			Description: "Place buy/sell orders for securities",
		},
		ToolPermission{
			Name:           "check_credit_score",
			RequiredScopes: []string{"credit:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions:     map[string]any{"verified": true},
			Description:    "Check current credit score and history",
		},
		ToolPermission{
			Name:           "apply_for_loan",
			RequiredScopes: []string{"credit:apply"},
			RequiredRoles:  []string{"customer"},
			Conditions: map[string]any{
				"verified": true,
				"region":   []string{"domestic"},
			},
			Description: "Submit loan application",
		},
		ToolPermission{
			Name:           "get_all_customer_accounts",
			RequiredScopes: []string{"admin:read", "customers:view"},
			RequiredRoles:  []string{"advisor", "admin"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"director"},
			},
			Description: "Get customer account information (admin only)",
		},
		ToolPermission{
			Name:          "trigger_end_session",
			RequiredRoles: []string{"customer", "advisor", "admin"},
			Description:   "Signal that the user wants to end the banking session",
		},
		ToolPermission{
			Name:           "get_user_profile",
			RequiredScopes: []string{"banking:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions: map[string]any{
				"verified":        true,
				"membership_tier": []string{"premium", "director"},
			},
			Description: "Fetch basic profile information for the current user (premium/director tiers)",
		},
		ToolPermission{
			Name:           "list_recipients",
			RequiredScopes: []string{"banking:read"},
			RequiredRoles:  []string{"customer", "advisor", "admin"},
			Conditions:     map[string]any{"verified": true},
			Description:    "Look up recipient users by name to get their account IDs for transfers",
		},
	)
}

// Resolver evaluates the catalog against a principal's claims. It is a pure
// function of claims plus catalog: no side effects, deterministic output.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Catalog returns the underlying catalog.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve returns the sorted set of tool names the claims grant access to.
func (r *Resolver) Resolve(scopes, roles []string, attributes map[string]any) []string {
	scopeSet := toSet(scopes)
	roleSet := toSet(roles)

	var permitted []string
	for _, name := range r.catalog.Names() {
		entry, _ := r.catalog.Get(name)
		if r.allowed(entry, scopeSet, roleSet, attributes) {
			permitted = append(permitted, name)
		}
	}
	sort.Strings(permitted)
	return permitted
}

// Describe returns the catalog entries for an already-resolved tool list.
func (r *Resolver) Describe(permitted []string) []ToolPermission {
	out := make([]ToolPermission, 0, len(permitted))
	for _, name := range permitted {
		if entry, ok := r.catalog.Get(name); ok {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Resolver) allowed(entry ToolPermission, scopes, roles map[string]struct{}, attributes map[string]any) bool {
	if len(entry.RequiredScopes) > 0 && !intersects(entry.RequiredScopes, scopes) {
		return false
	}
	if len(entry.RequiredRoles) > 0 && !intersects(entry.RequiredRoles, roles) {
		return false
	}
	for key, want := range entry.Conditions {
		got := attributes[key]
		switch key {
		case "verified":
			if truthy(want) && !truthy(got) {
				return false
			}
		default:
			// Enumerated attribute: list means set membership, scalar
			// means equality.
			if !attributeMatches(got, want) {
				return false
			}
		}
	}
	return true
}

func attributeMatches(got, want any) bool {
	switch w := want.(type) {
	case []string:
		s, ok := got.(string)
		if !ok {
			return false
		}
		for _, candidate := range w {
			if s == candidate {
				return true
			}
		}
		return false
	case []any:
		for _, candidate := range w {
			if got == candidate {
				return true
			}
		}
		return false
	default:
		return got == want
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	default:
		return false
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

func intersects(required []string, have map[string]struct{}) bool {
	for _, r := range required {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}
