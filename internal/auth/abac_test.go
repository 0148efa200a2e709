package auth

import (
	"reflect"
	"testing"
)

func premiumAttributes() map[string]any {
	return map[string]any{
		"verified":        true,
		"membership_tier": "premium",
		"region":          "domestic",
	}
}

func TestResolveDeterministic(t *testing.T) {
	resolver := NewResolver(DefaultCatalog())
	scopes := []string{"banking:read", "banking:write", "transfers:create"}
	roles := []string{"customer"}

	first := resolver.Resolve(scopes, roles, premiumAttributes())
	for i := 0; i < 10; i++ {
		again := resolver.Resolve(scopes, roles, premiumAttributes())
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("resolve not deterministic: %v vs %v", first, again)
		}
	}
	if len(first) == 0 {
		t.Fatal("expected a non-empty permitted set")
	}
}

func TestResolveScopeGate(t *testing.T) {
	resolver := NewResolver(DefaultCatalog())

	withWrite := resolver.Resolve(
		[]string{"banking:read", "banking:write", "transfers:create"},
		[]string{"customer"}, premiumAttributes())
	withoutWrite := resolver.Resolve(
		[]string{"banking:read"},
		[]string{"customer"}, premiumAttributes())

	if !contains(withWrite, "transfer_funds") {
		t.Errorf("expected transfer_funds with write scopes, got %v", withWrite)
	}
	if contains(withoutWrite, "transfer_funds") {
		t.Errorf("transfer_funds granted without banking:write: %v", withoutWrite)
	}
	if !contains(withoutWrite, "get_account_balance") {
		t.Errorf("expected get_account_balance with read scope, got %v", withoutWrite)
	}
}

func TestResolveRoleGate(t *testing.T) {
	resolver := NewResolver(DefaultCatalog())
	attrs := premiumAttributes()
	attrs["membership_tier"] = "director"

	admin := resolver.Resolve(
		[]string{"admin:read", "customers:view"},
		[]string{"admin"}, attrs)
	customer := resolver.Resolve(
		[]string{"admin:read", "customers:view"},
		[]string{"customer"}, attrs)

	if !contains(admin, "get_all_customer_accounts") {
		t.Errorf("expected admin tool for admin role, got %v", admin)
	}
	if contains(customer, "get_all_customer_accounts") {
		t.Errorf("admin tool granted to customer role: %v", customer)
	}
}

func TestResolveConditions(t *testing.T) {
	resolver := NewResolver(DefaultCatalog())
	scopes := []string{"banking:read", "banking:write", "transfers:create"}
	roles := []string{"customer"}

	unverified := premiumAttributes()
	unverified["verified"] = false
	if got := resolver.Resolve(scopes, roles, unverified); len(got) > 1 || (len(got) == 1 && got[0] != "trigger_end_session") {
		t.Errorf("unverified principal should only keep unconditional tools, got %v", got)
	}

	international := premiumAttributes()
	international["region"] = "international"
	got := resolver.Resolve(scopes, roles, international)
	if contains(got, "transfer_funds") {
		t.Errorf("transfer_funds requires domestic region, got %v", got)
	}
	if !contains(got, "get_account_balance") {
		t.Errorf("get_account_balance allows international, got %v", got)
	}

	basic := premiumAttributes()
	basic["membership_tier"] = "basic"
	got = resolver.Resolve(scopes, roles, basic)
	if contains(got, "transfer_funds") {
		t.Errorf("transfer_funds requires premium or director tier, got %v", got)
	}
	if !contains(got, "get_transaction_history") {
		t.Errorf("get_transaction_history allows basic tier, got %v", got)
	}
}

func TestResolveSorted(t *testing.T) {
	resolver := NewResolver(DefaultCatalog())
	got := resolver.Resolve(
		[]string{"banking:read", "credit:read"},
		[]string{"customer"}, premiumAttributes())
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("permitted set not sorted: %v", got)
		}
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
