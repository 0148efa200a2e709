package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/canopybank/llm-gateway/internal/auth"
)

// accountTypes are the resolvable account type names.
var accountTypes = map[string]bool{
	"checking": true,
	"savings":  true,
	"credit":   true,
}

const defaultTransferDescription = "LLM initiated transfer"

// resolveAccountID maps an account designator to an account identifier. A
// 36-character identifier with four hyphens is taken verbatim; anything else
// is treated as an account type name and resolved against the principal's
// accounts.
func (e *Executor) resolveAccountID(ctx context.Context, principal *auth.Principal, designator string) (string, error) {
	designator = strings.TrimSpace(designator)
	if designator == "" {
		return "", &ToolError{Kind: ErrInvalidArgs, Message: "account designator is required"}
	}
	if len(designator) == 36 && strings.Count(designator, "-") == 4 {
		return designator, nil
	}

	typeName := strings.ToLower(designator)
	if !accountTypes[typeName] {
		return "", &ToolError{Kind: ErrInvalidArgs, Message: fmt.Sprintf("unknown account type %q, expected checking, savings, or credit", designator)}
	}
	if principal == nil {
		return "", &ToolError{Kind: ErrInvalidArgs, Message: "account type resolution requires an authenticated principal"}
	}

	accounts, err := e.finance.Accounts(ctx, principal.FinanceUserID())
	if err != nil {
		return "", err
	}
	for _, account := range accounts {
		if strings.EqualFold(account.Type, typeName) {
			return account.ID, nil
		}
	}
	return "", &ToolError{Kind: ErrInvalidArgs, Message: fmt.Sprintf("no %s account found for user", typeName)}
}

func (e *Executor) getAccountBalance(ctx context.Context, args map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	accounts, err := e.finance.Accounts(ctx, principal.FinanceUserID())
	if err != nil {
		return nil, err
	}
	if accountType := stringArg(args, "account_type"); accountType != "" {
		filtered := accounts[:0]
		for _, account := range accounts {
			if strings.EqualFold(account.Type, accountType) {
				filtered = append(filtered, account)
			}
		}
		accounts = filtered
	}
	return json.Marshal(map[string]any{"accounts": accounts})
}

func (e *Executor) getTransactionHistory(ctx context.Context, args map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	days := intArg(args, "days", 30)
	limit := intArg(args, "limit", 5)
	txns, err := e.finance.Transactions(ctx, principal.FinanceUserID(), days, limit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"transactions": txns, "days": days, "limit": limit})
}

func (e *Executor) transferFunds(ctx context.Context, args map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	from := stringArg(args, "from_account")
	toAccountID := stringArg(args, "to_account_id")
	amount := floatArg(args, "amount")
	if from == "" || toAccountID == "" {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "from_account and to_account_id are required"}
	}
	if amount <= 0 {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "amount must be positive"}
	}

	fromAccountID, err := e.resolveAccountID(ctx, principal, from)
	if err != nil {
		return nil, err
	}
	description := stringArg(args, "description")
	if description == "" {
		description = defaultTransferDescription
	}
	return e.finance.Transfer(ctx, TransferRequest{
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
		Description:   description,
	})
}

// recipient is one entry of the recipient lookup result.
type recipient struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	AccountID   string `json:"account_id"`
	AccountType string `json:"account_type"`
}

func (e *Executor) listRecipients(ctx context.Context, args map[string]any, _ *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	name := strings.TrimSpace(stringArg(args, "name"))
	if len(name) < 3 {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "name must be at least 3 characters"}
	}
	accountType := strings.ToLower(stringArg(args, "account_type"))

	users, err := e.users.Search(ctx, name)
	if err != nil {
		return nil, err
	}

	var recipients []recipient
	for _, user := range users {
		if len(user.Accounts) == 0 {
			continue
		}
		selected := user.Accounts[0]
		if accountType != "" {
			for _, account := range user.Accounts {
				if strings.EqualFold(account.Type, accountType) {
					selected = account
					break
				}
			}
		}
		recipients = append(recipients, recipient{
			UserID:      user.ID,
			Name:        user.Name,
			AccountID:   selected.ID,
			AccountType: selected.Type,
		})
	}
	return json.Marshal(map[string]any{"recipients": recipients, "count": len(recipients)})
}

func (e *Executor) getUserProfile(ctx context.Context, _ map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	return e.users.Profile(ctx, principal.FinanceUserID())
}

func (e *Executor) getPortfolioBalance(ctx context.Context, _ map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	return e.finance.Portfolio(ctx, principal.FinanceUserID())
}

func (e *Executor) placeTradeOrder(ctx context.Context, args map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	symbol := stringArg(args, "symbol")
	side := strings.ToLower(stringArg(args, "side"))
	quantity := floatArg(args, "quantity")
	if symbol == "" || (side != "buy" && side != "sell") || quantity <= 0 {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "symbol, side (buy|sell), and positive quantity are required"}
	}
	return e.finance.PlaceTrade(ctx, map[string]any{
		"userId":   principal.FinanceUserID(),
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
	})
}

func (e *Executor) checkCreditScore(ctx context.Context, _ map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	return e.finance.CreditScore(ctx, principal.FinanceUserID())
}

func (e *Executor) applyForLoan(ctx context.Context, args map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	amount := floatArg(args, "amount")
	if amount <= 0 {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "amount must be positive"}
	}
	application := map[string]any{
		"userId": principal.FinanceUserID(),
		"amount": amount,
	}
	if purpose := stringArg(args, "purpose"); purpose != "" {
		application["purpose"] = purpose
	}
	if term := intArg(args, "term_months", 0); term > 0 {
		application["termMonths"] = term
	}
	return e.finance.ApplyForLoan(ctx, application)
}

func (e *Executor) getAllCustomerAccounts(ctx context.Context, _ map[string]any, principal *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	if principal == nil {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "authenticated principal required"}
	}
	return e.finance.AllAccounts(ctx)
}

func (e *Executor) getRAGContext(ctx context.Context, args map[string]any, _ *auth.Principal, opts CallOptions) (json.RawMessage, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		query = strings.TrimSpace(opts.Query)
	}
	if query == "" {
		return nil, &ToolError{Kind: ErrInvalidArgs, Message: "no query provided and no user message to fall back to"}
	}

	k := opts.RAGTopK
	if k <= 0 {
		k = defaultRAGTopK
	}
	maxChars := opts.RAGMaxContextChars
	if maxChars <= 0 {
		maxChars = defaultRAGMaxContextChars
	}

	result, err := e.retrieval.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	contextText := result.Context
	if runes := []rune(contextText); len(runes) > maxChars {
		contextText = string(runes[:maxChars])
	}
	return json.Marshal(map[string]any{
		"context":       contextText,
		"results_count": result.ResultsCount,
	})
}

func (e *Executor) triggerEndSession(_ context.Context, _ map[string]any, _ *auth.Principal, _ CallOptions) (json.RawMessage, error) {
	return json.RawMessage(`{"status":"session_end_requested"}`), nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
