package executor

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/provider"
)

// Argument structs for the built-in tools. The JSON schemas handed to the
// model are reflected from these.

type accountBalanceArgs struct {
	AccountType string `json:"account_type,omitempty" jsonschema:"description=Filter to one account type,enum=checking,enum=savings,enum=credit"`
}

type transactionHistoryArgs struct {
	Days  int `json:"days,omitempty" jsonschema:"description=Look-back window in days (default 30),minimum=1"`
	Limit int `json:"limit,omitempty" jsonschema:"description=Maximum number of transactions (default 5),minimum=1"`
}

type transferFundsArgs struct {
	FromAccount string  `json:"from_account" jsonschema:"description=Source account: a full account ID or an account type (checking/savings/credit)"`
	ToAccountID string  `json:"to_account_id" jsonschema:"description=Destination account ID (use list_recipients to find it)"`
	Amount      float64 `json:"amount" jsonschema:"description=Amount to transfer,exclusiveMinimum=0"`
	Description string  `json:"description,omitempty" jsonschema:"description=Optional transfer memo"`
}

type listRecipientsArgs struct {
	Name        string `json:"name" jsonschema:"description=Partial recipient name to search for,minLength=3"`
	AccountType string `json:"account_type,omitempty" jsonschema:"description=Preferred account type of the recipient,enum=checking,enum=savings,enum=credit"`
}

type tradeOrderArgs struct {
	Symbol   string  `json:"symbol" jsonschema:"description=Ticker symbol"`
	Side     string  `json:"side" jsonschema:"description=Order side,enum=buy,enum=sell"`
	Quantity float64 `json:"quantity" jsonschema:"description=Number of shares,exclusiveMinimum=0"`
}

type loanApplicationArgs struct {
	Amount     float64 `json:"amount" jsonschema:"description=Requested loan amount,exclusiveMinimum=0"`
	Purpose    string  `json:"purpose,omitempty" jsonschema:"description=Purpose of the loan"`
	TermMonths int     `json:"term_months,omitempty" jsonschema:"description=Requested term in months,minimum=1"`
}

type ragContextArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=Retrieval query; defaults to the latest user message"`
}

type emptyArgs struct{}

// builtinSchemas maps tool name to its reflected argument schema.
var builtinSchemas = map[string]json.RawMessage{
	"get_account_balance":       schemaFor(&accountBalanceArgs{}),
	"get_transaction_history":   schemaFor(&transactionHistoryArgs{}),
	"transfer_funds":            schemaFor(&transferFundsArgs{}),
	"list_recipients":           schemaFor(&listRecipientsArgs{}),
	"get_user_profile":          schemaFor(&emptyArgs{}),
	"get_portfolio_balance":     schemaFor(&emptyArgs{}),
	"place_trade_order":         schemaFor(&tradeOrderArgs{}),
	"check_credit_score":        schemaFor(&emptyArgs{}),
	"apply_for_loan":            schemaFor(&loanApplicationArgs{}),
	"get_all_customer_accounts": schemaFor(&emptyArgs{}),
	RAGContextTool:              schemaFor(&ragContextArgs{}),
	EndSessionTool:              schemaFor(&emptyArgs{}),
}

func schemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}

// Descriptors builds adapter tool descriptors for the named tools, using the
// permission catalog for descriptions. Names without a registered handler are
// skipped.
func Descriptors(names []string, catalog *auth.Catalog) []provider.ToolDescriptor {
	out := make([]provider.ToolDescriptor, 0, len(names))
	for _, name := range names {
		schema, ok := builtinSchemas[name]
		if !ok {
			continue
		}
		description := name
		if entry, ok := catalog.Get(name); ok && entry.Description != "" {
			description = entry.Description
		}
		out = append(out, provider.ToolDescriptor{
			Name:        name,
			Description: description,
			Parameters:  schema,
		})
	}
	return out
}

// RAGDescriptor returns the retrieval-context tool descriptor.
func RAGDescriptor() provider.ToolDescriptor {
	return provider.ToolDescriptor{
		Name:        RAGContextTool,
		Description: "Retrieve relevant knowledge-base context for the current question",
		Parameters:  builtinSchemas[RAGContextTool],
	}
}
