package balance

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnrecognized is returned by Parse when no schema matches the body.
var ErrUnrecognized = errors.New("unrecognized balance response")

// Schema names which parse attempt produced a Balance.
type Schema string

const (
	SchemaCreditGrants Schema = "total_available"
	SchemaBalanceInfos Schema = "balance_infos"
	SchemaDataBalance  Schema = "data.balance"
	SchemaNumericScan  Schema = "numeric_scan"
)

// Balance is the remaining credit reported by a backend.
type Balance struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Schema   Schema  `json:"schema"`
}

type attempt struct {
	schema Schema
	parse  func(map[string]any) (Balance, bool)
}

// attempts run in order; the first match wins.
var attempts = []attempt{
	{SchemaCreditGrants, parseCreditGrants},
	{SchemaBalanceInfos, parseBalanceInfos},
	{SchemaDataBalance, parseDataBalance},
	{SchemaNumericScan, parseNumericScan},
}

// Parse extracts a balance from a provider response body.
func Parse(body []byte) (Balance, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	for _, a := range attempts {
		if b, ok := a.parse(doc); ok {
			b.Schema = a.schema
			return b, nil
		}
	}
	return Balance{}, ErrUnrecognized
}

// {"object":"credit_summary","total_available":12.5,...}
func parseCreditGrants(doc map[string]any) (Balance, bool) {
	v, ok := number(doc["total_available"])
	if !ok {
		return Balance{}, false
	}
	return Balance{Amount: v, Currency: "USD"}, true
}

// {"is_available":true,"balance_infos":[{"currency":"CNY","total_balance":"110.00"}]}
func parseBalanceInfos(doc map[string]any) (Balance, bool) {
	infos, ok := doc["balance_infos"].([]any)
	if !ok {
		return Balance{}, false
	}
	for _, item := range infos {
		info, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v, ok := number(info["total_balance"])
		if !ok {
			continue
		}
		cur, _ := info["currency"].(string)
		return Balance{Amount: v, Currency: cur}, true
	}
	return Balance{}, false
}

// {"data":{"balance":3.2,"currency":"USD"}}
func parseDataBalance(doc map[string]any) (Balance, bool) {
	data, ok := doc["data"].(map[string]any)
	if !ok {
		return Balance{}, false
	}
	v, ok := number(data["balance"])
	if !ok {
		return Balance{}, false
	}
	cur, _ := data["currency"].(string)
	return Balance{Amount: v, Currency: cur}, true
}

var balanceKeys = []string{"balance", "available", "remaining", "credit"}

// parseNumericScan walks the document breadth first, keys sorted, and takes
// the first numeric value under a balance-like key.
func parseNumericScan(doc map[string]any) (Balance, bool) {
	queue := []map[string]any{doc}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if !balanceLike(k) {
				continue
			}
			if v, ok := number(obj[k]); ok {
				cur, _ := obj["currency"].(string)
				return Balance{Amount: v, Currency: cur}, true
			}
		}
		for _, k := range keys {
			switch child := obj[k].(type) {
			case map[string]any:
				queue = append(queue, child)
			case []any:
				for _, item := range child {
					if m, ok := item.(map[string]any); ok {
						queue = append(queue, m)
					}
				}
			}
		}
	}
	return Balance{}, false
}

func balanceLike(key string) bool {
	key = strings.ToLower(key)
	for _, k := range balanceKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
