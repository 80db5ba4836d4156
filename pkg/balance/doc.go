// Package balance queries the remaining credit of a backend account.
//
// Providers answer in different shapes. Parse tries a fixed list of schemas
// in order (OpenAI credit grants, DeepSeek balance_infos, a data.balance
// envelope) and falls back to scanning for the first numeric balance-like
// field.
package balance
